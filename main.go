// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
)

func main() {
	fmt.Println("🎫 go-pointcard - Offline-First Point Card Cache and Sync")
	fmt.Println("========================================================")
	fmt.Println()
	fmt.Println("go-pointcard records point grants, ticket uses and design grants on the device")
	fmt.Println("first and replays them exactly once against a PostgreSQL point ledger.")
	fmt.Println()

	fmt.Println("📚 Available Examples:")
	fmt.Println()
	fmt.Println("1. 🌐 Ledger Server (examples/ledger_server/)")
	fmt.Println("   The remote point ledger over net/http with JWT auth")
	fmt.Println("   Features: idempotent history, ticket compare-and-swap, group retention job")
	fmt.Println("   Run: cd examples/ledger_server && go run .")
	fmt.Println()

	fmt.Println("2. 📱 Scanner CLI (examples/scanner_cli/)")
	fmt.Println("   Counter-side terminal backed by the SQLite device store")
	fmt.Println("   Features: offline scans, pending queue, sync, ledger verification")
	fmt.Println("   Run: cd examples/scanner_cli && go run . grant alice 10 --jwt-secret dev")
	fmt.Println()
}
