// Package pointsqlite is the on-device side of the point card: a SQLite mirror of the
// fan-club ledger, the pending scan log that must survive until the remote ledger has
// accepted each scan, and the synchronizer that drains it.
//
// Local writes never wait for the network. Every scan is first appended to the pending
// log and projected into the local membership mirror inside one SQLite transaction; the
// synchronizer later replays the log against the remote ledger exactly once.
// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package pointsqlite
