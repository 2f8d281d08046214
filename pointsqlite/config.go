// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package pointsqlite

import (
	"fmt"
	"time"

	"github.com/mobiletoly/go-pointcard/pointsync"
)

// Config holds configuration for the device client
type Config struct {
	DefaultGroupID      int64         // group used when no group is selected
	RetainSyncedEntries bool          // keep confirmed entries flagged synced instead of deleting them
	HistoryBatchSize    int           // history records per remote insert
	ImmediateSync       bool          // try to sync each scan right after recording it
	MaxStoreResets      int           // delete-and-recreate attempts when the store will not open
	HTTPTimeout         time.Duration // remote request timeout

	StageMetrics    pointsync.StageMetricsRecorder
	LogStageTimings bool
}

// DefaultConfig returns the configuration used when nil is passed
func DefaultConfig() *Config {
	return &Config{
		DefaultGroupID:   pointsync.DefaultGroupID,
		HistoryBatchSize: 200,
		ImmediateSync:    true,
		MaxStoreResets:   DefaultMaxStoreResets,
		HTTPTimeout:      30 * time.Second,
	}
}

func (c *Config) validate() error {
	if c.DefaultGroupID <= 0 {
		return fmt.Errorf("config.DefaultGroupID must be positive")
	}
	if c.HistoryBatchSize < 0 {
		return fmt.Errorf("config.HistoryBatchSize must not be negative")
	}
	if c.MaxStoreResets < 0 {
		return fmt.Errorf("config.MaxStoreResets must not be negative")
	}
	return nil
}
