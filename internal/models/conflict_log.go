// Package models provides data model definitions for HabitNexus.
package models

import "time"

// ConflictLog records a resolved local/remote pair for user awareness.
type ConflictLog struct {
	ItemID          string `json:"itemId"`
	LocalTimestamp  int64  `json:"localTimestamp"`  // epoch ms
	RemoteTimestamp int64  `json:"remoteTimestamp"` // epoch ms
	Resolution      string `json:"resolution"`      // local_wins, remote_wins
	DetectedAt      int64  `json:"detectedAt"`
}

// DetectedAtTime returns the DetectedAt as time.Time.
func (c *ConflictLog) DetectedAtTime() time.Time {
	return time.UnixMilli(c.DetectedAt)
}
