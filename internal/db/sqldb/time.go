package sqldb

import "time"

// Timestamps are stored as unix microseconds in BIGINT columns so both
// dialects sort and compare them the same way.

// NowMicros returns the current time in unix microseconds.
func NowMicros() int64 { return time.Now().UTC().UnixMicro() }

// ToMicros converts t to unix microseconds.
func ToMicros(t time.Time) int64 { return t.UTC().UnixMicro() }

// FromMicros converts unix microseconds to a UTC time.
func FromMicros(us int64) time.Time { return time.UnixMicro(us).UTC() }
