package config

import "time"

// Server defaults
const (
	DefaultMaxStorageGB = 1
	DefaultMaxMemoryMB  = 48
)

// Retention and GC intervals
const (
	CompactionInterval = 1 * time.Hour
	BadgerGCInterval   = 10 * time.Minute
)

// Query timeouts and defaults
const (
	QueryDefaultStep   = 15 * time.Second
	QueryDefaultWindow = 1 * time.Hour
)

// WebSocket configuration
const (
	WSReadBufferSize  = 1024
	WSWriteBufferSize = 1024
	WSBroadcastBuffer = 256
	WSChannelBuffer   = 10
	WSWriteDeadline   = 10 * time.Second
	WSReadDeadline    = 60 * time.Second
	WSPingInterval    = 30 * time.Second
)
