package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Websocket connection settings
const (
	WSWriteWait      = 10 * time.Second
	WSPongWait       = 60 * time.Second
	WSPingPeriod     = (WSPongWait * 9) / 10
	WSMaxMessageSize = 64 * 1024
	WSSendBuffer     = 256
)

// Per-event processing budget, including persistence round trips.
const EventTimeout = 10 * time.Second

// Background job intervals
const (
	StaleCallSweepInterval = time.Minute
	StaleCallSweepTimeout  = 30 * time.Second
)

// Redis pubsub subscription acknowledgement timeout
const RedisSubscribeTimeout = 5 * time.Second

// Rate limit window for inbound events
const RateLimitWindow = time.Minute
