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
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerWriteTimeout    = 90 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Background maintenance interval
const MaintenanceJobInterval = 1 * time.Minute

// Outbound platform adapter call timeout
const AdapterCallTimeout = 30 * time.Second

// Rate limit windows
const (
	DailyWindow  = 24 * time.Hour
	HourlyWindow = 1 * time.Hour
)

// How long an "in progress" attempt counter survives without movement.
const InProgressTTL = 30 * time.Minute

// Execution log retention
const ExecutionLogRetention = 30 * 24 * time.Hour

// RPC client defaults
const (
	RPCMaxAttempts     = 5
	RPCBaseDelay       = 500 * time.Millisecond
	RPCMaxDelay        = 30 * time.Second
	RPCRequestTimeout  = 30 * time.Second
	TokenRefreshMargin = 5 * time.Minute
	RPCJitterFraction  = 0.25
)
