package mysql

import "time"

// Config holds MySQL repository configuration.
type Config struct {
	DSN         string
	MaxOpen     int
	MaxIdle     int
	MaxLifetime time.Duration
	PingTimeout time.Duration
}
