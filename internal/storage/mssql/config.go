package mssql

import "time"

// Config holds MSSQL repository configuration.
type Config struct {
	DSN         string
	MaxOpen     int
	MaxIdle     int
	MaxLifetime time.Duration
	PingTimeout time.Duration
}
