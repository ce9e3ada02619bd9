package postgres

import "time"

// Config holds Postgres repository configuration.
type Config struct {
	DSN             string        // connection string for pgxpool
	MaxConns        int32         // pool ceiling; 0 keeps the pgxpool default
	MaxConnLifetime time.Duration // recycle connections after this age
	PingTimeout     time.Duration // bound on the connectivity check in NewRepository
}
