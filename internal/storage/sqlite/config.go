package sqlite

import "time"

// Config holds SQLite-specific settings for NewRepository.
type Config struct {
	// DSN is passed to database/sql; for example:
	//
	//	"file:etl.db?cache=shared&_fk=1"
	//	"etl.db"
	//	":memory:"
	DSN string

	// Pool bounds applied to the database/sql handle. In-memory databases
	// are pinned to a single connection regardless, since each connection
	// would otherwise see its own private database.
	MaxOpen     int
	MaxIdle     int
	MaxLifetime time.Duration

	// PingTimeout bounds the liveness check at open; zero means 5s.
	PingTimeout time.Duration
}
