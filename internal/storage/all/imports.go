// Package all wires all built-in storage backends into the storage factory.
//
// This package exists purely for side effects: importing it (even as a blank
// import) causes the init functions of each concrete storage backend to run,
// which in turn register their factories with the storage package.
//
// In other words, importing this package makes the following storage kinds
// available at runtime:
//
//   - "postgres" (etlkit/internal/storage/postgres)
//   - "mssql"    (etlkit/internal/storage/mssql)
//   - "mysql"    (etlkit/internal/storage/mysql)
//   - "sqlite"   (etlkit/internal/storage/sqlite)
//
// Typical usage (in cmd/etlkit/main.go or a similar wiring layer):
//
//	package main
//
//	import (
//	    "context"
//
//	    _ "etlkit/internal/storage/all" // enable all built-in backends
//
//	    "etlkit/internal/engine"
//	    "etlkit/internal/storage"
//	)
//
//	func main() {
//	    ctx := context.Background()
//
//	    engines := engine.NewRegistry(map[string]engine.Alias{
//	        "dwh": {Kind: "postgres"},
//	    })
//	    defer engines.DisposeAll()
//
//	    repo, err := engines.Get(ctx, "dwh")
//	    if err != nil {
//	        // handle error
//	    }
//	    // From this point on, the caller can remain fully backend-agnostic.
//	    // Reads and writes all go through the storage.Repository interface,
//	    // regardless of which backend serves the alias.
//	    _ = repo
//	    _ = storage.ListKinds()
//	}
//
// This pattern keeps backend-specific wiring in a single, small package and
// allows the rest of the application (engine registry, table sync, jobs, CLI)
// to depend only on the storage abstraction rather than individual backends.
//
// Note: if you want a binary that supports only a subset of backends, you can
// define alternative wiring packages that import only the required backends
// instead of this package.
package all

import (
	_ "etlkit/internal/storage/mssql"
	_ "etlkit/internal/storage/mysql"
	_ "etlkit/internal/storage/postgres"
	_ "etlkit/internal/storage/sqlite"
)
