package sqlite

import (
	"context"
	"testing"
	"time"

	"etlkit/internal/storage"
)

// TestSQLiteStorageRegistrationUsesNewRepositoryHook verifies that the
// "sqlite" storage backend registered in init() uses the newRepository hook
// and that the wrappedRepo correctly propagates configuration and close
// behavior.
func TestSQLiteStorageRegistrationUsesNewRepositoryHook(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	// Save and restore global hook.
	origNewRepository := newRepository
	defer func() { newRepository = origNewRepository }()

	var (
		called   bool
		gotCfg   Config
		closed   bool
		fakeRepo = &Repository{}
	)

	newRepository = func(ctx context.Context, cfg Config) (*Repository, func(), error) {
		called = true
		gotCfg = cfg
		return fakeRepo, func() { closed = true }, nil
	}

	cfg := storage.Config{
		Kind: "sqlite",
		DSN:  "file:example.db",
		Pool: storage.Pool{
			MaxOpen:        7,
			MaxIdle:        3,
			MaxLifetime:    time.Minute,
			AcquireTimeout: 9 * time.Second,
		},
	}

	repo, err := storage.New(ctx, cfg)
	if err != nil {
		t.Fatalf("storage.New() error = %v, want nil", err)
	}

	if !called {
		t.Fatalf("newRepository hook was not called")
	}

	// Assert that we received the expected config from storage.Config.
	if gotCfg.DSN != cfg.DSN {
		t.Errorf("hook cfg.DSN = %q, want %q", gotCfg.DSN, cfg.DSN)
	}
	if gotCfg.MaxOpen != cfg.Pool.MaxOpen {
		t.Errorf("hook cfg.MaxOpen = %d, want %d", gotCfg.MaxOpen, cfg.Pool.MaxOpen)
	}
	if gotCfg.MaxIdle != cfg.Pool.MaxIdle {
		t.Errorf("hook cfg.MaxIdle = %d, want %d", gotCfg.MaxIdle, cfg.Pool.MaxIdle)
	}
	if gotCfg.MaxLifetime != cfg.Pool.MaxLifetime {
		t.Errorf("hook cfg.MaxLifetime = %v, want %v", gotCfg.MaxLifetime, cfg.Pool.MaxLifetime)
	}
	if gotCfg.PingTimeout != cfg.Pool.AcquireTimeout {
		t.Errorf("hook cfg.PingTimeout = %v, want %v", gotCfg.PingTimeout, cfg.Pool.AcquireTimeout)
	}

	// Verify the dynamic type and that the wrapped Repository is exactly the
	// fakeRepo instance returned by our hook.
	w, ok := repo.(*wrappedRepo)
	if !ok {
		t.Fatalf("storage.New() type = %T, want *wrappedRepo", repo)
	}
	if w.Repository != fakeRepo {
		t.Fatalf("wrappedRepo.Repository = %p, want %p", w.Repository, fakeRepo)
	}
	if w.closeFn == nil {
		t.Fatalf("wrappedRepo.closeFn is nil, want non-nil")
	}

	// Close should invoke our closeFn.
	repo.Close()
	if !closed {
		t.Fatalf("wrappedRepo.Close() did not invoke closeFn")
	}
}
