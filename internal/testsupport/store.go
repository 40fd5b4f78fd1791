package testsupport

import (
	"testing"

	"bindery/internal/config"
	"bindery/internal/history"
)

// MustOpenStore opens a history store against the test config's log dir and
// registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *history.Store {
	t.Helper()
	store, err := history.Open(cfg)
	if err != nil {
		t.Fatalf("open history store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close history store: %v", err)
		}
	})
	return store
}
