package testutil

import (
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/aibtcc/aibtcc-go/internal/store"
)

// Logger returns a logger that stays quiet under go test.
func Logger() *zap.Logger {
	return zap.NewNop()
}

// OpenStore opens a throwaway store in a temp directory, closed with the test.
func OpenStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "chain.db"), Logger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// Address returns a syntactically valid 30-char test address built from c.
func Address(c byte) string {
	return strings.Repeat(string(c), 30)
}
