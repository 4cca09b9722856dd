package factory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/issuepilot/issuepilot/internal/storage/memory"
	"github.com/issuepilot/issuepilot/internal/storage/sqlstore"
)

func TestOpenSelectsBackend(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, "memory")
	if err != nil {
		t.Fatalf("Open(memory) = %v", err)
	}
	if _, ok := s.(*memory.Store); !ok {
		t.Errorf("Open(memory) returned %T", s)
	}

	path := filepath.Join(t.TempDir(), "pilot.db")
	s, err = Open(ctx, path)
	if err != nil {
		t.Fatalf("Open(bare path) = %v", err)
	}
	if _, ok := s.(*sqlstore.Store); !ok {
		t.Errorf("Open(bare path) returned %T", s)
	}
	_ = s.Close()

	s, err = Open(ctx, "sqlite:"+filepath.Join(t.TempDir(), "explicit.db"))
	if err != nil {
		t.Fatalf("Open(sqlite:) = %v", err)
	}
	if _, ok := s.(*sqlstore.Store); !ok {
		t.Errorf("Open(sqlite:) returned %T", s)
	}
	_ = s.Close()

	if _, err := Open(ctx, ""); err == nil {
		t.Error("Open(\"\") succeeded, want error")
	}
}
