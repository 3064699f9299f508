package cli

import (
	"path/filepath"
	"testing"

	"github.com/rcliao/consult-recorder/internal/chunkstore"
	"github.com/rcliao/consult-recorder/internal/config"
	"github.com/rcliao/consult-recorder/internal/store"
)

func withConfig(t *testing.T, c *config.Config) {
	t.Helper()
	prev := cfg
	cfg = c
	t.Cleanup(func() { cfg = prev })
}

func TestOpenBackends(t *testing.T) {
	dir := t.TempDir()
	withConfig(t, &config.Config{
		Storage: config.StorageConfig{Backend: "fs", Dir: filepath.Join(dir, "chunks")},
		State:   config.StateConfig{Backend: "sqlite", DB: filepath.Join(dir, "state.db")},
	})

	st, err := openState()
	if err != nil {
		t.Fatalf("open state: %v", err)
	}
	if _, ok := st.(*store.SQLiteStore); !ok {
		t.Errorf("expected sqlite state, got %T", st)
	}
	st.Close()

	cs, err := openChunkStore()
	if err != nil {
		t.Fatalf("open chunk store: %v", err)
	}
	if _, ok := cs.(*chunkstore.FSStore); !ok {
		t.Errorf("expected fs store, got %T", cs)
	}
}

func TestOpenMemoryBackends(t *testing.T) {
	withConfig(t, &config.Config{
		Storage: config.StorageConfig{Backend: "memory"},
		State:   config.StateConfig{Backend: "memory"},
	})

	st, err := openState()
	if err != nil {
		t.Fatalf("open state: %v", err)
	}
	defer st.Close()
	if _, ok := st.(*store.SQLiteStore); ok {
		t.Error("expected in-memory state")
	}
	if _, err := openSQLite(); err == nil {
		t.Error("offline inspection should require sqlite state")
	}
	cs, err := openChunkStore()
	if err != nil {
		t.Fatalf("open chunk store: %v", err)
	}
	if _, ok := cs.(*chunkstore.MemStore); !ok {
		t.Errorf("expected memory store, got %T", cs)
	}
}

func TestCommandsRegistered(t *testing.T) {
	want := []string{"serve", "sessions", "chunks", "stats", "export"}
	for _, name := range want {
		if cmd, _, err := RootCmd.Find([]string{name}); err != nil || cmd.Name() != name {
			t.Errorf("command %q not registered", name)
		}
	}
	for _, sub := range []string{"list", "show", "sweep"} {
		if cmd, _, err := RootCmd.Find([]string{"sessions", sub}); err != nil || cmd.Name() != sub {
			t.Errorf("sessions %s not registered", sub)
		}
	}
}
