package demo

import (
	"os"
	"path/filepath"
	"testing"
)

func TestBuiltinCatalog(t *testing.T) {
	c := Builtin()
	if len(c.Characters) != 3 || c.Characters[0].Name != "Aria" {
		t.Fatalf("unexpected characters %+v", c.Characters)
	}
	if len(c.Scenarios) != 4 || c.Scenarios[3].Name != "Evening Stroll" {
		t.Fatalf("unexpected scenarios %+v", c.Scenarios)
	}
	if len(c.Replies) != 4 {
		t.Fatalf("expected 4 replies, got %d", len(c.Replies))
	}
}

func TestReplyUsesPicker(t *testing.T) {
	p := NewPolicy(true, Catalog{})
	p.Intn = func(n int) int { return n - 1 }
	if got := p.Reply(); got != p.Catalog.Replies[3] {
		t.Fatalf("unexpected reply %q", got)
	}
}

func TestLoadKeepsMissingSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte("replies:\n  - custom\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(c.Replies) != 1 || c.Replies[0] != "custom" || len(c.Characters) != 3 {
		t.Fatalf("unexpected catalog %+v", c)
	}
}
