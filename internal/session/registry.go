package session

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"ikasa/internal/theme"
)

// Entry is one user's live session: the store, its theme root and the lock
// that serializes that user's updates.
type Entry struct {
	UserID int64
	Store  *Store
	Theme  *theme.Root

	mu sync.Mutex
}

func (e *Entry) Lock()   { e.mu.Lock() }
func (e *Entry) Unlock() { e.mu.Unlock() }

// Unlocked runs fn with the entry lock released and takes it again before
// returning. The caller must hold the lock.
func (e *Entry) Unlocked(fn func()) {
	e.mu.Unlock()
	defer e.mu.Lock()
	fn()
}

type RegistryConfig struct {
	Persister Persister
	Sealer    Sealer
	Size      int
	Logger    zerolog.Logger
	// OnOpen runs once for each freshly opened entry, before it is handed out.
	OnOpen func(*Entry)
}

type Registry struct {
	cfg   RegistryConfig
	mu    sync.Mutex
	cache *lru.Cache[int64, *Entry]
}

func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Persister == nil {
		return nil, fmt.Errorf("registry persister is nil")
	}
	if cfg.Size <= 0 {
		cfg.Size = 10000
	}
	cache, err := lru.New[int64, *Entry](cfg.Size)
	if err != nil {
		return nil, fmt.Errorf("new session cache: %w", err)
	}
	return &Registry{cfg: cfg, cache: cache}, nil
}

func (r *Registry) Get(ctx context.Context, userID int64) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.cache.Get(userID); ok {
		return e, nil
	}

	root := theme.NewRoot()
	store, err := Open(ctx, Options{
		Key:       RecordKey(userID),
		Persister: r.cfg.Persister,
		Sealer:    r.cfg.Sealer,
		Theme:     root,
		Logger:    r.cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	e := &Entry{UserID: userID, Store: store, Theme: root}
	if r.cfg.OnOpen != nil {
		r.cfg.OnOpen(e)
	}
	r.cache.Add(userID, e)
	return e, nil
}

// Each visits every loaded entry. Entries that are not loaded rehydrate with a
// pending session and are re-checked on their next navigation.
func (r *Registry) Each(fn func(*Entry)) {
	r.mu.Lock()
	entries := r.cache.Values()
	r.mu.Unlock()
	for _, e := range entries {
		fn(e)
	}
}

func (r *Registry) Len() int {
	return r.cache.Len()
}
