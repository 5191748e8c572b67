package theme

import (
	"sort"
	"strings"
	"sync"
)

const ClassDark = "dark"

// Root is the rendering root of one user's surface. Renderers read its classes
// to pick a palette; the session store writes the dark class synchronously.
type Root struct {
	mu      sync.RWMutex
	classes map[string]struct{}
}

func NewRoot() *Root {
	return &Root{classes: map[string]struct{}{}}
}

// Apply sets or clears the dark class. A nil root has nothing to paint.
func (r *Root) Apply(dark bool) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if dark {
		r.classes[ClassDark] = struct{}{}
		return
	}
	delete(r.classes, ClassDark)
}

func (r *Root) HasClass(name string) bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.classes[name]
	return ok
}

func (r *Root) Dark() bool {
	return r.HasClass(ClassDark)
}

// ClassList returns classes in a stable order, space separated.
func (r *Root) ClassList() string {
	if r == nil {
		return ""
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.classes))
	for c := range r.classes {
		out = append(out, c)
	}
	sort.Strings(out)
	return strings.Join(out, " ")
}

// Palette holds the glyphs a text surface uses for the current theme.
type Palette struct {
	ToggleLabel string
	Bullet      string
	UserPrefix  string
	AIPrefix    string
}

func (r *Root) Palette() Palette {
	if r.Dark() {
		return Palette{ToggleLabel: "☀️ Light mode", Bullet: "▪️", UserPrefix: "🌑 You", AIPrefix: "🌙"}
	}
	return Palette{ToggleLabel: "🌙 Dark mode", Bullet: "▫️", UserPrefix: "🙂 You", AIPrefix: "💬"}
}
