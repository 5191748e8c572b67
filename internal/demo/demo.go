package demo

import (
	_ "embed"
	"fmt"
	"math/rand/v2"
	"os"

	"gopkg.in/yaml.v3"

	"ikasa/internal/session"
)

//go:embed catalog.yaml
var builtin []byte

// Catalog is the offline content used when the backend cannot serve the funnel.
type Catalog struct {
	Characters []session.Character `yaml:"characters"`
	Scenarios  []session.Scenario  `yaml:"scenarios"`
	Replies    []string            `yaml:"replies"`
}

func Builtin() Catalog {
	c, err := Parse(builtin)
	if err != nil {
		panic(fmt.Sprintf("embedded demo catalog: %v", err))
	}
	return c
}

// Load reads a catalog file. Sections missing from the file keep the built-in content.
func Load(path string) (Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, fmt.Errorf("read demo catalog: %w", err)
	}
	c, err := Parse(raw)
	if err != nil {
		return Catalog{}, err
	}
	def := Builtin()
	if len(c.Characters) == 0 {
		c.Characters = def.Characters
	}
	if len(c.Scenarios) == 0 {
		c.Scenarios = def.Scenarios
	}
	if len(c.Replies) == 0 {
		c.Replies = def.Replies
	}
	return c, nil
}

func Parse(raw []byte) (Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return Catalog{}, fmt.Errorf("decode demo catalog: %w", err)
	}
	return c, nil
}

// Policy decides whether a failed gateway call may be masked with demo content.
type Policy struct {
	Enabled bool
	Catalog Catalog
	// Intn is swapped in tests.
	Intn func(n int) int
}

func NewPolicy(enabled bool, catalog Catalog) Policy {
	if len(catalog.Characters) == 0 && len(catalog.Scenarios) == 0 && len(catalog.Replies) == 0 {
		catalog = Builtin()
	}
	return Policy{Enabled: enabled, Catalog: catalog, Intn: rand.IntN}
}

func (p Policy) Characters() []session.Character {
	return append([]session.Character(nil), p.Catalog.Characters...)
}

func (p Policy) Scenarios() []session.Scenario {
	return append([]session.Scenario(nil), p.Catalog.Scenarios...)
}

func (p Policy) Reply() string {
	if len(p.Catalog.Replies) == 0 {
		return "I'm here for you. What would you like to talk about?"
	}
	intn := p.Intn
	if intn == nil {
		intn = rand.IntN
	}
	return p.Catalog.Replies[intn(len(p.Catalog.Replies))]
}
