package units

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

// ErrUnknownArchetype is returned when a catalog lookup misses.
var ErrUnknownArchetype = errors.New("unknown archetype")

type catalogFile struct {
	Archetypes []archetypeEntry `yaml:"archetypes"`
}

type archetypeEntry struct {
	Name          string   `yaml:"name"`
	DisplayName   string   `yaml:"display_name"`
	Description   string   `yaml:"description"`
	Icon          string   `yaml:"icon"`
	Health        float64  `yaml:"health"`
	Protection    float64  `yaml:"protection"`
	Damage        float64  `yaml:"damage"`
	Cost          float64  `yaml:"cost"`
	Range         int      `yaml:"range"`
	Power         int      `yaml:"power"`
	Special       string   `yaml:"special"`
	SpecialChance int      `yaml:"special_chance"`
	Capabilities  []string `yaml:"capabilities"`
}

// Catalog holds the stat blocks of every known archetype.
type Catalog struct {
	order  []Archetype
	byName map[string]Stats
}

// DefaultCatalog parses the embedded catalog.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultCatalogYAML)
}

// LoadCatalog reads a catalog from a YAML file. An empty path yields the
// embedded default.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	cat, err := ParseCatalog(data)
	if err != nil {
		return nil, fmt.Errorf("parse catalog %s: %w", path, err)
	}
	return cat, nil
}

// ParseCatalog decodes and validates catalog YAML.
func ParseCatalog(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if len(file.Archetypes) == 0 {
		return nil, errors.New("catalog has no archetypes")
	}

	cat := &Catalog{byName: make(map[string]Stats, len(file.Archetypes))}
	for i, entry := range file.Archetypes {
		stats, err := entry.toStats()
		if err != nil {
			return nil, fmt.Errorf("archetype %d (%s): %w", i, entry.Name, err)
		}
		key := strings.ToLower(string(stats.Archetype))
		if _, dup := cat.byName[key]; dup {
			return nil, fmt.Errorf("duplicate archetype %s", stats.Archetype)
		}
		cat.byName[key] = stats
		cat.order = append(cat.order, stats.Archetype)
	}
	return cat, nil
}

func (e archetypeEntry) toStats() (Stats, error) {
	name := strings.TrimSpace(e.Name)
	if name == "" {
		return Stats{}, errors.New("missing name")
	}
	if e.Health <= 0 {
		return Stats{}, fmt.Errorf("health must be positive, got %v", e.Health)
	}
	if e.Protection < 0 || e.Protection >= 1 {
		return Stats{}, fmt.Errorf("protection must be in [0,1), got %v", e.Protection)
	}
	if e.Damage < 0 {
		return Stats{}, fmt.Errorf("damage must not be negative, got %v", e.Damage)
	}
	if e.Cost < 0 {
		return Stats{}, fmt.Errorf("cost must not be negative, got %v", e.Cost)
	}
	if e.SpecialChance < 0 || e.SpecialChance > 100 {
		return Stats{}, fmt.Errorf("special_chance must be in [0,100], got %d", e.SpecialChance)
	}
	special, err := parseSpecial(e.Special)
	if err != nil {
		return Stats{}, err
	}
	caps, err := parseCapabilities(e.Capabilities)
	if err != nil {
		return Stats{}, err
	}

	display := e.DisplayName
	if display == "" {
		display = name
	}
	return Stats{
		Archetype:     Archetype(name),
		DisplayName:   display,
		Description:   e.Description,
		Icon:          e.Icon,
		Health:        e.Health,
		Protection:    e.Protection,
		Damage:        e.Damage,
		Cost:          e.Cost,
		Range:         e.Range,
		Power:         e.Power,
		SpecialChance: e.SpecialChance,
		Special:       special,
		Capabilities:  caps,
	}, nil
}

// Lookup finds an archetype by name, ignoring case.
func (c *Catalog) Lookup(name string) (Stats, error) {
	stats, ok := c.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Stats{}, fmt.Errorf("%w: %q", ErrUnknownArchetype, name)
	}
	return stats, nil
}

// Archetypes returns the archetypes in catalog order.
func (c *Catalog) Archetypes() []Archetype {
	out := make([]Archetype, len(c.order))
	copy(out, c.order)
	return out
}

// Purchasable returns the archetypes that can attack, sorted by cost then name.
// Obstacles are excluded from random rosters.
func (c *Catalog) Purchasable() []Stats {
	out := make([]Stats, 0, len(c.order))
	for _, a := range c.order {
		stats := c.byName[strings.ToLower(string(a))]
		if stats.Capabilities&CapAttacker != 0 {
			out = append(out, stats)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Cost != out[j].Cost {
			return out[i].Cost < out[j].Cost
		}
		return out[i].Archetype < out[j].Archetype
	})
	return out
}

// Cheapest returns the lowest cost purchasable archetype.
func (c *Catalog) Cheapest() (Stats, bool) {
	p := c.Purchasable()
	if len(p) == 0 {
		return Stats{}, false
	}
	return p[0], true
}
