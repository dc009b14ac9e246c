// Package registry holds the static set of cash-out points (ATMs and
// branches) used by the withdrawal predictor. It is loaded once and never
// mutated.
package registry

import (
	_ "embed"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed atms.yaml
var defaultATMs []byte

// Candidate statuses. Status is informational; the predictor ignores it.
const (
	StatusOnline      = "ONLINE"
	StatusOffline     = "OFFLINE"
	StatusMaintenance = "MAINTENANCE"
)

// Candidate is one cash-out point.
type Candidate struct {
	ID       string  `yaml:"id" json:"id"`
	City     string  `yaml:"city" json:"city"`
	Location string  `yaml:"location" json:"location"`
	Lat      float64 `yaml:"lat" json:"lat"`
	Lng      float64 `yaml:"lng" json:"lng"`
	Status   string  `yaml:"status,omitempty" json:"status,omitempty"`
}

type file struct {
	ATMs []Candidate `yaml:"atms"`
}

// Registry is an immutable, ordered candidate list.
type Registry struct {
	candidates []Candidate
	byCity     map[string][]Candidate
	byID       map[string]Candidate
}

// Default returns the built-in registry.
func Default() *Registry {
	r, err := Parse(defaultATMs)
	if err != nil {
		panic(fmt.Sprintf("registry: embedded atms.yaml: %v", err))
	}
	return r
}

// Load reads a registry file. An empty path returns Default().
func Load(path string) (*Registry, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry %s: %w", path, err)
	}
	r, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("registry %s: %w", path, err)
	}
	return r, nil
}

// Parse decodes {atms: [...]} YAML (or JSON) and validates every entry.
func Parse(data []byte) (*Registry, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	return New(f.ATMs)
}

// New builds a registry from candidates, preserving their order.
func New(candidates []Candidate) (*Registry, error) {
	r := &Registry{
		candidates: make([]Candidate, 0, len(candidates)),
		byCity:     make(map[string][]Candidate),
		byID:       make(map[string]Candidate, len(candidates)),
	}
	var errs []error
	for i, c := range candidates {
		c.ID = strings.TrimSpace(c.ID)
		c.Status = strings.ToUpper(strings.TrimSpace(c.Status))
		switch {
		case c.ID == "":
			errs = append(errs, fmt.Errorf("atms[%d]: id is required", i))
			continue
		case math.Abs(c.Lat) > 90 || math.Abs(c.Lng) > 180:
			errs = append(errs, fmt.Errorf("atm %s: coordinate (%v, %v) out of range", c.ID, c.Lat, c.Lng))
			continue
		}
		if _, dup := r.byID[c.ID]; dup {
			errs = append(errs, fmt.Errorf("atm %s: duplicate id", c.ID))
			continue
		}
		r.byID[c.ID] = c
		r.candidates = append(r.candidates, c)
		key := strings.ToLower(c.City)
		r.byCity[key] = append(r.byCity[key], c)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return r, nil
}

// All returns every candidate in registry order.
func (r *Registry) All() []Candidate {
	out := make([]Candidate, len(r.candidates))
	copy(out, r.candidates)
	return out
}

// ByCity returns the candidates of one city, matched case-insensitively.
func (r *Registry) ByCity(city string) []Candidate {
	src := r.byCity[strings.ToLower(strings.TrimSpace(city))]
	out := make([]Candidate, len(src))
	copy(out, src)
	return out
}

// Get looks a candidate up by id.
func (r *Registry) Get(id string) (Candidate, bool) {
	c, ok := r.byID[id]
	return c, ok
}

// Cities lists the distinct city labels, sorted.
func (r *Registry) Cities() []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range r.candidates {
		if !seen[c.City] {
			seen[c.City] = true
			out = append(out, c.City)
		}
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Len() int { return len(r.candidates) }
