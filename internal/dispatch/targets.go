package dispatch

import (
	"errors"
	"fmt"
	"strings"

	"grimm.is/foldwatch/internal/registry"
)

// TargetSpec is one configured daemon endpoint.
type TargetSpec struct {
	ID       string `json:"id"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Enabled  bool   `json:"enabled"`
	Fallback bool   `json:"fallback"`
}

// Key returns the registry key of the endpoint. The target id doubles as the
// client id.
func (s TargetSpec) Key() registry.Key {
	return registry.Key{ClientID: s.ID, Host: s.Host, Port: s.Port}
}

// Targets is an immutable, ordered table of endpoints.
type Targets struct {
	byID  map[string]TargetSpec
	order []string
}

// NewTargets validates specs and builds the table.
func NewTargets(specs []TargetSpec) (*Targets, error) {
	t := &Targets{byID: make(map[string]TargetSpec, len(specs))}
	var errs []error
	for _, s := range specs {
		s.ID = strings.TrimSpace(s.ID)
		switch {
		case s.ID == "":
			errs = append(errs, errors.New("target with empty id"))
			continue
		case s.Host == "":
			errs = append(errs, fmt.Errorf("target %q: empty host", s.ID))
			continue
		case s.Port <= 0 || s.Port > 65535:
			errs = append(errs, fmt.Errorf("target %q: invalid port %d", s.ID, s.Port))
			continue
		}
		if _, dup := t.byID[s.ID]; dup {
			errs = append(errs, fmt.Errorf("duplicate target %q", s.ID))
			continue
		}
		t.byID[s.ID] = s
		t.order = append(t.order, s.ID)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return t, nil
}

// Lookup returns the target with id.
func (t *Targets) Lookup(id string) (TargetSpec, bool) {
	s, ok := t.byID[id]
	return s, ok
}

// List returns every target in configuration order.
func (t *Targets) List() []TargetSpec {
	out := make([]TargetSpec, len(t.order))
	for i, id := range t.order {
		out[i] = t.byID[id]
	}
	return out
}

// Enabled returns the enabled targets in configuration order.
func (t *Targets) Enabled() []TargetSpec {
	var out []TargetSpec
	for _, id := range t.order {
		if s := t.byID[id]; s.Enabled {
			out = append(out, s)
		}
	}
	return out
}

// Len returns the number of targets.
func (t *Targets) Len() int { return len(t.order) }
