package features

import (
	"errors"
	"fmt"
	"strings"

	"github.com/master-pd/bot-master/internal/update"
)

// Registry is the ordered, immutable set of registered features.
type Registry struct {
	features []Descriptor
	byName   map[string]int
}

// Builder assembles a Registry. Registration order is dispatch order.
type Builder struct {
	descs []Descriptor
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder { return &Builder{} }

// Add appends descriptors in order.
func (b *Builder) Add(d ...Descriptor) *Builder {
	b.descs = append(b.descs, d...)
	return b
}

// Build validates every descriptor and freezes the registry. Any invalid
// descriptor fails the whole build.
func (b *Builder) Build() (*Registry, error) {
	r := &Registry{
		features: make([]Descriptor, 0, len(b.descs)),
		byName:   make(map[string]int, len(b.descs)),
	}
	var errs []error
	for i, d := range b.descs {
		if err := validate(d); err != nil {
			errs = append(errs, fmt.Errorf("feature #%d %q: %w", i, d.Name, err))
			continue
		}
		if _, dup := r.byName[d.Name]; dup {
			errs = append(errs, fmt.Errorf("feature #%d %q: duplicate name", i, d.Name))
			continue
		}
		r.byName[d.Name] = len(r.features)
		r.features = append(r.features, freeze(d))
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return r, nil
}

func validate(d Descriptor) error {
	if strings.TrimSpace(d.Name) == "" {
		return errors.New("empty name")
	}
	if d.Handler == nil {
		return errors.New("nil handler")
	}
	if len(d.Events) == 0 {
		return errors.New("no event kinds")
	}
	for _, k := range d.Events {
		if k != update.KindAny && !k.Valid() {
			return fmt.Errorf("unknown event kind %q", k)
		}
	}
	if d.Command != "" {
		if strings.HasPrefix(d.Command, "/") || strings.ContainsAny(d.Command, " \t\n@") {
			return fmt.Errorf("invalid command %q", d.Command)
		}
	}
	return nil
}

// freeze copies the slices so callers cannot mutate a registered descriptor.
func freeze(d Descriptor) Descriptor {
	d.Events = append([]update.Kind(nil), d.Events...)
	d.Permissions = append([]string(nil), d.Permissions...)
	d.Command = strings.ToLower(d.Command)
	return d
}

// Len returns the number of registered features.
func (r *Registry) Len() int { return len(r.features) }

// Features returns a copy of the descriptors in registration order.
func (r *Registry) Features() []Descriptor {
	return append([]Descriptor(nil), r.features...)
}

// Lookup returns the descriptor with the given name.
func (r *Registry) Lookup(name string) (Descriptor, bool) {
	i, ok := r.byName[name]
	if !ok {
		return Descriptor{}, false
	}
	return r.features[i], true
}

// Summary is the public listing entry for a feature.
type Summary struct {
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Version     string        `json:"version,omitempty"`
	Events      []update.Kind `json:"events"`
	Command     string        `json:"command,omitempty"`
	Permissions []string      `json:"permissions,omitempty"`
}

// Summaries lists the registered features for status endpoints.
func (r *Registry) Summaries() []Summary {
	out := make([]Summary, len(r.features))
	for i, d := range r.features {
		out[i] = Summary{
			Name:        d.Name,
			Description: d.Description,
			Version:     d.Version,
			Events:      d.Events,
			Command:     d.Command,
			Permissions: d.Permissions,
		}
	}
	return out
}
