// Package trace provides types for structured resolver/lookup event collection.
package trace

import (
	"time"

	"github.com/google/uuid"
)

// Tag represents a trace event category.
// Tags are stored without # prefix; the prefix is added on rendering.
type Tag string

// Standard tags for trace events.
const (
	Resolve    Tag = "resolve"
	Needed     Tag = "needed"
	Lookup     Tag = "lookup"
	Conflict   Tag = "conflict"
	TLS        Tag = "tls"
	Version    Tag = "version"
	NotFound   Tag = "notfound"
	Reloc      Tag = "reloc"
	Unique     Tag = "unique"
	Protected  Tag = "protected"
	CopyReloc  Tag = "copyreloc"
	Diagnostic Tag = "diag"
)

// Tags is a collection of tags with helper methods.
type Tags []Tag

// Has returns true if the tag collection contains the given tag.
func (t Tags) Has(tag Tag) bool {
	for _, x := range t {
		if x == tag {
			return true
		}
	}
	return false
}

// Add adds a tag if not already present.
func (t *Tags) Add(tag Tag) {
	if !t.Has(tag) {
		*t = append(*t, tag)
	}
}

// Strings returns tags as strings with # prefix for display.
func (t Tags) Strings() []string {
	out := make([]string, len(t))
	for i, tag := range t {
		out[i] = "#" + string(tag)
	}
	return out
}

// Raw returns tags as strings without # prefix.
func (t Tags) Raw() []string {
	out := make([]string, len(t))
	for i, tag := range t {
		out[i] = string(tag)
	}
	return out
}

// Primary returns the first tag or empty string if none.
func (t Tags) Primary() Tag {
	if len(t) > 0 {
		return t[0]
	}
	return ""
}

// Annotations holds key-value metadata for trace events.
type Annotations map[string]string

// Set adds or updates an annotation.
func (a Annotations) Set(k, v string) {
	a[k] = v
}

// Get retrieves an annotation value.
func (a Annotations) Get(k string) string {
	return a[k]
}

// Has returns true if the annotation exists.
func (a Annotations) Has(k string) bool {
	_, ok := a[k]
	return ok
}

// Event represents a single resolver/lookup/relocation trace event.
type Event struct {
	RunID       uuid.UUID   // identifies the batch-file invocation this event belongs to
	PC          uint64      // address associated with the event, if any (0 otherwise)
	Tags        Tags        // multiple hashtags, first is primary
	Name        string      // symbol or object name the event concerns
	Detail      string      // additional detail ("version=GLIBC_2.4", "class=PLT")
	Annotations Annotations // key-value metadata
	Timestamp   time.Time   // when the event occurred
}

// NewEvent creates a new trace event with the given parameters.
func NewEvent(runID uuid.UUID, category, name, detail string) *Event {
	return &Event{
		RunID:       runID,
		Tags:        Tags{Tag(category)},
		Name:        name,
		Detail:      detail,
		Annotations: make(Annotations),
		Timestamp:   time.Now(),
	}
}

// AddTag adds a tag to the event.
func (e *Event) AddTag(tag Tag) {
	e.Tags.Add(tag)
}

// Annotate sets an annotation on the event.
func (e *Event) Annotate(k, v string) {
	if e.Annotations == nil {
		e.Annotations = make(Annotations)
	}
	e.Annotations.Set(k, v)
}

// PrimaryTag returns the primary (first) tag with # prefix.
func (e *Event) PrimaryTag() string {
	if len(e.Tags) > 0 {
		return "#" + string(e.Tags[0])
	}
	return ""
}

// Enricher enriches trace events based on category and name.
type Enricher func(e *Event)

// DefaultEnricher adds additional tags based on category and name.
func DefaultEnricher(e *Event) {
	if len(e.Tags) == 0 {
		return
	}

	switch e.Tags[0] {
	case Lookup:
		if e.Annotations.Get("unique") == "true" {
			e.AddTag(Unique)
		}
		if e.Annotations.Get("protected") == "true" {
			e.AddTag(Protected)
		}
	case Reloc:
		if e.Annotations.Get("class") == "COPY" {
			e.AddTag(CopyReloc)
		}
	case Resolve:
		if e.Detail == "" {
			e.AddTag(NotFound)
		}
	}
}
