package store

import "strings"

// Patch is a set of field assignments applied server-side. Keys are Go field names
// (or column names); they are resolved through the session's naming strategy at commit time.
type Patch struct {
	fields map[string]any
}

// NewPatch returns an empty patch.
func NewPatch() *Patch {
	return &Patch{fields: make(map[string]any)}
}

// Set assigns a value to a field, replacing any earlier assignment.
func (p *Patch) Set(field string, value any) *Patch {
	p.fields[strings.TrimSpace(field)] = value
	return p
}

// Empty reports whether the patch assigns nothing.
func (p *Patch) Empty() bool {
	return p == nil || len(p.fields) == 0
}

func (p *Patch) clone() map[string]any {
	copied := make(map[string]any, len(p.fields))
	for name, value := range p.fields {
		copied[name] = value
	}
	return copied
}
