// Package input reads edge records from line-oriented files.
//
// This file implements the vertex dictionary that interns string vertex
// identifiers into integers. It is safe for concurrent use: the reader
// interns while result sinks resolve names.
package input

import (
	"strconv"
	"sync"
)

// Dictionary maps string vertex identifiers to dense integer ids starting at 1.
type Dictionary struct {
	mu    sync.RWMutex
	ids   map[string]uint64
	names []string
}

// NewDictionary returns an empty dictionary.
func NewDictionary() *Dictionary {
	return &Dictionary{
		ids:   make(map[string]uint64),
		names: []string{""},
	}
}

// Intern returns the id of name, assigning the next id on first sight.
func (d *Dictionary) Intern(name string) uint64 {
	d.mu.RLock()
	id, ok := d.ids[name]
	d.mu.RUnlock()
	if ok {
		return id
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if id, ok := d.ids[name]; ok {
		return id
	}
	id = uint64(len(d.names))
	d.ids[name] = id
	d.names = append(d.names, name)
	return id
}

// Lookup returns the id of name without interning it.
func (d *Dictionary) Lookup(name string) (uint64, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.ids[name]
	return id, ok
}

// Name returns the identifier interned as id.
func (d *Dictionary) Name(id uint64) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if id == 0 || id >= uint64(len(d.names)) {
		return "", false
	}
	return d.names[id], true
}

// Len returns the number of interned identifiers.
func (d *Dictionary) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.names) - 1
}

// Namer renders vertex ids for output.
type Namer func(id uint64) string

// IntegerNamer prints ids as decimal integers.
func IntegerNamer(id uint64) string { return strconv.FormatUint(id, 10) }

// Namer returns a Namer that resolves interned ids, falling back to the
// integer form for unknown ids.
func (d *Dictionary) Namer() Namer {
	return func(id uint64) string {
		if name, ok := d.Name(id); ok {
			return name
		}
		return IntegerNamer(id)
	}
}
