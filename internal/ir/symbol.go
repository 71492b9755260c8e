package ir

import (
	"sync"

	"golang.org/x/text/unicode/norm"
)

// Symbol is an interned name.
//
// Two symbols are equal iff their NFC-normalized names are equal, so symbol
// comparison is a single integer compare. The zero Symbol is the empty name.
type Symbol struct {
	id uint32
}

func (Symbol) isValue() {}

// Kind implements Value.
func (Symbol) Kind() Kind { return KindSymbol }

// Name returns the interned name.
func (s Symbol) Name() string {
	return symbols.name(s.id)
}

func (s Symbol) String() string { return s.Name() }

// IsZero reports whether s is the empty symbol.
func (s Symbol) IsZero() bool { return s.id == 0 }

// Intern returns the Symbol for name, creating it on first use.
// Names are NFC-normalized so canonically equivalent spellings intern
// to the same Symbol.
func Intern(name string) Symbol {
	return Symbol{id: symbols.intern(norm.NFC.String(name))}
}

// symbolTable is the process-wide intern table. Symbols are immutable
// names, so sharing them across spaces is safe.
type symbolTable struct {
	mu    sync.RWMutex
	names []string
	ids   map[string]uint32
}

var symbols = &symbolTable{
	names: []string{""},
	ids:   map[string]uint32{"": 0},
}

func (t *symbolTable) intern(name string) uint32 {
	t.mu.RLock()
	id, ok := t.ids[name]
	t.mu.RUnlock()
	if ok {
		return id
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if id, ok := t.ids[name]; ok {
		return id
	}
	id = uint32(len(t.names))
	t.names = append(t.names, name)
	t.ids[name] = id
	return id
}

func (t *symbolTable) name(id uint32) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if int(id) >= len(t.names) {
		return ""
	}
	return t.names[id]
}
