package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// seedFile is the YAML form of a snapshot:
//
//	objects:
//	  - name: counter
//	    root: true
//	    attrs:
//	      n: 0
//	      kind: tally
//	      next: "@other"
//	      span: [1, 2.5, "@counter"]
//	held:
//	  - [pending, "@counter"]
//
// Integers and floats keep their YAML type. Other scalars become symbols.
// A string starting with "@" names another object; "@@" escapes a literal
// leading "@". Sequences become tuples.
type seedFile struct {
	Objects []seedObject `yaml:"objects"`
	Held    []yaml.Node  `yaml:"held"`
}

type seedObject struct {
	Name    string    `yaml:"name"`
	Root    bool      `yaml:"root"`
	Deleted bool      `yaml:"deleted"`
	Attrs   yaml.Node `yaml:"attrs"`
}

// ParseSeed reads a YAML seed file into a snapshot.
func ParseSeed(r io.Reader) (*Snapshot, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f seedFile
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return &Snapshot{Format: FormatVersion}, nil
		}
		return nil, fmt.Errorf("parse seed: %w", err)
	}

	snap := &Snapshot{Format: FormatVersion, Objects: make([]Object, len(f.Objects))}
	names := make(map[string]int, len(f.Objects))
	for i, o := range f.Objects {
		if o.Name == "" {
			continue
		}
		if _, dup := names[o.Name]; dup {
			return nil, fmt.Errorf("seed: duplicate object name %q", o.Name)
		}
		if strings.HasPrefix(o.Name, "@") {
			return nil, fmt.Errorf("seed: object name %q must not start with @", o.Name)
		}
		names[o.Name] = i
	}

	p := &seedParser{names: names}
	for i, o := range f.Objects {
		snap.Objects[i] = Object{Name: o.Name, Root: o.Root, Deleted: o.Deleted}
		attrs, err := p.attrs(&o.Attrs)
		if err != nil {
			return nil, fmt.Errorf("seed: object %s: %w", label(o.Name, i), err)
		}
		snap.Objects[i].Attrs = attrs
	}

	for i := range f.Held {
		v, err := p.value(&f.Held[i])
		if err != nil {
			return nil, fmt.Errorf("seed: held[%d]: %w", i, err)
		}
		if v.Kind != KindTuple {
			return nil, fmt.Errorf("seed: held[%d]: want a sequence, got %s", i, v.Kind)
		}
		snap.Held = append(snap.Held, v)
	}
	return snap, nil
}

func label(name string, i int) string {
	if name != "" {
		return fmt.Sprintf("%q", name)
	}
	return fmt.Sprintf("#%d", i)
}

type seedParser struct {
	names map[string]int
}

func (p *seedParser) attrs(n *yaml.Node) ([]Attr, error) {
	if n.Kind == 0 || (n.Kind == yaml.ScalarNode && n.ShortTag() == "!!null") {
		return nil, nil
	}
	if n.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: attrs must be a mapping", n.Line)
	}
	seen := make(map[string]bool, len(n.Content)/2)
	out := make([]Attr, 0, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		key := n.Content[i].Value
		if seen[key] {
			return nil, fmt.Errorf("line %d: duplicate attribute %q", n.Content[i].Line, key)
		}
		seen[key] = true
		v, err := p.value(n.Content[i+1])
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", key, err)
		}
		out = append(out, Attr{Key: key, Value: v})
	}
	return out, nil
}

func (p *seedParser) value(n *yaml.Node) (Value, error) {
	if n.Kind == yaml.AliasNode {
		n = n.Alias
	}
	switch n.Kind {
	case yaml.SequenceNode:
		elems := make([]Value, len(n.Content))
		for i, c := range n.Content {
			v, err := p.value(c)
			if err != nil {
				return Value{}, err
			}
			elems[i] = v
		}
		return Value{Kind: KindTuple, Tuple: elems}, nil
	case yaml.ScalarNode:
		return p.scalar(n)
	default:
		return Value{}, fmt.Errorf("line %d: mappings are not values", n.Line)
	}
}

func (p *seedParser) scalar(n *yaml.Node) (Value, error) {
	switch n.ShortTag() {
	case "!!null":
		return Value{}, fmt.Errorf("line %d: null is not a value", n.Line)
	case "!!int":
		var i int64
		if err := n.Decode(&i); err != nil {
			return Value{}, fmt.Errorf("line %d: %w", n.Line, err)
		}
		return Value{Kind: KindInt, Int: i}, nil
	case "!!float":
		var f float64
		if err := n.Decode(&f); err != nil {
			return Value{}, fmt.Errorf("line %d: %w", n.Line, err)
		}
		return Value{Kind: KindFloat, Float: f}, nil
	}

	s := n.Value
	switch {
	case strings.HasPrefix(s, "@@"):
		return Value{Kind: KindSym, Sym: s[1:]}, nil
	case strings.HasPrefix(s, "@"):
		i, ok := p.names[s[1:]]
		if !ok {
			return Value{}, fmt.Errorf("line %d: unknown object %q", n.Line, s[1:])
		}
		return Value{Kind: KindRef, Ref: i}, nil
	case s == "":
		return Value{}, fmt.Errorf("line %d: empty symbol", n.Line)
	default:
		return Value{Kind: KindSym, Sym: s}, nil
	}
}

// LoadFile reads a snapshot from path. Files ending in .yaml or .yml are
// seed files; anything else is CBOR.
func LoadFile(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseSeed(bytes.NewReader(data))
	default:
		return DecodeSnapshot(bytes.NewReader(data))
	}
}

// WriteFile encodes snap as CBOR into path.
func WriteFile(path string, snap *Snapshot) error {
	var buf bytes.Buffer
	if err := EncodeSnapshot(&buf, snap); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// ParseSeedValue decodes one value written in seed syntax. names maps
// object names to snapshot indices for "@name" references.
func ParseSeedValue(n *yaml.Node, names map[string]int) (Value, error) {
	return (&seedParser{names: names}).value(n)
}

// Names maps every named object in snap to its index.
func (s *Snapshot) Names() map[string]int {
	names := make(map[string]int, len(s.Objects))
	for i, o := range s.Objects {
		if o.Name != "" {
			names[o.Name] = i
		}
	}
	return names
}
