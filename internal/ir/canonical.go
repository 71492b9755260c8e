package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"unicode/utf16"

	"golang.org/x/text/unicode/norm"
)

// MarshalCanonical produces canonical JSON for hashing and persistence.
// It is the ONLY serialization used for content-addressed identity.
//
// Differences from json.Marshal:
//  1. Object keys sorted by UTF-16 code units (RFC 8785), not UTF-8 bytes
//  2. No HTML escaping
//  3. Strings are NFC normalized
//  4. Values are tagged by kind: {"int":5}, {"float":"1.5"}, {"sym":"a"},
//     {"tuple":[...]}, {"ref":"#3"}; floats travel as strings so their
//     textual form is exact
func MarshalCanonical(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		return fmt.Errorf("null is forbidden in canonical JSON")
	case Value:
		return writeCanonical(buf, valueMap(val))
	case Bindings:
		obj := make(map[string]any, len(val))
		for k, x := range val {
			obj[string(k)] = x
		}
		return writeCanonicalObject(buf, obj)
	case Term:
		return writeCanonical(buf, termMap(val))
	case Clause:
		return writeCanonical(buf, clauseMap(val))
	case Action:
		return writeCanonical(buf, actionMap(val))
	case Rule:
		return writeCanonical(buf, ruleMap(val))
	case string:
		return writeCanonicalString(buf, val)
	case int64:
		buf.WriteString(strconv.FormatInt(val, 10))
		return nil
	case int:
		buf.WriteString(strconv.Itoa(val))
		return nil
	case bool:
		buf.WriteString(strconv.FormatBool(val))
		return nil
	case []any:
		return writeCanonicalArray(buf, len(val), func(i int) any { return val[i] })
	case []string:
		return writeCanonicalArray(buf, len(val), func(i int) any { return val[i] })
	case []Value:
		return writeCanonicalArray(buf, len(val), func(i int) any { return val[i] })
	case map[string]any:
		return writeCanonicalObject(buf, val)
	case float64, float32:
		return fmt.Errorf("bare floats are forbidden in canonical JSON: %v", val)
	default:
		return fmt.Errorf("unsupported type for canonical JSON: %T", v)
	}
}

func valueMap(v Value) map[string]any {
	switch x := v.(type) {
	case Int:
		return map[string]any{"int": int64(x)}
	case Float:
		return map[string]any{"float": strconv.FormatFloat(float64(x), 'g', -1, 64)}
	case Symbol:
		return map[string]any{"sym": x.Name()}
	case *Tuple:
		elems := make([]any, x.Len())
		for i := range elems {
			elems[i] = x.At(i)
		}
		return map[string]any{"tuple": elems}
	case ObjectRef:
		return map[string]any{"ref": x.String()}
	default:
		return nil
	}
}

func termMap(t Term) map[string]any {
	switch t.Kind {
	case TermVar:
		return map[string]any{"var": string(t.Var)}
	case TermConst:
		return map[string]any{"const": t.Value}
	default:
		return map[string]any{"wildcard": true}
	}
}

func termList(terms []Term) []any {
	out := make([]any, len(terms))
	for i, t := range terms {
		out[i] = t
	}
	return out
}

func clauseMap(c Clause) map[string]any {
	m := map[string]any{"kind": string(c.Kind)}
	switch c.Kind {
	case ClauseMatch:
		m["object"] = c.Object
		m["attr"] = c.Attr.Name()
		m["value"] = c.Value
	case ClauseCompare:
		m["left"] = c.Left
		m["op"] = string(c.Cmp)
		m["right"] = c.Right
	case ClauseCalc:
		m["target"] = c.Target
		m["left"] = c.Left
		m["op"] = string(c.Arith)
		m["right"] = c.Right
	case ClauseDestructure:
		m["source"] = c.Source
		m["items"] = termList(c.Items)
	case ClauseNot:
		body := make([]any, len(c.Body))
		for i, b := range c.Body {
			body[i] = b
		}
		m["body"] = body
	}
	return m
}

func actionMap(a Action) map[string]any {
	m := map[string]any{"kind": string(a.Kind)}
	switch a.Kind {
	case ActionBind:
		m["target"] = string(a.Target)
		m["value"] = a.Value
		if a.Arith != "" {
			m["op"] = string(a.Arith)
			m["right"] = a.Right
		}
	case ActionSet:
		m["object"] = a.Object
		m["attr"] = a.Attr.Name()
		m["value"] = a.Value
	case ActionRemove:
		m["object"] = a.Object
		m["attr"] = a.Attr.Name()
	case ActionCreate:
		m["target"] = string(a.Target)
	case ActionTuple:
		m["target"] = string(a.Target)
		m["items"] = termList(a.Items)
	case ActionDelete, ActionRoot, ActionUnroot:
		m["object"] = a.Object
	}
	return m
}

func ruleMap(r Rule) map[string]any {
	clauses := make([]any, len(r.Clauses))
	for i, c := range r.Clauses {
		clauses[i] = c
	}
	actions := make([]any, len(r.Actions))
	for i, a := range r.Actions {
		actions[i] = a
	}
	mode := r.Mode
	if mode == "" {
		mode = MatchFirst
	}
	return map[string]any{
		"name":    r.Name,
		"mode":    string(mode),
		"clauses": clauses,
		"actions": actions,
	}
}

// MarshalJSON renders a term in its canonical form.
func (t Term) MarshalJSON() ([]byte, error) { return MarshalCanonical(t) }

// MarshalJSON renders a clause in its canonical form.
func (c Clause) MarshalJSON() ([]byte, error) { return MarshalCanonical(c) }

// MarshalJSON renders an action in its canonical form.
func (a Action) MarshalJSON() ([]byte, error) { return MarshalCanonical(a) }

// MarshalJSON renders bindings in their canonical form.
func (b Bindings) MarshalJSON() ([]byte, error) { return MarshalCanonical(b) }

// UnmarshalJSON decodes the canonical form written by MarshalJSON.
func (b *Bindings) UnmarshalJSON(data []byte) error {
	decoded, err := UnmarshalBindings(data)
	if err != nil {
		return err
	}
	*b = decoded
	return nil
}

// writeCanonicalString writes a canonical JSON string with NFC normalization.
// Only control characters, backslash and quote are escaped; <, >, &, U+2028
// and U+2029 are written literally.
func writeCanonicalString(buf *bytes.Buffer, s string) error {
	normalized := norm.NFC.String(s)

	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalized); err != nil {
		return err
	}
	out := bytes.TrimSuffix(tmp.Bytes(), []byte("\n"))
	buf.Write(unescapeLineSeparators(out))
	return nil
}

// unescapeLineSeparators turns the \u2028 and \u2029 escapes json.Encoder
// emits back into literal characters. An escape preceded by an odd number of
// backslashes is literal text and stays as is.
func unescapeLineSeparators(data []byte) []byte {
	if !bytes.Contains(data, []byte(`\u202`)) {
		return data
	}
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if data[i] == '\\' && i+5 < len(data) && data[i+1] == 'u' &&
			data[i+2] == '2' && data[i+3] == '0' && data[i+4] == '2' &&
			(data[i+5] == '8' || data[i+5] == '9') {
			slashes := 0
			for j := len(out) - 1; j >= 0 && out[j] == '\\'; j-- {
				slashes++
			}
			if slashes%2 == 0 {
				if data[i+5] == '8' {
					out = append(out, "\u2028"...)
				} else {
					out = append(out, "\u2029"...)
				}
				i += 5
				continue
			}
		}
		out = append(out, data[i])
	}
	return out
}

func writeCanonicalArray(buf *bytes.Buffer, n int, at func(int) any) error {
	buf.WriteByte('[')
	for i := 0; i < n; i++ {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeCanonical(buf, at(i)); err != nil {
			return fmt.Errorf("array[%d]: %w", i, err)
		}
	}
	buf.WriteByte(']')
	return nil
}

func writeCanonicalObject(buf *bytes.Buffer, obj map[string]any) error {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysRFC8785)

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeCanonicalString(buf, k); err != nil {
			return fmt.Errorf("key %q: %w", k, err)
		}
		buf.WriteByte(':')
		if err := writeCanonical(buf, obj[k]); err != nil {
			return fmt.Errorf("value for key %q: %w", k, err)
		}
	}
	buf.WriteByte('}')
	return nil
}

// compareKeysRFC8785 compares strings by UTF-16 code units as RFC 8785
// requires. Go's native string order is by UTF-8 bytes, which differs for
// characters outside the BMP.
func compareKeysRFC8785(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))
	return slices.Compare(a16, b16)
}

// UnmarshalValue decodes the canonical tagged form of a Value.
func UnmarshalValue(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return valueFromJSON(raw)
}

// UnmarshalBindings decodes the canonical form of Bindings.
func UnmarshalBindings(data []byte) (Bindings, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	b := make(Bindings, len(raw))
	for k, v := range raw {
		val, err := UnmarshalValue(v)
		if err != nil {
			return nil, fmt.Errorf("binding %q: %w", k, err)
		}
		b[Var(k)] = val
	}
	return b, nil
}

func valueFromJSON(raw any) (Value, error) {
	obj, ok := raw.(map[string]any)
	if !ok || len(obj) != 1 {
		return nil, fmt.Errorf("value must be a single-key tagged object, got %T", raw)
	}
	for tag, payload := range obj {
		switch tag {
		case "int":
			n, ok := payload.(json.Number)
			if !ok {
				return nil, fmt.Errorf("int payload must be a number")
			}
			i, err := n.Int64()
			if err != nil {
				return nil, fmt.Errorf("int payload: %w", err)
			}
			return Int(i), nil
		case "float":
			s, ok := payload.(string)
			if !ok {
				return nil, fmt.Errorf("float payload must be a string")
			}
			f, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("float payload: %w", err)
			}
			return Float(f), nil
		case "sym":
			s, ok := payload.(string)
			if !ok {
				return nil, fmt.Errorf("sym payload must be a string")
			}
			return Intern(s), nil
		case "ref":
			s, ok := payload.(string)
			if !ok {
				return nil, fmt.Errorf("ref payload must be a string")
			}
			return ParseObjectRef(s)
		case "tuple":
			items, ok := payload.([]any)
			if !ok {
				return nil, fmt.Errorf("tuple payload must be an array")
			}
			elems := make([]Value, len(items))
			for i, item := range items {
				v, err := valueFromJSON(item)
				if err != nil {
					return nil, fmt.Errorf("tuple[%d]: %w", i, err)
				}
				elems[i] = v
			}
			return NewTuple(elems...), nil
		default:
			return nil, fmt.Errorf("unknown value tag %q", tag)
		}
	}
	return nil, fmt.Errorf("empty value object")
}
