package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// The version suffix leaves room for algorithm migration.
const (
	DomainBinding = "symspace/binding/v1"
	DomainRule    = "symspace/rule/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// BindingHash identifies a binding environment. Equal environments hash
// equally regardless of map iteration order; it is used to deduplicate
// matches and to record firings. Integral floats hash as the equal Int.
func BindingHash(b Bindings) (string, error) {
	norm := make(Bindings, len(b))
	for k, v := range b {
		norm[k] = hashForm(v)
	}
	canonical, err := MarshalCanonical(norm)
	if err != nil {
		return "", fmt.Errorf("BindingHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainBinding, canonical), nil
}

// hashForm rewrites integral floats as ints, inside tuples too, so that
// Equal values share one canonical encoding.
func hashForm(v Value) Value {
	switch x := v.(type) {
	case Float:
		if i, ok := integral(float64(x)); ok {
			return Int(i)
		}
	case *Tuple:
		var elems []Value
		for i := 0; i < x.Len(); i++ {
			e := x.At(i)
			n := hashForm(e)
			if elems == nil && n != e {
				elems = make([]Value, i, x.Len())
				for j := 0; j < i; j++ {
					elems[j] = x.At(j)
				}
			}
			if elems != nil {
				elems = append(elems, n)
			}
		}
		if elems != nil {
			return NewTuple(elems...)
		}
	}
	return v
}

// RuleHash fingerprints a rule's definition. It keys the planner's memo and
// is stored with every recorded firing.
func RuleHash(r Rule) (string, error) {
	canonical, err := MarshalCanonical(r)
	if err != nil {
		return "", fmt.Errorf("RuleHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainRule, canonical), nil
}

// MustBindingHash is like BindingHash but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustBindingHash(b Bindings) string {
	h, err := BindingHash(b)
	if err != nil {
		panic(err)
	}
	return h
}

// MustRuleHash is like RuleHash but panics on error.
func MustRuleHash(r Rule) string {
	h, err := RuleHash(r)
	if err != nil {
		panic(err)
	}
	return h
}
