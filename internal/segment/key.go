package segment

import (
	"strings"

	"github.com/nlstn/go-odata-classic/internal/metadata"
	"github.com/nlstn/go-odata-classic/internal/odataerr"
)

// KeyValue is one key property and its parsed value.
type KeyValue struct {
	Property *metadata.ResourceProperty
	Literal  string
	Value    any
}

// KeyDescriptor is a parsed key predicate, in key-property declaration order.
type KeyDescriptor struct {
	values []KeyValue
}

// NewKeyDescriptor builds a key descriptor from already-typed values.
func NewKeyDescriptor(values ...KeyValue) *KeyDescriptor {
	return &KeyDescriptor{values: values}
}

// Values returns the key values in declaration order.
func (k *KeyDescriptor) Values() []KeyValue {
	return k.values
}

// Len returns the number of key values.
func (k *KeyDescriptor) Len() int {
	return len(k.values)
}

// Value returns the value of a named key property.
func (k *KeyDescriptor) Value(name string) (any, bool) {
	for _, kv := range k.values {
		if kv.Property.Name == name {
			return kv.Value, true
		}
	}
	return nil, false
}

// Matches reports whether entity carries exactly these key values.
func (k *KeyDescriptor) Matches(entity any) (bool, error) {
	for _, kv := range k.values {
		v, err := metadata.GetValue(entity, kv.Property.Name)
		if err != nil {
			return false, err
		}
		c, err := metadata.CompareValues(kv.Property.Type, v, kv.Value)
		if err != nil {
			return false, err
		}
		if c != 0 {
			return false, nil
		}
	}
	return true, nil
}

// String renders the predicate as it appears in a URL, e.g. "('ALFKI')" or "(OrderID=1,ProductID=2)".
func (k *KeyDescriptor) String() string {
	if len(k.values) == 1 {
		return "(" + k.values[0].Literal + ")"
	}
	parts := make([]string, len(k.values))
	for i, kv := range k.values {
		parts[i] = kv.Property.Name + "=" + kv.Literal
	}
	return "(" + strings.Join(parts, ",") + ")"
}

// ParseKeyPredicate parses the text between the parentheses of a key predicate for rt.
// A single positional literal is accepted for single-key types; otherwise every key
// must be named exactly once.
func ParseKeyPredicate(predicate string, rt *metadata.ResourceType) (*KeyDescriptor, error) {
	keys := rt.KeyProperties()
	if strings.TrimSpace(predicate) == "" {
		return nil, odataerr.BadRequest("The key predicate for '%s' is empty", rt.Name)
	}
	parts := metadata.SplitLiteralList(predicate)

	named := make(map[string]string, len(parts))
	positional := ""
	for _, part := range parts {
		part = strings.TrimSpace(part)
		name, literal, ok := cutOutsideQuotes(part, '=')
		if !ok {
			if len(parts) != 1 {
				return nil, odataerr.BadRequest("Key predicate '%s' mixes named and positional values", predicate)
			}
			positional = part
			continue
		}
		name = strings.TrimSpace(name)
		if _, dup := named[name]; dup {
			return nil, odataerr.BadRequest("Key property '%s' is specified more than once", name)
		}
		named[name] = strings.TrimSpace(literal)
	}

	if positional != "" {
		if len(keys) != 1 {
			return nil, odataerr.BadRequest("The key predicate for '%s' must name all %d key properties", rt.Name, len(keys))
		}
		named[keys[0].Name] = positional
	}
	if len(named) != len(keys) {
		return nil, odataerr.BadRequest("The number of keys in '%s' does not match the key properties of '%s'", predicate, rt.Name)
	}

	desc := &KeyDescriptor{}
	for _, key := range keys {
		literal, ok := named[key.Name]
		if !ok {
			return nil, odataerr.BadRequest("Key property '%s' is missing from the key predicate", key.Name)
		}
		if literal == metadata.NullLiteral {
			return nil, odataerr.BadRequest("Key property '%s' cannot be null", key.Name)
		}
		value, err := key.Type.ParseLiteral(literal)
		if err != nil {
			return nil, odataerr.BadRequest("Invalid key value for '%s': %v", key.Name, err)
		}
		canonical, err := key.Type.ConvertToOData(value)
		if err != nil {
			canonical = literal
		}
		desc.values = append(desc.values, KeyValue{Property: key, Literal: canonical, Value: value})
	}
	return desc, nil
}

func cutOutsideQuotes(s string, sep byte) (string, string, bool) {
	inQuote := false
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\'':
			inQuote = !inQuote
		case sep:
			if !inQuote {
				return s[:i], s[i+1:], true
			}
		}
	}
	return s, "", false
}
