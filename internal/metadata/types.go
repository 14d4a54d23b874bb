package metadata

import (
	"fmt"
	"math"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Type is an EDM primitive type: it renders values as URI literals, parses
// literals back and orders values of the type.
type Type interface {
	// FullName is the EDM name, e.g. "Edm.String".
	FullName() string
	// ConvertToOData renders a non-nil value as an already-escaped URI literal.
	ConvertToOData(value any) (string, error)
	// ParseLiteral parses a non-null URI literal.
	ParseLiteral(literal string) (any, error)
	// Compare orders two non-nil values of the type.
	Compare(a, b any) (int, error)
}

// NullLiteral is the URI literal for a null value of any type.
const NullLiteral = "null"

var (
	EdmString   Type = stringType{}
	EdmInt32    Type = int32Type{}
	EdmInt64    Type = int64Type{}
	EdmBoolean  Type = booleanType{}
	EdmDouble   Type = doubleType{}
	EdmDecimal  Type = decimalType{}
	EdmGuid     Type = guidType{}
	EdmDateTime Type = dateTimeType{name: "Edm.DateTime", layout: dateTimeLayout}
	EdmDate     Type = dateTimeType{name: "Edm.Date", layout: "2006-01-02"}
)

const dateTimeLayout = "2006-01-02T15:04:05"

// ToURILiteral renders value as a URI literal of type t, using "null" for nil.
func ToURILiteral(t Type, value any) (string, error) {
	if isNil(value) {
		return NullLiteral, nil
	}
	return t.ConvertToOData(value)
}

// FromURILiteral parses a URI literal of type t, returning nil for "null".
func FromURILiteral(t Type, literal string) (any, error) {
	if literal == NullLiteral {
		return nil, nil
	}
	return t.ParseLiteral(literal)
}

// CompareValues orders two values of type t; nil sorts before everything else.
func CompareValues(t Type, a, b any) (int, error) {
	aNil, bNil := isNil(a), isNil(b)
	switch {
	case aNil && bNil:
		return 0, nil
	case aNil:
		return -1, nil
	case bNil:
		return 1, nil
	}
	return t.Compare(indirect(a), indirect(b))
}

// IsNull reports whether v is nil or a nil pointer, map, slice or interface.
func IsNull(v any) bool {
	return isNil(v)
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice:
		return rv.IsNil()
	}
	return false
}

func indirect(v any) any {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr && !rv.IsNil() {
		rv = rv.Elem()
	}
	return rv.Interface()
}

func typeMismatch(t Type, v any) error {
	return fmt.Errorf("value of type %T is not compatible with %s", v, t.FullName())
}

func unquote(literal, prefix string) (string, bool) {
	if !strings.HasPrefix(literal, prefix+"'") || !strings.HasSuffix(literal, "'") || len(literal) < len(prefix)+2 {
		return "", false
	}
	return literal[len(prefix)+1 : len(literal)-1], true
}

// SplitLiteralList splits a comma-separated list of URI literals, ignoring
// commas inside quoted literals.
func SplitLiteralList(s string) []string {
	var parts []string
	inQuote := false
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\'':
			inQuote = !inQuote
		case ',':
			if !inQuote {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, s[start:])
}

type stringType struct{}

func (stringType) FullName() string { return "Edm.String" }

func (t stringType) ConvertToOData(value any) (string, error) {
	s, ok := indirect(value).(string)
	if !ok {
		return "", typeMismatch(t, value)
	}
	return "'" + strings.ReplaceAll(url.PathEscape(s), "%27", "''") + "'", nil
}

func (t stringType) ParseLiteral(literal string) (any, error) {
	inner, ok := unquote(literal, "")
	if !ok {
		return nil, fmt.Errorf("'%s' is not a valid %s literal", literal, t.FullName())
	}
	return strings.ReplaceAll(inner, "''", "'"), nil
}

func (t stringType) Compare(a, b any) (int, error) {
	as, ok1 := a.(string)
	bs, ok2 := b.(string)
	if !ok1 || !ok2 {
		return 0, typeMismatch(t, a)
	}
	return strings.Compare(as, bs), nil
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float64:
		if n == math.Trunc(n) {
			return int64(n), true
		}
	}
	return 0, false
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case decimal.Decimal:
		return n.InexactFloat64(), true
	}
	if i, ok := toInt64(v); ok {
		return float64(i), true
	}
	return 0, false
}

func compareInts(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

type int32Type struct{}

func (int32Type) FullName() string { return "Edm.Int32" }

func (t int32Type) ConvertToOData(value any) (string, error) {
	n, ok := toInt64(indirect(value))
	if !ok {
		return "", typeMismatch(t, value)
	}
	return strconv.FormatInt(n, 10), nil
}

func (t int32Type) ParseLiteral(literal string) (any, error) {
	n, err := strconv.ParseInt(literal, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("'%s' is not a valid %s literal", literal, t.FullName())
	}
	return int32(n), nil
}

func (t int32Type) Compare(a, b any) (int, error) {
	an, ok1 := toInt64(a)
	bn, ok2 := toInt64(b)
	if !ok1 || !ok2 {
		return 0, typeMismatch(t, a)
	}
	return compareInts(an, bn), nil
}

type int64Type struct{}

func (int64Type) FullName() string { return "Edm.Int64" }

func (t int64Type) ConvertToOData(value any) (string, error) {
	n, ok := toInt64(indirect(value))
	if !ok {
		return "", typeMismatch(t, value)
	}
	return strconv.FormatInt(n, 10) + "L", nil
}

func (t int64Type) ParseLiteral(literal string) (any, error) {
	n, err := strconv.ParseInt(strings.TrimRight(literal, "lL"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("'%s' is not a valid %s literal", literal, t.FullName())
	}
	return n, nil
}

func (t int64Type) Compare(a, b any) (int, error) {
	return int32Type{}.Compare(a, b)
}

type booleanType struct{}

func (booleanType) FullName() string { return "Edm.Boolean" }

func (t booleanType) ConvertToOData(value any) (string, error) {
	b, ok := indirect(value).(bool)
	if !ok {
		return "", typeMismatch(t, value)
	}
	return strconv.FormatBool(b), nil
}

func (t booleanType) ParseLiteral(literal string) (any, error) {
	switch literal {
	case "true", "1":
		return true, nil
	case "false", "0":
		return false, nil
	}
	return nil, fmt.Errorf("'%s' is not a valid %s literal", literal, t.FullName())
}

func (t booleanType) Compare(a, b any) (int, error) {
	ab, ok1 := a.(bool)
	bb, ok2 := b.(bool)
	if !ok1 || !ok2 {
		return 0, typeMismatch(t, a)
	}
	switch {
	case ab == bb:
		return 0, nil
	case !ab:
		return -1, nil
	}
	return 1, nil
}

type doubleType struct{}

func (doubleType) FullName() string { return "Edm.Double" }

func (t doubleType) ConvertToOData(value any) (string, error) {
	f, ok := toFloat64(indirect(value))
	if !ok {
		return "", typeMismatch(t, value)
	}
	return strconv.FormatFloat(f, 'f', -1, 64), nil
}

func (t doubleType) ParseLiteral(literal string) (any, error) {
	f, err := strconv.ParseFloat(strings.TrimRight(literal, "dDfF"), 64)
	if err != nil {
		return nil, fmt.Errorf("'%s' is not a valid %s literal", literal, t.FullName())
	}
	return f, nil
}

func (t doubleType) Compare(a, b any) (int, error) {
	af, ok1 := toFloat64(a)
	bf, ok2 := toFloat64(b)
	if !ok1 || !ok2 {
		return 0, typeMismatch(t, a)
	}
	switch {
	case af < bf:
		return -1, nil
	case af > bf:
		return 1, nil
	}
	return 0, nil
}

type decimalType struct{}

func (decimalType) FullName() string { return "Edm.Decimal" }

func toDecimal(v any) (decimal.Decimal, bool) {
	switch d := v.(type) {
	case decimal.Decimal:
		return d, true
	case string:
		parsed, err := decimal.NewFromString(d)
		return parsed, err == nil
	}
	if i, ok := toInt64(v); ok {
		return decimal.NewFromInt(i), true
	}
	if f, ok := toFloat64(v); ok {
		return decimal.NewFromFloat(f), true
	}
	return decimal.Decimal{}, false
}

func (t decimalType) ConvertToOData(value any) (string, error) {
	d, ok := toDecimal(indirect(value))
	if !ok {
		return "", typeMismatch(t, value)
	}
	return d.String() + "M", nil
}

func (t decimalType) ParseLiteral(literal string) (any, error) {
	d, err := decimal.NewFromString(strings.TrimRight(literal, "mM"))
	if err != nil {
		return nil, fmt.Errorf("'%s' is not a valid %s literal", literal, t.FullName())
	}
	return d, nil
}

func (t decimalType) Compare(a, b any) (int, error) {
	ad, ok1 := toDecimal(a)
	bd, ok2 := toDecimal(b)
	if !ok1 || !ok2 {
		return 0, typeMismatch(t, a)
	}
	return ad.Cmp(bd), nil
}

type guidType struct{}

func (guidType) FullName() string { return "Edm.Guid" }

func toUUID(v any) (uuid.UUID, bool) {
	switch g := v.(type) {
	case uuid.UUID:
		return g, true
	case string:
		parsed, err := uuid.Parse(g)
		return parsed, err == nil
	}
	return uuid.UUID{}, false
}

func (t guidType) ConvertToOData(value any) (string, error) {
	g, ok := toUUID(indirect(value))
	if !ok {
		return "", typeMismatch(t, value)
	}
	return "guid'" + g.String() + "'", nil
}

func (t guidType) ParseLiteral(literal string) (any, error) {
	inner, ok := unquote(literal, "guid")
	if !ok {
		return nil, fmt.Errorf("'%s' is not a valid %s literal", literal, t.FullName())
	}
	g, err := uuid.Parse(inner)
	if err != nil {
		return nil, fmt.Errorf("'%s' is not a valid %s literal", literal, t.FullName())
	}
	return g, nil
}

func (t guidType) Compare(a, b any) (int, error) {
	ag, ok1 := toUUID(a)
	bg, ok2 := toUUID(b)
	if !ok1 || !ok2 {
		return 0, typeMismatch(t, a)
	}
	return strings.Compare(ag.String(), bg.String()), nil
}

type dateTimeType struct {
	name   string
	layout string
}

func (t dateTimeType) FullName() string { return t.name }

func (t dateTimeType) ConvertToOData(value any) (string, error) {
	tm, ok := indirect(value).(time.Time)
	if !ok {
		return "", typeMismatch(t, value)
	}
	return "datetime'" + url.PathEscape(tm.UTC().Format(t.layout)) + "'", nil
}

var dateTimeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05.9999999", dateTimeLayout, "2006-01-02T15:04", "2006-01-02"}

func (t dateTimeType) ParseLiteral(literal string) (any, error) {
	inner, ok := unquote(literal, "datetime")
	if !ok {
		return nil, fmt.Errorf("'%s' is not a valid %s literal", literal, t.FullName())
	}
	for _, layout := range dateTimeLayouts {
		if tm, err := time.Parse(layout, inner); err == nil {
			return tm, nil
		}
	}
	return nil, fmt.Errorf("'%s' is not a valid %s literal", literal, t.FullName())
}

func (t dateTimeType) Compare(a, b any) (int, error) {
	at, ok1 := a.(time.Time)
	bt, ok2 := b.(time.Time)
	if !ok1 || !ok2 {
		return 0, typeMismatch(t, a)
	}
	return at.Compare(bt), nil
}

var (
	timeType    = reflect.TypeOf(time.Time{})
	decimalRefl = reflect.TypeOf(decimal.Decimal{})
	uuidType    = reflect.TypeOf(uuid.UUID{})
)

// TypeForGoType maps a Go field type to its EDM primitive type.
func TypeForGoType(t reflect.Type) (Type, bool) {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	switch t {
	case timeType:
		return EdmDateTime, true
	case decimalRefl:
		return EdmDecimal, true
	case uuidType:
		return EdmGuid, true
	}
	switch t.Kind() {
	case reflect.String:
		return EdmString, true
	case reflect.Bool:
		return EdmBoolean, true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Uint8, reflect.Uint16:
		return EdmInt32, true
	case reflect.Int64, reflect.Uint, reflect.Uint32, reflect.Uint64:
		return EdmInt64, true
	case reflect.Float32, reflect.Float64:
		return EdmDouble, true
	}
	return nil, false
}
