package writers

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/nlstn/go-odata-classic/internal/metadata"
)

const (
	atomDateTimeLayout = "2006-01-02T15:04:05"
	atomDateLayout     = "2006-01-02"
)

// RawValue renders a primitive value as plain text, as written for /$value
// requests and inside Atom property elements. nil renders as "".
func RawValue(t metadata.Type, v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case time.Time:
		if t == metadata.EdmDate {
			return x.UTC().Format(atomDateLayout)
		}
		return x.UTC().Format(atomDateTimeLayout)
	case []byte:
		return string(x)
	case fmt.Stringer:
		return x.String()
	}
	return fmt.Sprint(v)
}

// jsonValue converts a primitive value to its verbose JSON form. 64-bit integers
// and decimals are strings; dates use the \/Date(ms)\/ notation.
func jsonValue(t metadata.Type, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch t {
	case metadata.EdmInt64, metadata.EdmDecimal, metadata.EdmGuid:
		return RawValue(t, v), nil
	case metadata.EdmDateTime, metadata.EdmDate:
		tm, ok := v.(time.Time)
		if !ok {
			return nil, fmt.Errorf("value of type %T is not a valid %s", v, t.FullName())
		}
		return json.RawMessage(`"\/Date(` + strconv.FormatInt(tm.UnixMilli(), 10) + `)\/"`), nil
	}
	return v, nil
}
