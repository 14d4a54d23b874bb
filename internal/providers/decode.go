package providers

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nlstn/go-odata-classic/internal/metadata"
	"github.com/nlstn/go-odata-classic/internal/odataerr"
)

// ApplyData copies the properties of a decoded JSON request body onto instance.
// Keys starting with "__" (such as "__metadata") and navigation properties are
// ignored. Key properties are skipped when skipKeys is set.
func ApplyData(rt *metadata.ResourceType, instance any, data map[string]any, skipKeys bool) error {
	for name, raw := range data {
		if strings.HasPrefix(name, "__") {
			continue
		}
		prop := rt.Property(name)
		if prop == nil {
			return odataerr.BadRequest("The property '%s' does not exist on type '%s'", name, rt.FullName())
		}
		if prop.IsNavigation() || (skipKeys && prop.IsKey) {
			continue
		}
		value, err := DecodeValue(prop, raw)
		if err != nil {
			return odataerr.BadRequest("Invalid value for property '%s': %v", name, err)
		}
		if err := metadata.SetValue(instance, name, value); err != nil {
			return odataerr.BadRequest("Cannot assign property '%s': %v", name, err)
		}
	}
	return nil
}

// DecodeValue converts a JSON value to the Go value of prop.
func DecodeValue(prop *metadata.ResourceProperty, raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	switch prop.Kind {
	case metadata.PropertyPrimitive:
		return decodePrimitive(prop.Type, raw)
	case metadata.PropertyComplex:
		obj, ok := raw.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("expected an object, got %T", raw)
		}
		instance := prop.ResourceType.NewInstance()
		if err := ApplyData(prop.ResourceType, instance, obj, false); err != nil {
			return nil, err
		}
		return instance, nil
	case metadata.PropertyBag:
		items, err := bagItems(raw)
		if err != nil {
			return nil, err
		}
		out := make([]any, len(items))
		for i, item := range items {
			if prop.ResourceType != nil {
				obj, ok := item.(map[string]any)
				if !ok {
					return nil, fmt.Errorf("expected an object in collection, got %T", item)
				}
				instance := prop.ResourceType.NewInstance()
				if err := ApplyData(prop.ResourceType, instance, obj, false); err != nil {
					return nil, err
				}
				out[i] = instance
				continue
			}
			v, err := decodePrimitive(prop.Type, item)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	}
	return nil, fmt.Errorf("property kind %s cannot be assigned", prop.Kind)
}

// bagItems accepts a plain array or the verbose {"results": [...]} wrapper.
func bagItems(raw any) ([]any, error) {
	switch v := raw.(type) {
	case []any:
		return v, nil
	case map[string]any:
		if items, ok := v["results"].([]any); ok {
			return items, nil
		}
	}
	return nil, fmt.Errorf("expected an array, got %T", raw)
}

func decodePrimitive(t metadata.Type, raw any) (any, error) {
	switch t {
	case metadata.EdmString:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("expected a string, got %T", raw)
		}
		return s, nil
	case metadata.EdmBoolean:
		switch v := raw.(type) {
		case bool:
			return v, nil
		case string:
			return strconv.ParseBool(v)
		}
	case metadata.EdmInt32, metadata.EdmInt64:
		switch v := raw.(type) {
		case float64:
			if v != math.Trunc(v) {
				return nil, fmt.Errorf("%v is not an integer", v)
			}
			return int64(v), nil
		case string:
			return strconv.ParseInt(v, 10, 64)
		}
	case metadata.EdmDouble:
		switch v := raw.(type) {
		case float64:
			return v, nil
		case string:
			return strconv.ParseFloat(v, 64)
		}
	case metadata.EdmDecimal:
		switch v := raw.(type) {
		case float64:
			return decimal.NewFromFloat(v), nil
		case string:
			return decimal.NewFromString(v)
		}
	case metadata.EdmGuid:
		if s, ok := raw.(string); ok {
			return uuid.Parse(s)
		}
	case metadata.EdmDateTime, metadata.EdmDate:
		if s, ok := raw.(string); ok {
			return parseJSONDate(s)
		}
	}
	return nil, fmt.Errorf("%T is not a valid %s value", raw, t.FullName())
}

// parseJSONDate accepts the verbose JSON form "/Date(ms)/" and ISO 8601 timestamps.
func parseJSONDate(s string) (time.Time, error) {
	if strings.HasPrefix(s, "/Date(") && strings.HasSuffix(s, ")/") {
		inner := strings.TrimSuffix(strings.TrimPrefix(s, "/Date("), ")/")
		if i := strings.IndexAny(inner, "+-"); i > 0 {
			inner = inner[:i]
		}
		ms, err := strconv.ParseInt(inner, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return time.UnixMilli(ms).UTC(), nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.9999999", "2006-01-02T15:04:05", "2006-01-02"} {
		if tm, err := time.Parse(layout, s); err == nil {
			return tm, nil
		}
	}
	return time.Time{}, fmt.Errorf("'%s' is not a valid date", s)
}
