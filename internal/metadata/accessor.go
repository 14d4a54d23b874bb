package metadata

import (
	"errors"
	"fmt"
	"reflect"
)

// PropertyAccessor is implemented by entities that expose their properties by name
// instead of through exported struct fields.
type PropertyAccessor interface {
	ODataProperty(name string) (any, bool)
	SetODataProperty(name string, value any) error
}

// ErrPropertyNotFound is returned when an instance has no value slot for a property.
var ErrPropertyNotFound = errors.New("property not found")

// GetValue reads a property from an entity or complex instance. Accessors and
// map[string]any are used directly; plain structs are read by field name.
func GetValue(instance any, name string) (any, error) {
	switch v := instance.(type) {
	case nil:
		return nil, fmt.Errorf("%w: '%s' on nil instance", ErrPropertyNotFound, name)
	case PropertyAccessor:
		value, ok := v.ODataProperty(name)
		if !ok {
			return nil, fmt.Errorf("%w: '%s'", ErrPropertyNotFound, name)
		}
		return value, nil
	case map[string]any:
		value, ok := v[name]
		if !ok {
			return nil, fmt.Errorf("%w: '%s'", ErrPropertyNotFound, name)
		}
		return value, nil
	}

	rv := reflect.ValueOf(instance)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil, fmt.Errorf("%w: '%s' on nil instance", ErrPropertyNotFound, name)
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: '%s' on %s", ErrPropertyNotFound, name, rv.Kind())
	}
	field := rv.FieldByName(name)
	if !field.IsValid() || !field.CanInterface() {
		return nil, fmt.Errorf("%w: '%s' on %s", ErrPropertyNotFound, name, rv.Type().Name())
	}
	if field.Kind() == reflect.Ptr && field.IsNil() {
		return nil, nil
	}
	if field.Kind() == reflect.Slice && field.IsNil() && !isBytes(field.Type()) {
		return nil, nil
	}
	return field.Interface(), nil
}

// SetValue assigns a property on an entity or complex instance. Struct instances must
// be pointers. Navigation results ([]any of entities, or one entity) are converted to
// the field's slice or pointer type.
func SetValue(instance any, name string, value any) error {
	switch v := instance.(type) {
	case nil:
		return fmt.Errorf("cannot set '%s' on nil instance", name)
	case PropertyAccessor:
		return v.SetODataProperty(name, value)
	case map[string]any:
		v[name] = value
		return nil
	}

	rv := reflect.ValueOf(instance)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return fmt.Errorf("cannot set '%s' on non-pointer %T", name, instance)
	}
	rv = rv.Elem()
	if rv.Kind() != reflect.Struct {
		return fmt.Errorf("cannot set '%s' on %T", name, instance)
	}
	field := rv.FieldByName(name)
	if !field.IsValid() || !field.CanSet() {
		return fmt.Errorf("%w: '%s' on %s", ErrPropertyNotFound, name, rv.Type().Name())
	}
	converted, err := convertTo(reflect.ValueOf(value), field.Type())
	if err != nil {
		return fmt.Errorf("cannot set '%s': %w", name, err)
	}
	field.Set(converted)
	return nil
}

func isBytes(t reflect.Type) bool {
	return t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.Uint8
}

// convertTo coerces v into target, following pointers and rebuilding slices element-wise.
func convertTo(v reflect.Value, target reflect.Type) (reflect.Value, error) {
	if !v.IsValid() {
		return reflect.Zero(target), nil
	}
	if v.Kind() == reflect.Interface {
		if v.IsNil() {
			return reflect.Zero(target), nil
		}
		v = v.Elem()
	}
	if v.Type().AssignableTo(target) {
		return v, nil
	}

	switch {
	case v.Kind() == reflect.Ptr && target.Kind() != reflect.Ptr:
		if v.IsNil() {
			return reflect.Zero(target), nil
		}
		return convertTo(v.Elem(), target)
	case v.Kind() != reflect.Ptr && target.Kind() == reflect.Ptr:
		inner, err := convertTo(v, target.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		ptr := reflect.New(target.Elem())
		ptr.Elem().Set(inner)
		return ptr, nil
	case v.Kind() == reflect.Slice && target.Kind() == reflect.Slice:
		out := reflect.MakeSlice(target, 0, v.Len())
		for i := 0; i < v.Len(); i++ {
			elem, err := convertTo(v.Index(i), target.Elem())
			if err != nil {
				return reflect.Value{}, err
			}
			out = reflect.Append(out, elem)
		}
		return out, nil
	case v.Type().ConvertibleTo(target) && isScalar(v.Kind()) && isScalar(target.Kind()) &&
		(v.Kind() == reflect.String) == (target.Kind() == reflect.String):
		return v.Convert(target), nil
	}
	return reflect.Value{}, fmt.Errorf("%s is not assignable to %s", v.Type(), target)
}

func isScalar(k reflect.Kind) bool {
	switch k {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
