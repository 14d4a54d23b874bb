package metadata

import (
	"fmt"
	"reflect"
	"strings"
)

// AnalyzeEntity extracts an entity resource type from a Go struct.
//
// Exported fields become properties named after the field. Struct and slice-of-struct
// fields become navigation properties when the referenced struct has a key, and complex
// (or bag) properties otherwise. Keys are marked with `odata:"key"` or default to a field
// named ID; concurrency tokens with `odata:"etag"`. Fields tagged `odata:"-"` are skipped.
func AnalyzeEntity(entity interface{}, namespace string) (*ResourceType, error) {
	entityType := reflect.TypeOf(entity)
	if entityType == nil {
		return nil, fmt.Errorf("entity must be a struct, got nil")
	}

	// Handle pointer types
	if entityType.Kind() == reflect.Ptr {
		entityType = entityType.Elem()
	}

	if entityType.Kind() != reflect.Struct {
		return nil, fmt.Errorf("entity must be a struct, got %s", entityType.Kind())
	}

	rt := NewResourceType(entityType.Name(), namespace, KindEntity)
	rt.GoType = entityType

	if err := analyzeFields(rt, entityType, namespace, map[reflect.Type]bool{entityType: true}); err != nil {
		return nil, err
	}

	if len(rt.KeyProperties()) == 0 {
		return nil, fmt.Errorf("entity %s must have at least one key property (use `odata:\"key\"` tag or name field 'ID')", rt.Name)
	}

	rt.MediaLinkEntry = detectMediaEntity(entityType)
	return rt, nil
}

func analyzeFields(rt *ResourceType, structType reflect.Type, namespace string, visiting map[reflect.Type]bool) error {
	explicitKey := hasExplicitKey(structType)
	for i := 0; i < structType.NumField(); i++ {
		field := structType.Field(i)

		// Skip unexported fields
		if !field.IsExported() {
			continue
		}
		tags := parseODataTag(field.Tag.Get("odata"))
		if tags["-"] || field.Tag.Get("json") == "-" {
			continue
		}

		property, err := analyzeField(field, tags, namespace, visiting)
		if err != nil {
			return fmt.Errorf("error analyzing field %s: %w", field.Name, err)
		}
		if property == nil {
			continue
		}
		if rt.Kind == KindEntity && property.IsPrimitive() {
			property.IsKey = tags["key"] || (!explicitKey && field.Name == "ID")
			property.IsETag = tags["etag"]
		}
		rt.AddProperty(property)
	}
	return nil
}

func analyzeField(field reflect.StructField, tags map[string]bool, namespace string, visiting map[reflect.Type]bool) (*ResourceProperty, error) {
	property := &ResourceProperty{
		Name:      field.Name,
		FieldName: field.Name,
	}

	if edmType, ok := TypeForGoType(field.Type); ok {
		property.Kind = PropertyPrimitive
		property.Type = edmType
		return property, nil
	}

	fieldType := field.Type
	isSlice := fieldType.Kind() == reflect.Slice
	if isSlice {
		fieldType = fieldType.Elem()
		if edmType, ok := TypeForGoType(fieldType); ok {
			property.Kind = PropertyBag
			property.Type = edmType
			return property, nil
		}
	}

	// Check if it's a pointer type
	if fieldType.Kind() == reflect.Ptr {
		fieldType = fieldType.Elem()
	}

	if fieldType.Kind() != reflect.Struct {
		return nil, fmt.Errorf("unsupported field type %s", field.Type)
	}

	gormTag := field.Tag.Get("gorm")
	forcedComplex := tags["complex"] || strings.Contains(gormTag, "embedded")
	if !forcedComplex && hasKey(fieldType) {
		property.targetGoType = fieldType
		if isSlice {
			property.Kind = PropertyResourceSetReference
		} else {
			property.Kind = PropertyResourceReference
		}
		return property, nil
	}

	if visiting[fieldType] {
		return nil, fmt.Errorf("complex type %s is recursive", fieldType.Name())
	}
	visiting[fieldType] = true
	defer delete(visiting, fieldType)

	complexType := NewResourceType(fieldType.Name(), namespace, KindComplex)
	complexType.GoType = fieldType
	if err := analyzeFields(complexType, fieldType, namespace, visiting); err != nil {
		return nil, err
	}
	property.ResourceType = complexType
	if isSlice {
		property.Kind = PropertyBag
	} else {
		property.Kind = PropertyComplex
	}
	return property, nil
}

// parseODataTag splits an odata struct tag into its flags.
func parseODataTag(tag string) map[string]bool {
	flags := make(map[string]bool)
	for _, part := range strings.Split(tag, ",") {
		if part = strings.TrimSpace(part); part != "" {
			flags[part] = true
		}
	}
	return flags
}

func hasExplicitKey(structType reflect.Type) bool {
	for i := 0; i < structType.NumField(); i++ {
		if parseODataTag(structType.Field(i).Tag.Get("odata"))["key"] {
			return true
		}
	}
	return false
}

// hasKey reports whether structType would analyze as an entity type.
func hasKey(structType reflect.Type) bool {
	if hasExplicitKey(structType) {
		return true
	}
	field, ok := structType.FieldByName("ID")
	if !ok || !field.IsExported() {
		return false
	}
	_, primitive := TypeForGoType(field.Type)
	return primitive
}

// pluralize creates a simple pluralized form of the entity name
func pluralize(word string) string {
	if word == "" {
		return word
	}

	switch {
	case strings.HasSuffix(word, "y") && len(word) > 1 && !isVowel(rune(word[len(word)-2])):
		// "Category" -> "Categories", but "Key" -> "Keys"
		return word[:len(word)-1] + "ies"
	case strings.HasSuffix(word, "s") || strings.HasSuffix(word, "x") || strings.HasSuffix(word, "z") ||
		strings.HasSuffix(word, "ch") || strings.HasSuffix(word, "sh"):
		return word + "es"
	default:
		return word + "s"
	}
}

func isVowel(r rune) bool {
	switch r {
	case 'a', 'e', 'i', 'o', 'u', 'A', 'E', 'I', 'O', 'U':
		return true
	default:
		return false
	}
}

// getEntitySetName determines the entity set name for an entity type.
// It first checks if the entity implements an EntitySetName() method,
// similar to how GORM's TableName() works. If not, it falls back to
// pluralizing the entity name.
func getEntitySetName(entityType reflect.Type) string {
	if name := callStringMethod(entityType, "EntitySetName"); name != "" {
		return name
	}
	return pluralize(entityType.Name())
}

// callStringMethod calls a func() string method declared on the value or pointer receiver.
func callStringMethod(entityType reflect.Type, methodName string) string {
	value := reflect.New(entityType)
	method := value.MethodByName(methodName)
	if !method.IsValid() {
		return ""
	}
	methodType := method.Type()
	if methodType.NumIn() != 0 || methodType.NumOut() != 1 || methodType.Out(0).Kind() != reflect.String {
		return ""
	}
	return method.Call(nil)[0].String()
}

// detectMediaEntity checks if the entity implements a HasStream() bool method returning true.
func detectMediaEntity(entityType reflect.Type) bool {
	method := reflect.New(entityType).MethodByName("HasStream")
	if !method.IsValid() {
		return false
	}
	methodType := method.Type()
	if methodType.NumIn() != 0 || methodType.NumOut() != 1 || methodType.Out(0).Kind() != reflect.Bool {
		return false
	}
	return method.Call(nil)[0].Bool()
}
