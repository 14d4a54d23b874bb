package metadata

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func TestConvertToOData(t *testing.T) {
	tests := []struct {
		name     string
		typ      Type
		value    any
		expected string
	}{
		{"string", EdmString, "ALFKI", "'ALFKI'"},
		{"string with quote", EdmString, "O'Brien", "'O''Brien'"},
		{"string with space and accent", EdmString, "Antonio Moreno Taquería", "'Antonio%20Moreno%20Taquer%C3%ADa'"},
		{"int32", EdmInt32, 10643, "10643"},
		{"int32 pointer", EdmInt32, intPtr(7), "7"},
		{"int64", EdmInt64, int64(42), "42L"},
		{"boolean", EdmBoolean, true, "true"},
		{"double", EdmDouble, 2.5, "2.5"},
		{"decimal", EdmDecimal, decimal.RequireFromString("12.50"), "12.5M"},
		{"guid", EdmGuid, uuid.MustParse("c1a3e7f4-1b2d-4c5e-8f90-0a1b2c3d4e5f"), "guid'c1a3e7f4-1b2d-4c5e-8f90-0a1b2c3d4e5f'"},
		{"datetime", EdmDateTime, time.Date(1996, 7, 4, 0, 0, 0, 0, time.UTC), "datetime'1996-07-04T00:00:00'"},
		{"date", EdmDate, time.Date(1996, 7, 4, 13, 0, 0, 0, time.UTC), "datetime'1996-07-04'"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.typ.ConvertToOData(tt.value)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestConvertToODataTypeMismatch(t *testing.T) {
	if _, err := EdmInt32.ConvertToOData("x"); err == nil {
		t.Error("Expected error converting string as Edm.Int32")
	}
	if _, err := EdmString.ConvertToOData(5); err == nil {
		t.Error("Expected error converting int as Edm.String")
	}
}

func TestParseLiteral(t *testing.T) {
	tests := []struct {
		name    string
		typ     Type
		literal string
		check   func(any) bool
	}{
		{"string", EdmString, "'O''Brien'", func(v any) bool { return v == "O'Brien" }},
		{"int32", EdmInt32, "10643", func(v any) bool { return v == int32(10643) }},
		{"int64 suffix", EdmInt64, "42L", func(v any) bool { return v == int64(42) }},
		{"int64 bare", EdmInt64, "42", func(v any) bool { return v == int64(42) }},
		{"boolean", EdmBoolean, "false", func(v any) bool { return v == false }},
		{"double", EdmDouble, "2.5d", func(v any) bool { return v == 2.5 }},
		{"decimal", EdmDecimal, "12.5M", func(v any) bool { return v.(decimal.Decimal).Equal(decimal.RequireFromString("12.5")) }},
		{"guid", EdmGuid, "guid'c1a3e7f4-1b2d-4c5e-8f90-0a1b2c3d4e5f'", func(v any) bool {
			return v == uuid.MustParse("c1a3e7f4-1b2d-4c5e-8f90-0a1b2c3d4e5f")
		}},
		{"datetime", EdmDateTime, "datetime'1996-07-04T00:00:00'", func(v any) bool {
			return v.(time.Time).Equal(time.Date(1996, 7, 4, 0, 0, 0, 0, time.UTC))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.typ.ParseLiteral(tt.literal)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if !tt.check(got) {
				t.Errorf("Unexpected value %#v", got)
			}
		})
	}
}

func TestParseLiteralInvalid(t *testing.T) {
	tests := []struct {
		typ     Type
		literal string
	}{
		{EdmString, "ALFKI"},
		{EdmString, "'"},
		{EdmInt32, "abc"},
		{EdmInt32, "99999999999"},
		{EdmBoolean, "yes"},
		{EdmGuid, "guid'nope'"},
		{EdmDateTime, "1996-07-04"},
	}
	for _, tt := range tests {
		t.Run(tt.typ.FullName()+" "+tt.literal, func(t *testing.T) {
			if _, err := tt.typ.ParseLiteral(tt.literal); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestURILiteralNull(t *testing.T) {
	got, err := ToURILiteral(EdmString, nil)
	if err != nil || got != NullLiteral {
		t.Errorf("Expected null literal, got %q (%v)", got, err)
	}
	var missing *string
	got, err = ToURILiteral(EdmString, missing)
	if err != nil || got != NullLiteral {
		t.Errorf("Expected null literal for nil pointer, got %q (%v)", got, err)
	}
	v, err := FromURILiteral(EdmInt32, "null")
	if err != nil || v != nil {
		t.Errorf("Expected nil, got %v (%v)", v, err)
	}
}

func TestCompareValues(t *testing.T) {
	tests := []struct {
		name     string
		typ      Type
		a, b     any
		expected int
	}{
		{"strings", EdmString, "a", "b", -1},
		{"mixed ints", EdmInt32, int32(5), 5, 0},
		{"ints", EdmInt32, 7, 3, 1},
		{"nil first", EdmInt32, nil, 3, -1},
		{"nil both", EdmString, nil, nil, 0},
		{"decimal", EdmDecimal, decimal.NewFromInt(2), decimal.RequireFromString("1.5"), 1},
		{"booleans", EdmBoolean, false, true, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CompareValues(tt.typ, tt.a, tt.b)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got != tt.expected {
				t.Errorf("Expected %d, got %d", tt.expected, got)
			}
		})
	}
}

func intPtr(i int) *int {
	return &i
}

func TestSplitLiteralList(t *testing.T) {
	parts := SplitLiteralList("'a,b','it''s',3")
	if len(parts) != 3 || parts[0] != "'a,b'" || parts[1] != "'it''s'" || parts[2] != "3" {
		t.Errorf("Unexpected split %q", parts)
	}
}
