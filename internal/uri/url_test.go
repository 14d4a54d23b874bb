package uri

import (
	"errors"
	"net/http"
	"testing"

	"github.com/nlstn/go-odata-classic/internal/odataerr"
)

func TestParseAbsolute(t *testing.T) {
	u, err := Parse("http://localhost:8083/NorthWind.svc/Customers('ALFKI')/Orders?$top=2&custom=x", true)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if u.Scheme() != "http" || u.Host() != "localhost" || u.Port() != 8083 {
		t.Errorf("Unexpected authority %s://%s:%d", u.Scheme(), u.Host(), u.Port())
	}
	expected := []string{"NorthWind.svc", "Customers('ALFKI')", "Orders"}
	if len(u.Segments()) != len(expected) {
		t.Fatalf("Expected %d segments, got %v", len(expected), u.Segments())
	}
	for i, s := range expected {
		if u.Segments()[i] != s {
			t.Errorf("Segment %d: expected %q, got %q", i, s, u.Segments()[i])
		}
	}
	if v, ok := u.QueryStringItem("$top"); !ok || v != "2" {
		t.Errorf("Expected $top=2, got %q (%v)", v, ok)
	}
	if _, ok := u.QueryStringItem("$skip"); ok {
		t.Error("Expected $skip to be absent")
	}
}

func TestParseDecodesSegments(t *testing.T) {
	u, err := Parse("http://host/service.svc/Customers('Antonio%20Moreno')", true)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got := u.Segments()[1]; got != "Customers('Antonio Moreno')" {
		t.Errorf("Expected decoded segment, got %q", got)
	}
}

func TestParseMalformed(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		absolute bool
	}{
		{"missing scheme", "localhost/service.svc", true},
		{"empty segment", "http://localhost/service.svc//Customers", true},
		{"blank segment", "http://localhost/service.svc/%20/Customers", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.raw, tt.absolute)
			if err == nil {
				t.Fatal("Expected error")
			}
			if odataerr.StatusCode(err) != http.StatusBadRequest {
				t.Errorf("Expected 400, got %d", odataerr.StatusCode(err))
			}
		})
	}
}

func TestDefaultPorts(t *testing.T) {
	if p := MustParse("https://example.com/a.svc").Port(); p != 443 {
		t.Errorf("Expected 443, got %d", p)
	}
	if p := MustParse("http://example.com/a.svc").Port(); p != 80 {
		t.Errorf("Expected 80, got %d", p)
	}
}

func TestIsBaseOf(t *testing.T) {
	base := MustParse("http://localhost/NorthWind.svc")
	tests := []struct {
		target   string
		expected bool
	}{
		{"http://localhost/NorthWind.svc/Customers", true},
		{"http://localhost:80/NorthWind.svc", true},
		{"http://localhost/NorthWind.svc", true},
		{"https://localhost/NorthWind.svc/Customers", false},
		{"http://otherhost/NorthWind.svc/Customers", false},
		{"http://localhost:8080/NorthWind.svc/Customers", false},
		{"http://localhost/Other.svc/Customers", false},
		{"http://localhost/", false},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			if got := base.IsBaseOf(MustParse(tt.target)); got != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestValidateQueryParameters(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		wantErr bool
	}{
		{"no options", "", false},
		{"valid options", "$top=10&$skip=0&$orderby=Name", false},
		{"custom option", "foo=bar&$top=1", false},
		{"zero is a value", "$skip=0", false},
		{"empty system value", "$top=", true},
		{"value-less system option", "$top", true},
		{"system option as value", "=$top", true},
		{"unknown system option", "$foo=1", true},
		{"unknown system option as value", "=$foo", true},
		{"duplicate", "$top=1&$top=2", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := "http://localhost/NorthWind.svc/Customers"
			if tt.query != "" {
				raw += "?" + tt.query
			}
			u, err := Parse(raw, true)
			if err != nil {
				t.Fatalf("Unexpected parse error: %v", err)
			}
			err = u.ValidateQueryParameters()
			if tt.wantErr {
				var oe *odataerr.Error
				if !errors.As(err, &oe) || oe.StatusCode != http.StatusBadRequest {
					t.Fatalf("Expected bad request, got %v", err)
				}
				return
			}
			if err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}
}
