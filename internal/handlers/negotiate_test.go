package handlers

import (
	"testing"

	"github.com/nlstn/go-odata-classic/internal/writers"
)

func TestParseVersion(t *testing.T) {
	tests := []struct {
		header  string
		version int
		ok      bool
		wantErr bool
	}{
		{"", 0, false, false},
		{"1.0", 1, true, false},
		{"2.0;NetFx", 2, true, false},
		{" 3.0 ", 3, true, false},
		{"abc", 0, false, true},
		{"2.x", 0, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			v, ok, err := parseVersion(tt.header)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseVersion(%q) error = %v, wantErr %v", tt.header, err, tt.wantErr)
			}
			if v != tt.version || ok != tt.ok {
				t.Errorf("parseVersion(%q) = %d, %v; expected %d, %v", tt.header, v, ok, tt.version, tt.ok)
			}
		})
	}
}

func TestResponseVersion(t *testing.T) {
	for header, expected := range map[string]int{"": 2, "1.0": 1, "2.0": 2, "3.0": 2} {
		v, err := responseVersion(header)
		if err != nil {
			t.Fatalf("responseVersion(%q) failed: %v", header, err)
		}
		if v != expected {
			t.Errorf("responseVersion(%q) = %d, expected %d", header, v, expected)
		}
	}
}

func TestParseAccept(t *testing.T) {
	ranges := parseAccept("application/xml;q=0.5, application/json, text/plain;q=0, */*;q=0.1")
	expected := []string{"application/json", "application/xml", "*/*"}
	if len(ranges) != len(expected) {
		t.Fatalf("Expected %d ranges, got %v", len(expected), ranges)
	}
	for i, mediaType := range expected {
		if ranges[i].mediaType != mediaType {
			t.Errorf("Range %d: expected %s, got %s", i, mediaType, ranges[i].mediaType)
		}
	}
}

func TestSelectWriter(t *testing.T) {
	d := &Dispatcher{writers: writers.NewRegistry()}

	tests := []struct {
		name        string
		version     int
		format      string
		accept      string
		payload     writers.Payload
		contentType string
		wantErr     bool
	}{
		{"default feed", 2, "", "", writers.PayloadFeed, "application/atom+xml;type=feed;charset=utf-8", false},
		{"default property", 2, "", "", writers.PayloadProperty, "application/xml;charset=utf-8", false},
		{"wildcard service document", 2, "", "*/*", writers.PayloadServiceDocument, "application/atomsvc+xml;charset=utf-8", false},
		{"accept json", 2, "", "application/json", writers.PayloadEntry, "application/json;charset=utf-8", false},
		{"subtype wildcard", 2, "", "application/*", writers.PayloadFeed, "application/atom+xml;type=feed;charset=utf-8", false},
		{"format alias", 1, "json", "application/atom+xml", writers.PayloadFeed, "application/json;charset=utf-8", false},
		{"unknown format", 2, "csv", "", writers.PayloadFeed, "", true},
		{"unmatched accept", 2, "", "text/html", writers.PayloadEntry, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, err := d.selectWriter(tt.version, tt.format, tt.accept, tt.payload)
			if (err != nil) != tt.wantErr {
				t.Fatalf("selectWriter error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if got := w.ContentType(tt.payload); got != tt.contentType {
				t.Errorf("Expected content type %s, got %s", tt.contentType, got)
			}
		})
	}
}

func TestEtagMatches(t *testing.T) {
	tests := []struct {
		header, etag string
		expected     bool
	}{
		{"", `W/"a"`, false},
		{"*", `W/"a"`, true},
		{`W/"b", W/"a"`, `W/"a"`, true},
		{`W/"b"`, `W/"a"`, false},
		{"*", "", false},
	}
	for _, tt := range tests {
		if got := etagMatches(tt.header, tt.etag); got != tt.expected {
			t.Errorf("etagMatches(%q, %q) = %v, expected %v", tt.header, tt.etag, got, tt.expected)
		}
	}
}
