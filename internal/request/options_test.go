package request

import (
	"net/http"
	"strings"
	"testing"

	"github.com/nlstn/go-odata-classic/internal/metadata"
	"github.com/nlstn/go-odata-classic/internal/odataerr"
	"github.com/nlstn/go-odata-classic/internal/query"
	"github.com/nlstn/go-odata-classic/internal/segment"
	"github.com/nlstn/go-odata-classic/internal/uri"
)

const serviceRoot = "http://localhost/NorthWind.svc"

type customer struct {
	CustomerID  string `odata:"key"`
	CompanyName string
	Orders      []order
}

type order struct {
	OrderID  int `odata:"key"`
	Customer *customer
}

func newRegistry(t *testing.T, pageSize int) *metadata.Registry {
	t.Helper()
	r := metadata.NewRegistry("NorthWind", "NorthWindEntities")
	if _, err := r.RegisterEntitySet("Customers", customer{}); err != nil {
		t.Fatalf("Failed to register Customers: %v", err)
	}
	if _, err := r.RegisterEntitySet("Orders", order{}); err != nil {
		t.Fatalf("Failed to register Orders: %v", err)
	}
	if pageSize > 0 {
		if err := r.SetPageSize("Customers", pageSize); err != nil {
			t.Fatalf("Failed to set page size: %v", err)
		}
	}
	return r
}

func describe(t *testing.T, r *metadata.Registry, target string) (*Description, error) {
	t.Helper()
	u, err := uri.Parse(serviceRoot+"/"+target, true)
	if err != nil {
		t.Fatalf("Failed to parse url: %v", err)
	}
	rel := target
	if i := strings.IndexByte(rel, '?'); i >= 0 {
		rel = rel[:i]
	}
	var parts []string
	if rel != "" {
		parts = strings.Split(rel, "/")
	}
	segments, err := segment.Parse(parts, r)
	if err != nil {
		t.Fatalf("Failed to parse segments: %v", err)
	}
	d := New(http.MethodGet, u, segments, r.ContainerName())
	return d, ProcessQueryOptions(d, Options{Resolver: r, Expressions: query.NewExpressionProvider(), MaxExpandDepth: 3})
}

func TestProcessQueryOptionsPaging(t *testing.T) {
	r := newRegistry(t, 5)
	tests := []struct {
		name        string
		target      string
		wantTop     int
		wantOption  int
		hasOption   bool
		wantType    query.QueryType
		wantOrderBy int
	}{
		{"no options", "Customers", 5, 0, false, query.QueryEntities, 1},
		{"top below page size", "Customers?$top=3", 3, 3, true, query.QueryEntities, 1},
		{"top above page size", "Customers?$top=12", 5, 12, true, query.QueryEntities, 1},
		{"inline count", "Customers?$inlinecount=allpages&$orderby=CompanyName%20desc", 5, 0, false, query.QueryEntitiesWithCount, 2},
		{"count keeps top", "Customers/$count?$top=12", 12, 12, true, query.QueryCount, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := describe(t, r, tt.target)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if d.QueryType != tt.wantType {
				t.Errorf("Expected query type %s, got %s", tt.wantType, d.QueryType)
			}
			if d.TopCount() == nil || *d.TopCount() != tt.wantTop {
				t.Errorf("Expected top %d, got %v", tt.wantTop, d.TopCount())
			}
			if tt.hasOption != (d.TopOptionCount() != nil) || (tt.hasOption && *d.TopOptionCount() != tt.wantOption) {
				t.Errorf("Expected top option %d (%v), got %v", tt.wantOption, tt.hasOption, d.TopOptionCount())
			}
			got := 0
			if d.InternalOrderByInfo() != nil {
				got = len(d.InternalOrderByInfo().Segments())
			}
			if got != tt.wantOrderBy {
				t.Errorf("Expected %d ordering terms, got %d", tt.wantOrderBy, got)
			}
		})
	}
}

func TestProcessQueryOptionsRootProjection(t *testing.T) {
	r := newRegistry(t, 0)

	d, err := describe(t, r, "Customers")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if d.RootProjectionNode() != nil {
		t.Error("Expected no projection tree without $expand, $select or paging")
	}

	d, err = describe(t, r, "Customers('ALFKI')?$expand=Orders&$select=CustomerID,Orders/OrderID")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	root := d.RootProjectionNode()
	if root == nil || !root.IsExpansionSpecified() || !root.IsSelectionSpecified() {
		t.Fatal("Expected a projection tree with expansion and selection")
	}
	if root.FindExpandedNode("Orders") == nil {
		t.Error("Expected Orders to be expanded")
	}

	paged := newRegistry(t, 2)
	d, err = describe(t, paged, "Customers")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if d.RootProjectionNode() == nil || d.RootProjectionNode().InternalOrderByInfo() == nil {
		t.Error("Expected the root of a paged set to carry the key ordering")
	}
}

func TestProcessQueryOptionsSkipToken(t *testing.T) {
	r := newRegistry(t, 2)
	d, err := describe(t, r, "Customers?$skiptoken='ALFKI'")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if values := d.InternalSkipTokenInfo().Values(); len(values) != 1 || values[0] != "ALFKI" {
		t.Errorf("Unexpected skip token values %v", values)
	}
}

func TestProcessQueryOptionsErrors(t *testing.T) {
	unpaged := newRegistry(t, 0)
	paged := newRegistry(t, 2)
	tests := []struct {
		name     string
		registry *metadata.Registry
		target   string
	}{
		{"negative top", unpaged, "Customers?$top=-1"},
		{"non numeric skip", unpaged, "Customers?$skip=abc"},
		{"top on single", unpaged, "Customers('ALFKI')?$top=1"},
		{"orderby on single", unpaged, "Customers('ALFKI')?$orderby=CompanyName"},
		{"inlinecount on count", unpaged, "Customers/$count?$inlinecount=allpages"},
		{"unknown inlinecount", unpaged, "Customers?$inlinecount=some"},
		{"skiptoken unpaged", unpaged, "Customers?$skiptoken='ALFKI'"},
		{"skiptoken arity", paged, "Customers?$skiptoken='ALFKI',1"},
		{"expand on count", unpaged, "Customers/$count?$expand=Orders"},
		{"expand on links", unpaged, "Customers('ALFKI')/$links/Orders?$expand=Customer"},
		{"expand non navigation", unpaged, "Customers?$expand=CompanyName"},
		{"expand too deep", unpaged, "Customers?$expand=Orders/Customer/Orders/Customer"},
		{"duplicate option", unpaged, "Customers?$top=1&$top=2"},
		{"unknown system option", unpaged, "Customers?$foo=1"},
		{"bad filter", unpaged, "Customers?$filter=CompanyName%20like%20'A'"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := describe(t, tt.registry, tt.target)
			if err == nil {
				t.Fatal("Expected error")
			}
			if status := odataerr.StatusCode(err); status != http.StatusBadRequest {
				t.Errorf("Expected status 400, got %d (%v)", status, err)
			}
		})
	}
}

func TestDescriptionTargets(t *testing.T) {
	r := newRegistry(t, 0)
	d, err := describe(t, r, "Customers('ALFKI')/$links/Orders")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !d.IsLinkURI() {
		t.Error("Expected a $links request")
	}
	if d.TargetKind() != segment.KindResourceSet || d.IsSingleResult() {
		t.Errorf("Unexpected target %s (single=%v)", d.TargetKind(), d.IsSingleResult())
	}
	if d.TargetResourceSetWrapper().Name != "Orders" {
		t.Errorf("Expected Orders, got %s", d.TargetResourceSetWrapper().Name)
	}
	if _, ok := d.CountValue(); ok {
		t.Error("Expected no count value before execution")
	}
	d.SetCountValue(7)
	if n, ok := d.CountValue(); !ok || n != 7 {
		t.Errorf("Expected count 7, got %d", n)
	}
}
