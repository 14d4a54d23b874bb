package memory

import (
	"context"
	"net/http"
	"testing"

	"github.com/nlstn/go-odata-classic/internal/metadata"
	"github.com/nlstn/go-odata-classic/internal/odataerr"
	"github.com/nlstn/go-odata-classic/internal/providers"
	"github.com/nlstn/go-odata-classic/internal/query"
	"github.com/nlstn/go-odata-classic/internal/segment"
)

type Customer struct {
	CustomerID  string `odata:"key"`
	CompanyName string
	Country     string
	Orders      []Order
}

type Order struct {
	OrderID  int `odata:"key"`
	Freight  float64
	Customer *Customer
}

func setup(t *testing.T) (*Provider, *metadata.Registry) {
	t.Helper()
	r := metadata.NewRegistry("NorthWind", "NorthWindEntities")
	if _, err := r.RegisterEntitySet("Customers", Customer{}); err != nil {
		t.Fatalf("Failed to register Customers: %v", err)
	}
	if _, err := r.RegisterEntitySet("Orders", Order{}); err != nil {
		t.Fatalf("Failed to register Orders: %v", err)
	}
	p := New(r)
	alfki := &Customer{CustomerID: "ALFKI", CompanyName: "Alfreds Futterkiste", Country: "Germany",
		Orders: []Order{{OrderID: 10643, Freight: 29.46}, {OrderID: 10692, Freight: 61.02}}}
	anatr := &Customer{CustomerID: "ANATR", CompanyName: "Ana Trujillo", Country: "Mexico"}
	if err := p.Add("Customers", alfki, anatr); err != nil {
		t.Fatalf("Failed to seed: %v", err)
	}
	return p, r
}

func set(t *testing.T, r *metadata.Registry, name string) *metadata.ResourceSetWrapper {
	t.Helper()
	s, ok := r.ResourceSet(name)
	if !ok {
		t.Fatalf("Missing set %s", name)
	}
	return s
}

func key(t *testing.T, s *metadata.ResourceSetWrapper, predicate string) *segment.KeyDescriptor {
	t.Helper()
	k, err := segment.ParseKeyPredicate(predicate, s.ResourceType)
	if err != nil {
		t.Fatalf("Failed to parse key %s: %v", predicate, err)
	}
	return k
}

func TestGetResourceSetFilter(t *testing.T) {
	p, r := setup(t)
	customers := set(t, r, "Customers")
	filter, err := query.NewExpressionProvider().Compile("Country eq 'Mexico'", customers.ResourceType)
	if err != nil {
		t.Fatalf("Failed to compile filter: %v", err)
	}

	tests := []struct {
		name   string
		filter *query.FilterInfo
		want   int
	}{
		{"all", nil, 2},
		{"filtered", filter, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := p.GetResourceSet(context.Background(), providers.ResourceSetQuery{
				QueryType: query.QueryEntitiesWithCount,
				Set:       customers,
				Filter:    tt.filter,
			})
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if len(result.Results) != tt.want || result.Count == nil || *result.Count != int64(tt.want) {
				t.Errorf("Expected %d results, got %d (count %v)", tt.want, len(result.Results), result.Count)
			}
		})
	}
}

func TestReadsReturnCopies(t *testing.T) {
	p, r := setup(t)
	customers := set(t, r, "Customers")
	entity, err := p.GetResourceFromResourceSet(context.Background(), customers, key(t, customers, "'ALFKI'"), nil)
	if err != nil || entity == nil {
		t.Fatalf("Expected ALFKI, got %v (%v)", entity, err)
	}
	if err := metadata.SetValue(entity, "Orders", []any{}); err != nil {
		t.Fatalf("Failed to assign: %v", err)
	}

	again, _ := p.GetResourceFromResourceSet(context.Background(), customers, key(t, customers, "'ALFKI'"), nil)
	if n := len(again.(*Customer).Orders); n != 2 {
		t.Errorf("Expected the stored entity to keep 2 orders, got %d", n)
	}

	missing, err := p.GetResourceFromResourceSet(context.Background(), customers, key(t, customers, "'NOPE'"), nil)
	if err != nil || missing != nil {
		t.Errorf("Expected nil for a missing key, got %v (%v)", missing, err)
	}
}

func TestRelatedResources(t *testing.T) {
	p, r := setup(t)
	customers := set(t, r, "Customers")
	orders := set(t, r, "Orders")
	ordersProp := customers.ResourceType.Property("Orders")
	ctx := context.Background()

	source, _ := p.GetResourceFromResourceSet(ctx, customers, key(t, customers, "'ALFKI'"), nil)
	result, err := p.GetRelatedResourceSet(ctx, providers.RelatedResourceSetQuery{
		QueryType:    query.QueryEntities,
		SourceSet:    customers,
		SourceEntity: source,
		TargetSet:    orders,
		Property:     ordersProp,
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(result.Results) != 2 {
		t.Fatalf("Expected 2 related orders, got %d", len(result.Results))
	}
	if _, ok := result.Results[0].(*Order); !ok {
		t.Errorf("Expected *Order results, got %T", result.Results[0])
	}

	order, err := p.GetResourceFromRelatedResourceSet(ctx, customers, source, orders, ordersProp, key(t, orders, "10692"))
	if err != nil || order == nil || order.(*Order).Freight != 61.02 {
		t.Errorf("Expected order 10692, got %v (%v)", order, err)
	}

	empty, _ := p.GetResourceFromResourceSet(ctx, customers, key(t, customers, "'ANATR'"), nil)
	result, err = p.GetRelatedResourceSet(ctx, providers.RelatedResourceSetQuery{SourceEntity: empty, Property: ordersProp, TargetSet: orders})
	if err != nil || result.Results == nil || len(result.Results) != 0 {
		t.Errorf("Expected an empty non-nil result, got %v (%v)", result, err)
	}

	ref, err := p.GetRelatedResourceReference(ctx, orders, &Order{OrderID: 1}, customers, orders.ResourceType.Property("Customer"))
	if err != nil || ref != nil {
		t.Errorf("Expected a nil reference, got %v (%v)", ref, err)
	}
}

func TestWrites(t *testing.T) {
	p, r := setup(t)
	customers := set(t, r, "Customers")
	ctx := context.Background()

	created, err := p.CreateResource(ctx, customers, map[string]any{
		"__metadata":  map[string]any{"type": "NorthWind.Customer"},
		"CustomerID":  "BERGS",
		"CompanyName": "Berglunds snabbköp",
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if created.(*Customer).CompanyName != "Berglunds snabbköp" {
		t.Errorf("Unexpected created entity %+v", created)
	}

	_, err = p.CreateResource(ctx, customers, map[string]any{"CustomerID": "BERGS"})
	if odataerr.StatusCode(err) != http.StatusConflict {
		t.Errorf("Expected 409 for a duplicate key, got %v", err)
	}
	_, err = p.CreateResource(ctx, customers, map[string]any{"CustomerID": "X", "Unknown": 1})
	if odataerr.StatusCode(err) != http.StatusBadRequest {
		t.Errorf("Expected 400 for an unknown property, got %v", err)
	}

	updated, err := p.UpdateResource(ctx, customers, key(t, customers, "'BERGS'"), map[string]any{"CustomerID": "IGNORED", "Country": "Sweden"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if c := updated.(*Customer); c.Country != "Sweden" || c.CustomerID != "BERGS" {
		t.Errorf("Unexpected updated entity %+v", c)
	}

	if err := p.DeleteResource(ctx, customers, key(t, customers, "'BERGS'")); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if err := p.DeleteResource(ctx, customers, key(t, customers, "'BERGS'")); odataerr.StatusCode(err) != http.StatusNotFound {
		t.Errorf("Expected 404 deleting twice, got %v", err)
	}
	if _, err := p.UpdateResource(ctx, customers, key(t, customers, "'BERGS'"), map[string]any{}); odataerr.StatusCode(err) != http.StatusNotFound {
		t.Errorf("Expected 404 updating a deleted entity, got %v", err)
	}
}
