package sqlstore

import (
	"context"
	"net/http"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/nlstn/go-odata-classic/internal/metadata"
	"github.com/nlstn/go-odata-classic/internal/odataerr"
	"github.com/nlstn/go-odata-classic/internal/providers"
	"github.com/nlstn/go-odata-classic/internal/query"
	"github.com/nlstn/go-odata-classic/internal/scope"
	"github.com/nlstn/go-odata-classic/internal/segment"
)

type Address struct {
	City    string
	Country string
}

type Customer struct {
	CustomerID  string `odata:"key" gorm:"primaryKey"`
	CompanyName string
	Address     Address `gorm:"embedded;embeddedPrefix:address_"`
	Region      *string
	Orders      []Order `gorm:"foreignKey:CustomerID"`
}

type Order struct {
	OrderID    int `odata:"key" gorm:"primaryKey;autoIncrement:false"`
	CustomerID string
	Freight    float64
	Customer   *Customer `gorm:"foreignKey:CustomerID;references:CustomerID"`
}

type fixture struct {
	store     *Store
	customers *metadata.ResourceSetWrapper
	orders    *metadata.ResourceSetWrapper
}

func setupStore(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{DisableForeignKeyConstraintWhenMigrating: true})
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("Failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	r := metadata.NewRegistry("NorthWind", "NorthWindEntities")
	customers, err := r.RegisterEntitySet("Customers", Customer{})
	if err != nil {
		t.Fatalf("Failed to register Customers: %v", err)
	}
	orders, err := r.RegisterEntitySet("Orders", Order{})
	if err != nil {
		t.Fatalf("Failed to register Orders: %v", err)
	}

	store, err := New(db, r)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	if err := store.AutoMigrate(context.Background()); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}

	west := "West"
	seed := []any{
		&Customer{CustomerID: "ALFKI", CompanyName: "Alfreds Futterkiste", Address: Address{City: "Berlin", Country: "Germany"}},
		&Customer{CustomerID: "ANATR", CompanyName: "Ana Trujillo", Address: Address{City: "México D.F.", Country: "Mexico"}, Region: &west},
		&Customer{CustomerID: "ANTON", CompanyName: "Antonio Moreno", Address: Address{City: "México D.F.", Country: "Mexico"}},
		&Customer{CustomerID: "BERGS", CompanyName: "Berglunds snabbköp", Address: Address{City: "Luleå", Country: "Sweden"}},
		&Order{OrderID: 10643, CustomerID: "ALFKI", Freight: 29.46},
		&Order{OrderID: 10692, CustomerID: "ALFKI", Freight: 61.02},
		&Order{OrderID: 10308, CustomerID: "ANATR", Freight: 1.61},
	}
	for _, entity := range seed {
		if err := db.Create(entity).Error; err != nil {
			t.Fatalf("Failed to seed %T: %v", entity, err)
		}
	}
	return &fixture{store: store, customers: customers, orders: orders}
}

func ids(entities []any) []string {
	out := make([]string, len(entities))
	for i, e := range entities {
		out[i] = e.(*Customer).CustomerID
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func intPtr(n int) *int { return &n }

func TestGetResourceSet(t *testing.T) {
	f := setupStore(t)
	rt := f.customers.ResourceType
	expressions := query.NewExpressionProvider()
	compile := func(expr string) *query.FilterInfo {
		info, err := expressions.Compile(expr, rt)
		if err != nil {
			t.Fatalf("Failed to compile %s: %v", expr, err)
		}
		return info
	}
	orderBy := func(expr string) *query.OrderByInfo {
		info, err := query.ParseOrderBy(expr, rt)
		if err != nil {
			t.Fatalf("Failed to parse %s: %v", expr, err)
		}
		return info
	}

	byCountry := orderBy("Address/Country desc")
	token, err := query.ParseSkipToken("'Mexico','ANATR'", byCountry)
	if err != nil {
		t.Fatalf("Failed to parse skip token: %v", err)
	}

	tests := []struct {
		name      string
		q         providers.ResourceSetQuery
		want      []string
		wantCount int64
	}{
		{
			name: "key order",
			q:    providers.ResourceSetQuery{QueryType: query.QueryEntities},
			want: []string{"ALFKI", "ANATR", "ANTON", "BERGS"},
		},
		{
			name: "filter on complex property",
			q:    providers.ResourceSetQuery{QueryType: query.QueryEntities, Filter: compile("Address/Country eq 'Mexico'")},
			want: []string{"ANATR", "ANTON"},
		},
		{
			name: "null filter",
			q:    providers.ResourceSetQuery{QueryType: query.QueryEntities, Filter: compile("Region eq null")},
			want: []string{"ALFKI", "ANTON", "BERGS"},
		},
		{
			name: "order skip top",
			q:    providers.ResourceSetQuery{QueryType: query.QueryEntities, OrderBy: byCountry, Skip: intPtr(1), Top: intPtr(2)},
			want: []string{"ANATR", "ANTON"},
		},
		{
			name: "skip token",
			q:    providers.ResourceSetQuery{QueryType: query.QueryEntities, OrderBy: byCountry, SkipToken: token},
			want: []string{"ANTON", "ALFKI"},
		},
		{
			name:      "inline count ignores paging",
			q:         providers.ResourceSetQuery{QueryType: query.QueryEntitiesWithCount, Top: intPtr(1)},
			want:      []string{"ALFKI"},
			wantCount: 4,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.q.Set = f.customers
			result, err := f.store.GetResourceSet(context.Background(), tt.q)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got := ids(result.Results); !equal(got, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
			if tt.wantCount > 0 && (result.Count == nil || *result.Count != tt.wantCount) {
				t.Errorf("Expected count %d, got %v", tt.wantCount, result.Count)
			}
		})
	}
}

func TestCountQuery(t *testing.T) {
	f := setupStore(t)
	result, err := f.store.GetResourceSet(context.Background(), providers.ResourceSetQuery{
		QueryType: query.QueryCount,
		Set:       f.customers,
		Skip:      intPtr(1),
		Top:       intPtr(2),
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if result.Results != nil {
		t.Error("Expected no entities for a count query")
	}
	if result.Count == nil || *result.Count != 2 {
		t.Errorf("Expected count 2, got %v", result.Count)
	}
}

func TestScopes(t *testing.T) {
	f := setupStore(t)
	f.store.AddScope("Customers", scope.QueryScope{Condition: `"address_country" <> ?`, Args: []any{"Mexico"}})
	result, err := f.store.GetResourceSet(context.Background(), providers.ResourceSetQuery{QueryType: query.QueryEntities, Set: f.customers})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got := ids(result.Results); !equal(got, []string{"ALFKI", "BERGS"}) {
		t.Errorf("Expected scoped customers, got %v", got)
	}
}

func TestRelatedResources(t *testing.T) {
	f := setupStore(t)
	ctx := context.Background()
	key := func(set *metadata.ResourceSetWrapper, predicate string) *segment.KeyDescriptor {
		k, err := segment.ParseKeyPredicate(predicate, set.ResourceType)
		if err != nil {
			t.Fatalf("Failed to parse key: %v", err)
		}
		return k
	}

	alfki, err := f.store.GetResourceFromResourceSet(ctx, f.customers, key(f.customers, "'ALFKI'"), nil)
	if err != nil || alfki == nil {
		t.Fatalf("Expected ALFKI, got %v (%v)", alfki, err)
	}
	if city := alfki.(*Customer).Address.City; city != "Berlin" {
		t.Errorf("Expected the embedded address to load, got %q", city)
	}

	ordersProp := f.customers.ResourceType.Property("Orders")
	result, err := f.store.GetRelatedResourceSet(ctx, providers.RelatedResourceSetQuery{
		QueryType:    query.QueryEntities,
		SourceSet:    f.customers,
		SourceEntity: alfki,
		TargetSet:    f.orders,
		Property:     ordersProp,
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(result.Results) != 2 {
		t.Errorf("Expected 2 orders for ALFKI, got %d", len(result.Results))
	}

	order, err := f.store.GetResourceFromRelatedResourceSet(ctx, f.customers, alfki, f.orders, ordersProp, key(f.orders, "10308"))
	if err != nil || order != nil {
		t.Errorf("Expected order 10308 not to belong to ALFKI, got %v (%v)", order, err)
	}

	order, _ = f.store.GetResourceFromResourceSet(ctx, f.orders, key(f.orders, "10308"), nil)
	customer, err := f.store.GetRelatedResourceReference(ctx, f.orders, order, f.customers, f.orders.ResourceType.Property("Customer"))
	if err != nil || customer == nil || customer.(*Customer).CustomerID != "ANATR" {
		t.Errorf("Expected ANATR, got %v (%v)", customer, err)
	}
}

func TestWrites(t *testing.T) {
	f := setupStore(t)
	ctx := context.Background()
	key, _ := segment.ParseKeyPredicate("'FRANK'", f.customers.ResourceType)

	created, err := f.store.CreateResource(ctx, f.customers, map[string]any{
		"CustomerID":  "FRANK",
		"CompanyName": "Frankenversand",
		"Address":     map[string]any{"City": "München", "Country": "Germany"},
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if created.(*Customer).Address.City != "München" {
		t.Errorf("Unexpected created entity %+v", created)
	}

	updated, err := f.store.UpdateResource(ctx, f.customers, key, map[string]any{"CompanyName": "Frankenversand GmbH"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if updated.(*Customer).CompanyName != "Frankenversand GmbH" {
		t.Errorf("Unexpected updated entity %+v", updated)
	}

	if err := f.store.DeleteResource(ctx, f.customers, key); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if err := f.store.DeleteResource(ctx, f.customers, key); odataerr.StatusCode(err) != http.StatusNotFound {
		t.Errorf("Expected 404, got %v", err)
	}
}
