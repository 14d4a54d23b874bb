package query

import (
	"testing"

	"github.com/nlstn/go-odata-classic/internal/metadata"
)

type address struct {
	City    string
	Country string
}

type customer struct {
	CustomerID  string `odata:"key"`
	CompanyName string
	Rank        *int
	Address     address
	Orders      []order
}

type order struct {
	OrderID      int `odata:"key"`
	CustomerID   string
	Freight      float64
	Customer     *customer
	OrderDetails []orderDetail
}

type orderDetail struct {
	OrderID   int `odata:"key"`
	ProductID int `odata:"key"`
	Quantity  int
}

func newFixtureRegistry(t *testing.T) *metadata.Registry {
	t.Helper()
	r := metadata.NewRegistry("NorthWind", "NorthWindEntities")
	for _, set := range []struct {
		name   string
		entity any
	}{
		{"Customers", customer{}},
		{"Orders", order{}},
		{"Order_Details", orderDetail{}},
	} {
		if _, err := r.RegisterEntitySet(set.name, set.entity); err != nil {
			t.Fatalf("Failed to register %s: %v", set.name, err)
		}
	}
	return r
}

func mustSet(t *testing.T, r *metadata.Registry, name string) *metadata.ResourceSetWrapper {
	t.Helper()
	w, ok := r.ResourceSet(name)
	if !ok {
		t.Fatalf("Missing set %s", name)
	}
	return w
}

func intPtr(i int) *int {
	return &i
}
