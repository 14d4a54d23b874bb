package metadata

import (
	"errors"
	"testing"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry("NorthWind", "NorthWindEntities")
	if _, err := r.RegisterEntity(testCustomer{}); err != nil {
		t.Fatalf("Failed to register customers: %v", err)
	}
	if _, err := r.RegisterEntity(testOrder{}); err != nil {
		t.Fatalf("Failed to register orders: %v", err)
	}
	return r
}

func TestRegistryResolvesNavigationTargets(t *testing.T) {
	r := newTestRegistry(t)
	customers, ok := r.ResourceSet("testCustomers")
	if !ok {
		t.Fatal("Expected testCustomers set")
	}
	orders, _ := r.ResourceSet("testOrders")

	prop := customers.ResourceType.Property("Orders")
	if prop.ResourceType != orders.ResourceType {
		t.Fatal("Expected Orders navigation to resolve to the order type")
	}

	target, err := r.ResourceSetWrapperForNavigationProperty(customers, customers.ResourceType, prop)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if target != orders {
		t.Errorf("Expected testOrders, got %s", target.Name)
	}

	back := orders.ResourceType.Property("Customer")
	target, err = r.ResourceSetWrapperForNavigationProperty(orders, orders.ResourceType, back)
	if err != nil || target != customers {
		t.Errorf("Expected testCustomers, got %v (%v)", target, err)
	}
}

func TestRegistryAmbiguousNavigation(t *testing.T) {
	r := newTestRegistry(t)
	if _, err := r.RegisterEntitySet("ArchivedOrders", testOrder{}); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	customers, _ := r.ResourceSet("testCustomers")
	prop := customers.ResourceType.Property("Orders")
	if _, err := r.ResourceSetWrapperForNavigationProperty(customers, customers.ResourceType, prop); err == nil {
		t.Fatal("Expected ambiguity error")
	}

	if err := r.SetNavigationTarget("testCustomers", "Orders", "ArchivedOrders"); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	target, err := r.ResourceSetWrapperForNavigationProperty(customers, customers.ResourceType, prop)
	if err != nil || target.Name != "ArchivedOrders" {
		t.Errorf("Expected ArchivedOrders, got %v (%v)", target, err)
	}
}

func TestRegistryPageSize(t *testing.T) {
	r := newTestRegistry(t)
	if err := r.SetPageSize("testOrders", 5); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	orders, _ := r.ResourceSet("testOrders")
	if !orders.IsPaged() || orders.PageSize() != 5 {
		t.Errorf("Expected page size 5, got %d", orders.PageSize())
	}
	if err := r.SetPageSize("Missing", 5); err == nil {
		t.Error("Expected error for unknown set")
	}
	if err := r.SetPageSize("testOrders", -1); err == nil {
		t.Error("Expected error for negative page size")
	}
}

func TestRegistryDuplicateSet(t *testing.T) {
	r := newTestRegistry(t)
	if _, err := r.RegisterEntity(testCustomer{}); err == nil {
		t.Error("Expected duplicate set error")
	}
}

func TestGetAndSetValue(t *testing.T) {
	c := &testCustomer{CustomerID: "ALFKI"}

	v, err := GetValue(c, "CustomerID")
	if err != nil || v != "ALFKI" {
		t.Errorf("Expected ALFKI, got %v (%v)", v, err)
	}
	if _, err := GetValue(c, "Nope"); !errors.Is(err, ErrPropertyNotFound) {
		t.Errorf("Expected ErrPropertyNotFound, got %v", err)
	}

	orders := []any{&testOrder{OrderID: 1}, &testOrder{OrderID: 2}}
	if err := SetValue(c, "Orders", orders); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(c.Orders) != 2 || c.Orders[1].OrderID != 2 {
		t.Errorf("Unexpected orders %v", c.Orders)
	}

	o := &testOrder{}
	if err := SetValue(o, "Customer", c); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if o.Customer != c {
		t.Error("Expected customer pointer to be assigned")
	}
	if err := SetValue(o, "OrderID", int32(9)); err != nil || o.OrderID != 9 {
		t.Errorf("Expected int conversion, got %d (%v)", o.OrderID, err)
	}
	if err := SetValue(*o, "OrderID", 1); err == nil {
		t.Error("Expected error setting on non-pointer struct")
	}

	m := map[string]any{"Name": "x"}
	if v, _ := GetValue(m, "Name"); v != "x" {
		t.Errorf("Expected x, got %v", v)
	}
	if err := SetValue(m, "Name", "y"); err != nil || m["Name"] != "y" {
		t.Errorf("Expected y, got %v (%v)", m["Name"], err)
	}
}
