package traversal

import (
	"net/http"
	"testing"

	"github.com/nlstn/go-odata-classic/internal/metadata"
	"github.com/nlstn/go-odata-classic/internal/odataerr"
	"github.com/nlstn/go-odata-classic/internal/query"
)

type customer struct {
	CustomerID string `odata:"key"`
	Name       string
	Orders     []order
}

type order struct {
	OrderID  int `odata:"key"`
	Customer *customer
}

func fixture(t *testing.T, expand string) (*metadata.Registry, *query.RootProjectionNode, *metadata.ResourceSetWrapper) {
	t.Helper()
	r := metadata.NewRegistry("NorthWind", "NorthWindEntities")
	customers, err := r.RegisterEntitySet("Customers", customer{})
	if err != nil {
		t.Fatalf("Failed to register Customers: %v", err)
	}
	if _, err := r.RegisterEntitySet("Orders", order{}); err != nil {
		t.Fatalf("Failed to register Orders: %v", err)
	}
	root := query.NewRootProjectionNode(customers, nil)
	if err := query.ApplyExpandAndSelect(root, expand, "", r, 0); err != nil {
		t.Fatalf("Failed to apply $expand: %v", err)
	}
	return r, root, customers
}

func TestStackWithoutExpansion(t *testing.T) {
	r, root, customers := fixture(t, "")
	s := New(root, customers, "Customers")
	if s.PushRoot() {
		t.Error("Expected no push without an expansion")
	}
	pushed, err := s.PushForNavigationProperty(customers.ResourceType.Property("Orders"), r)
	if err != nil || pushed {
		t.Errorf("Expected no push, got %v (%v)", pushed, err)
	}
	if s.Depth() != 0 || !s.IsRoot() || s.CurrentResourceSetWrapper() != customers {
		t.Error("Expected the stack to stay empty")
	}
	if err := s.Pop(false); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestStackNavigation(t *testing.T) {
	r, root, customers := fixture(t, "Orders/Customer")
	s := New(root, customers, "Customers")
	if !s.PushRoot() {
		t.Fatal("Expected the root segment to be pushed")
	}

	orders := customers.ResourceType.Property("Orders")
	err := s.Descend(orders, r, func() error {
		if s.Depth() != 2 || s.IsRoot() {
			t.Errorf("Expected depth 2, got %d", s.Depth())
		}
		if s.CurrentResourceSetWrapper().Name != "Orders" {
			t.Errorf("Expected Orders, got %s", s.CurrentResourceSetWrapper().Name)
		}
		node, err := s.CurrentExpandedProjectionNode()
		if err != nil || node.PropertyName() != "Orders" {
			t.Errorf("Expected the Orders node, got %v (%v)", node, err)
		}
		expand, err := s.ShouldExpandSegment("Customer")
		if err != nil || !expand {
			t.Errorf("Expected Customer to be expanded below Orders")
		}
		children, err := s.ExpandedProjectionNodes()
		if err != nil || len(children) != 1 {
			t.Errorf("Expected one expansion below Orders, got %d", len(children))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if s.Depth() != 1 {
		t.Errorf("Expected descend to restore depth 1, got %d", s.Depth())
	}
	if names := s.Names(); len(names) != 1 || names[0] != "Customers" {
		t.Errorf("Unexpected names %v", names)
	}

	if err := s.Pop(true); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if err := s.Pop(true); odataerr.StatusCode(err) != http.StatusInternalServerError {
		t.Errorf("Expected an unbalanced pop to fail with 500, got %v", err)
	}
}

func TestStackDescendPopsOnError(t *testing.T) {
	r, root, customers := fixture(t, "Orders")
	s := New(root, customers, "Customers")
	s.PushRoot()
	err := s.Descend(customers.ResourceType.Property("Orders"), r, func() error {
		return odataerr.BadRequest("boom")
	})
	if odataerr.StatusCode(err) != http.StatusBadRequest {
		t.Errorf("Expected the callback error, got %v", err)
	}
	if s.Depth() != 1 {
		t.Errorf("Expected depth 1 after a failed descend, got %d", s.Depth())
	}
}

func TestStackErrors(t *testing.T) {
	r, root, customers := fixture(t, "Orders")
	s := New(root, customers, "Customers")

	if _, err := s.PushForNavigationProperty(customers.ResourceType.Property("Orders"), r); err == nil {
		t.Error("Expected an error when no root segment was pushed")
	}
	if _, err := s.PushForNavigationProperty(customers.ResourceType.Property("Name"), r); err == nil {
		t.Error("Expected an error for a primitive property")
	}

	s.PushRoot()
	s.push("Missing", customers)
	if _, err := s.CurrentExpandedProjectionNode(); odataerr.StatusCode(err) != http.StatusInternalServerError {
		t.Errorf("Expected an unexpected state error, got %v", err)
	}
}

func TestIncrementResultCount(t *testing.T) {
	_, root, customers := fixture(t, "Orders")
	s := New(root, customers, "Customers")
	if s.IncrementResultCount() != 0 {
		t.Error("Expected no counting on an empty stack")
	}
	s.PushRoot()
	s.IncrementResultCount()
	if n := s.IncrementResultCount(); n != 2 {
		t.Errorf("Expected 2, got %d", n)
	}
}
