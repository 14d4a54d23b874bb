package segment

import (
	"net/http"
	"strings"
	"testing"

	"github.com/nlstn/go-odata-classic/internal/metadata"
	"github.com/nlstn/go-odata-classic/internal/odataerr"
)

type address struct {
	City    string
	Country string
}

type customer struct {
	CustomerID  string `odata:"key"`
	CompanyName string
	Address     address
	Phones      []string
	Orders      []order
}

type order struct {
	OrderID      int `odata:"key"`
	Customer     *customer
	OrderDetails []orderDetail
}

type orderDetail struct {
	OrderID   int `odata:"key"`
	ProductID int `odata:"key"`
}

type photo struct {
	ID int
}

func (photo) HasStream() bool { return true }

func newRegistry(t *testing.T) *metadata.Registry {
	t.Helper()
	r := metadata.NewRegistry("NorthWind", "NorthWindEntities")
	for name, entity := range map[string]any{
		"Customers":     customer{},
		"Orders":        order{},
		"Order_Details": orderDetail{},
		"Photos":        photo{},
	} {
		if _, err := r.RegisterEntitySet(name, entity); err != nil {
			t.Fatalf("Failed to register %s: %v", name, err)
		}
	}
	return r
}

func parsePath(t *testing.T, r *metadata.Registry, path string) ([]*Descriptor, error) {
	t.Helper()
	var segments []string
	if path != "" {
		segments = strings.Split(path, "/")
	}
	return Parse(segments, r)
}

func TestParseKinds(t *testing.T) {
	r := newRegistry(t)
	tests := []struct {
		path   string
		kinds  []TargetKind
		single bool
	}{
		{"", []TargetKind{KindServiceDirectory}, true},
		{"$batch", []TargetKind{KindBatch}, true},
		{"Customers", []TargetKind{KindResourceSet}, false},
		{"Customers('ALFKI')", []TargetKind{KindResource}, true},
		{"Customers('ALFKI')/Orders", []TargetKind{KindResource, KindResourceSet}, false},
		{"Customers('ALFKI')/Orders(10643)", []TargetKind{KindResource, KindResource}, true},
		{"Customers('ALFKI')/Orders(10643)/Customer", []TargetKind{KindResource, KindResource, KindResource}, true},
		{"Customers/$count", []TargetKind{KindResourceSet, KindCount}, true},
		{"Customers('ALFKI')/Orders/$count", []TargetKind{KindResource, KindResourceSet, KindCount}, true},
		{"Customers('ALFKI')/$links/Orders", []TargetKind{KindResource, KindLink, KindResourceSet}, false},
		{"Customers('ALFKI')/$links/Orders/$count", []TargetKind{KindResource, KindLink, KindResourceSet, KindCount}, true},
		{"Customers('ALFKI')/CompanyName", []TargetKind{KindResource, KindPrimitive}, true},
		{"Customers('ALFKI')/CompanyName/$value", []TargetKind{KindResource, KindPrimitive, KindPrimitiveValue}, true},
		{"Customers('ALFKI')/Address", []TargetKind{KindResource, KindComplexObject}, true},
		{"Customers('ALFKI')/Address/Country", []TargetKind{KindResource, KindComplexObject, KindPrimitive}, true},
		{"Customers('ALFKI')/Phones", []TargetKind{KindResource, KindBag}, false},
		{"Photos(1)/$value", []TargetKind{KindResource, KindMediaResource}, true},
		{"Order_Details(OrderID=1,ProductID=2)", []TargetKind{KindResource}, true},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			descriptors, err := parsePath(t, r, tt.path)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if len(descriptors) != len(tt.kinds) {
				t.Fatalf("Expected %d descriptors, got %d", len(tt.kinds), len(descriptors))
			}
			for i, kind := range tt.kinds {
				if descriptors[i].Kind != kind {
					t.Errorf("Segment %d: expected %s, got %s", i, kind, descriptors[i].Kind)
				}
			}
			last := descriptors[len(descriptors)-1]
			if last.Single != tt.single {
				t.Errorf("Expected single=%v, got %v", tt.single, last.Single)
			}
			if last.Next() != nil {
				t.Error("Expected last descriptor to have no next")
			}
			for i := 1; i < len(descriptors); i++ {
				if descriptors[i].Prev() != descriptors[i-1] || descriptors[i-1].Next() != descriptors[i] {
					t.Errorf("Descriptor %d is not linked", i)
				}
			}
		})
	}
}

func TestParseNavigationTargets(t *testing.T) {
	r := newRegistry(t)
	descriptors, err := parsePath(t, r, "Customers('ALFKI')/Orders(10643)/OrderDetails")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if descriptors[0].Source != SourceEntitySet || descriptors[1].Source != SourceProperty {
		t.Error("Unexpected target sources")
	}
	if descriptors[1].ResourceSetWrapper.Name != "Orders" || descriptors[2].ResourceSetWrapper.Name != "Order_Details" {
		t.Errorf("Unexpected sets %s, %s", descriptors[1].ResourceSetWrapper.Name, descriptors[2].ResourceSetWrapper.Name)
	}
	if v, _ := descriptors[1].Key.Value("OrderID"); v != int32(10643) {
		t.Errorf("Expected key 10643, got %#v", v)
	}
	if descriptors[1].Property.Name != "Orders" {
		t.Errorf("Expected Orders property, got %s", descriptors[1].Property.Name)
	}
	if descriptors[1].IsNextCount() {
		t.Error("Expected no $count to follow")
	}
}

func TestParseErrors(t *testing.T) {
	r := newRegistry(t)
	tests := []struct {
		path   string
		status int
	}{
		{"Nope", http.StatusNotFound},
		{"Customers('ALFKI')/Nope", http.StatusNotFound},
		{"$metadata", http.StatusNotImplemented},
		{"$count", http.StatusBadRequest},
		{"$batch/Customers", http.StatusBadRequest},
		{"Customers/Orders", http.StatusBadRequest},
		{"Customers('ALFKI'", http.StatusBadRequest},
		{"Customers()", http.StatusBadRequest},
		{"Customers(1)", http.StatusBadRequest},
		{"Customers('ALFKI')/$count", http.StatusBadRequest},
		{"Customers/$count/$value", http.StatusBadRequest},
		{"Customers('ALFKI')/$links", http.StatusBadRequest},
		{"Customers('ALFKI')/$links/CompanyName", http.StatusBadRequest},
		{"Customers('ALFKI')/$links/Orders(1)/Customer", http.StatusBadRequest},
		{"Customers('ALFKI')/CompanyName/Length", http.StatusBadRequest},
		{"Customers('ALFKI')/CompanyName('x')", http.StatusBadRequest},
		{"Customers('ALFKI')/$value", http.StatusBadRequest},
		{"Customers('ALFKI')/Orders(1)/Customer('x')", http.StatusBadRequest},
		{"Order_Details(1)", http.StatusBadRequest},
		{"Order_Details(OrderID=1)", http.StatusBadRequest},
		{"Order_Details(OrderID=1,OrderID=2)", http.StatusBadRequest},
		{"Orders(null)", http.StatusBadRequest},
		{"Customers('ALFKI')/Phones/$count", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			_, err := parsePath(t, r, tt.path)
			if err == nil {
				t.Fatal("Expected error")
			}
			if got := odataerr.StatusCode(err); got != tt.status {
				t.Errorf("Expected status %d, got %d (%v)", tt.status, got, err)
			}
		})
	}
}

func TestKeyDescriptorString(t *testing.T) {
	r := newRegistry(t)
	customers, _ := r.ResourceSet("Customers")
	key, err := ParseKeyPredicate("'Antonio Moreno'", customers.ResourceType)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if key.String() != "('Antonio%20Moreno')" {
		t.Errorf("Unexpected key string %q", key.String())
	}

	details, _ := r.ResourceSet("Order_Details")
	key, err = ParseKeyPredicate("ProductID=2, OrderID=1", details.ResourceType)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if key.String() != "(OrderID=1,ProductID=2)" {
		t.Errorf("Unexpected key string %q", key.String())
	}

	ok, err := key.Matches(&orderDetail{OrderID: 1, ProductID: 2})
	if err != nil || !ok {
		t.Errorf("Expected key to match, got %v (%v)", ok, err)
	}
	ok, _ = key.Matches(&orderDetail{OrderID: 1, ProductID: 3})
	if ok {
		t.Error("Expected key not to match")
	}
}

func TestResultVariants(t *testing.T) {
	if !EntityResult(nil).IsNull() {
		t.Error("Expected nil entity to be a null result")
	}
	var missing *customer
	if !EntityResult(missing).IsNull() {
		t.Error("Expected nil pointer entity to be a null result")
	}
	if r := EntitiesResult(nil); r.Kind() != ResultEntities || r.Entities() == nil {
		t.Error("Expected empty non-nil collection")
	}
	if r := CountResult(3); r.Kind() != ResultCount || r.Any() != int64(3) {
		t.Errorf("Unexpected count result %v", r.Any())
	}
	if r := ValueResult(nil); r.IsNull() || r.Kind() != ResultValue {
		t.Error("Expected null value to be kept as a value result")
	}
}
