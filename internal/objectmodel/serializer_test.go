package objectmodel

import (
	"context"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/nlstn/go-odata-classic/internal/host"
	"github.com/nlstn/go-odata-classic/internal/metadata"
	"github.com/nlstn/go-odata-classic/internal/providers"
	"github.com/nlstn/go-odata-classic/internal/providers/memory"
	"github.com/nlstn/go-odata-classic/internal/uriprocessor"
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

type Product struct {
	ProductID int     `odata:"key"`
	Name      string  `odata:"etag"`
	Category  *string `odata:"etag"`
}

const serviceRoot = "http://localhost/NorthWind.svc"

func newRegistry(t *testing.T, customerPage, orderPage int) *metadata.Registry {
	t.Helper()
	r := metadata.NewRegistry("NorthWind", "NorthWindEntities")
	for name, entity := range map[string]any{"Customers": Customer{}, "Orders": Order{}, "Products": Product{}} {
		if _, err := r.RegisterEntitySet(name, entity); err != nil {
			t.Fatalf("Failed to register %s: %v", name, err)
		}
	}
	for name, size := range map[string]int{"Customers": customerPage, "Orders": orderPage} {
		if size == 0 {
			continue
		}
		if err := r.SetPageSize(name, size); err != nil {
			t.Fatalf("Failed to set page size of %s: %v", name, err)
		}
	}
	return r
}

func setup(t *testing.T, customerPage, orderPage int) *providers.Wrapper {
	t.Helper()
	r := newRegistry(t, customerPage, orderPage)
	mem := memory.New(r)
	alfki := &Customer{CustomerID: "ALFKI", CompanyName: "Alfreds Futterkiste", Country: "Germany",
		Orders: []Order{{OrderID: 10643, Freight: 29.46}, {OrderID: 10692, Freight: 61.02}}}
	if err := mem.Add("Customers",
		&Customer{CustomerID: "ANTON", CompanyName: "Antonio Moreno", Country: "Mexico"},
		alfki,
		&Customer{CustomerID: "ANATR", CompanyName: "Ana Trujillo", Country: "Mexico"},
	); err != nil {
		t.Fatalf("Failed to seed customers: %v", err)
	}
	if err := mem.Add("Orders", &Order{OrderID: 10643, Freight: 29.46, Customer: alfki}, &Order{OrderID: 10692, Freight: 61.02, Customer: alfki}); err != nil {
		t.Fatalf("Failed to seed orders: %v", err)
	}
	w, err := providers.NewWrapper(mem, r)
	if err != nil {
		t.Fatalf("Failed to create wrapper: %v", err)
	}
	return w
}

// serializerFor executes target and returns a serializer for its result.
func serializerFor(t *testing.T, w *providers.Wrapper, target string) (*Serializer, *uriprocessor.Processor) {
	t.Helper()
	req := httptest.NewRequest("GET", serviceRoot+"/"+strings.ReplaceAll(target, " ", "%20"), nil)
	h, err := host.New(req, "/NorthWind.svc")
	if err != nil {
		t.Fatalf("Failed to create host: %v", err)
	}
	p, err := uriprocessor.Process(w, h, uriprocessor.Options{})
	if err != nil {
		t.Fatalf("Process(%s) failed: %v", target, err)
	}
	if err := p.Execute(context.Background()); err != nil {
		t.Fatalf("Execute(%s) failed: %v", target, err)
	}
	path, _, _ := strings.Cut(target, "?")
	return NewSerializer(p.Request(), w, serviceRoot, serviceRoot+"/"+path), p
}

func TestEntryKey(t *testing.T) {
	r := newRegistry(t, 0, 0)
	customers, _ := r.ResourceSet("Customers")
	orders, _ := r.ResourceSet("Orders")

	tests := []struct {
		name     string
		entity   any
		set      *metadata.ResourceSetWrapper
		expected string
	}{
		{"string key", &Customer{CustomerID: "ALFKI"}, customers, "Customers(CustomerID='ALFKI')"},
		{"escaped string key", &Customer{CustomerID: "O'NEIL CO"}, customers, "Customers(CustomerID='O''NEIL%20CO')"},
		{"int key", Order{OrderID: 10643}, orders, "Orders(OrderID=10643)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EntryKey(tt.entity, tt.set.ResourceType, tt.set.Name)
			if err != nil {
				t.Fatalf("EntryKey failed: %v", err)
			}
			if got != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, got)
			}
		})
	}
}

func TestETag(t *testing.T) {
	r := newRegistry(t, 0, 0)
	products, _ := r.ResourceSet("Products")
	customers, _ := r.ResourceSet("Customers")
	beverages := "Beverages"

	tests := []struct {
		name     string
		entity   any
		rt       *metadata.ResourceType
		expected string
	}{
		{"null value", &Product{ProductID: 1, Name: "x"}, products.ResourceType, `W/"x,null"`},
		{"all values", &Product{ProductID: 1, Name: "Chai", Category: &beverages}, products.ResourceType, `W/"Chai,Beverages"`},
		{"quote and space", &Product{ProductID: 1, Name: "Uncle Bob's"}, products.ResourceType, `W/"Uncle Bob's,null"`},
		{"no etag properties", &Customer{CustomerID: "ALFKI"}, customers.ResourceType, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ETag(tt.entity, tt.rt)
			if err != nil {
				t.Fatalf("ETag failed: %v", err)
			}
			if got != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, got)
			}
		})
	}
}

func TestBuildSelectExpandPaths(t *testing.T) {
	w := setup(t, 0, 0)
	_, p := serializerFor(t, w, "Customers?$select=CustomerID,Orders/OrderID&$expand=Orders")

	sel, expand := BuildSelectExpandPaths(p.Request().RootProjectionNode().Node())
	if sel != "CustomerID,Orders/OrderID" {
		t.Errorf("Expected select CustomerID,Orders/OrderID, got %q", sel)
	}
	if expand != "Orders" {
		t.Errorf("Expected expand Orders, got %q", expand)
	}
}

func TestWriteTopLevelElementsPaging(t *testing.T) {
	tests := []struct {
		name     string
		target   string
		entries  int
		nextLink string
	}{
		{"full page", "Customers", 2, serviceRoot + "/Customers?$skiptoken='ANATR'"},
		{"top within page", "Customers?$top=2", 2, ""},
		{"top beyond page", "Customers?$top=3", 2, serviceRoot + "/Customers?$top=1&$skiptoken='ANATR'"},
		{"last page", "Customers?$skiptoken='ANATR'", 1, ""},
		{"filter kept", "Customers?$filter=Country eq 'Mexico'&$top=5", 2, serviceRoot + "/Customers?$filter=Country%20eq%20'Mexico'&$top=3&$skiptoken='ANTON'"},
		{"format kept", "Customers?$format=json", 2, serviceRoot + "/Customers?$format=json&$skiptoken='ANATR'"},
		{"custom option kept", "Customers?mode=fast", 2, serviceRoot + "/Customers?mode=fast&$skiptoken='ANATR'"},
		{"skip dropped", "Customers?$skip=1", 2, serviceRoot + "/Customers?$skiptoken='ANTON'"},
		{"skip token replaced", "Customers?$skiptoken='ALFKI'", 2, serviceRoot + "/Customers?$skiptoken='ANTON'"},
		{"percent literal", "Customers?$filter=CompanyName ne '100%25'", 2, serviceRoot + "/Customers?$filter=CompanyName%20ne%20'100%25'&$skiptoken='ANATR'"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := setup(t, 2, 0)
			s, p := serializerFor(t, w, tt.target)
			feed, err := s.WriteTopLevelElements(p.Request().TargetResult().Entities())
			if err != nil {
				t.Fatalf("WriteTopLevelElements failed: %v", err)
			}
			if len(feed.Entries) != tt.entries {
				t.Fatalf("Expected %d entries, got %d", tt.entries, len(feed.Entries))
			}
			if tt.nextLink == "" {
				if feed.NextPageLink != nil {
					t.Errorf("Expected no next link, got %s", feed.NextPageLink.URL)
				}
				return
			}
			if feed.NextPageLink == nil {
				t.Fatalf("Expected next link %s, got none", tt.nextLink)
			}
			if feed.NextPageLink.URL != tt.nextLink {
				t.Errorf("Expected next link %s, got %s", tt.nextLink, feed.NextPageLink.URL)
			}
			if _, err := url.Parse(feed.NextPageLink.URL); err != nil {
				t.Fatalf("Next link %s does not parse: %v", feed.NextPageLink.URL, err)
			}
			next, np := serializerFor(t, w, strings.TrimPrefix(feed.NextPageLink.URL, serviceRoot+"/"))
			if _, err := next.WriteTopLevelElements(np.Request().TargetResult().Entities()); err != nil {
				t.Errorf("Following %s failed: %v", feed.NextPageLink.URL, err)
			}
		})
	}
}

func TestWriteTopLevelElementsFeed(t *testing.T) {
	w := setup(t, 0, 0)
	s, p := serializerFor(t, w, "Customers?$inlinecount=allpages&$top=1")
	feed, err := s.WriteTopLevelElements(p.Request().TargetResult().Entities())
	if err != nil {
		t.Fatalf("WriteTopLevelElements failed: %v", err)
	}
	if feed.ID != serviceRoot+"/Customers" {
		t.Errorf("Expected feed id %s/Customers, got %s", serviceRoot, feed.ID)
	}
	if feed.SelfLink.URL != "Customers" {
		t.Errorf("Expected self link Customers, got %s", feed.SelfLink.URL)
	}
	if feed.RowCount == nil || *feed.RowCount != 3 {
		t.Fatalf("Expected row count 3, got %v", feed.RowCount)
	}
	if len(feed.Entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(feed.Entries))
	}
}

func TestWriteTopLevelElement(t *testing.T) {
	w := setup(t, 0, 0)
	s, p := serializerFor(t, w, "Customers('ALFKI')")
	entry, err := s.WriteTopLevelElement(p.Request().TargetResult().Entity())
	if err != nil {
		t.Fatalf("WriteTopLevelElement failed: %v", err)
	}
	if entry.ID != serviceRoot+"/Customers(CustomerID='ALFKI')" {
		t.Errorf("Unexpected entry id %s", entry.ID)
	}
	if entry.EditLink != "Customers(CustomerID='ALFKI')" {
		t.Errorf("Unexpected edit link %s", entry.EditLink)
	}
	if entry.Type != "NorthWind.Customer" {
		t.Errorf("Expected type NorthWind.Customer, got %s", entry.Type)
	}
	if len(entry.PropertyContent.Properties) != 3 {
		t.Fatalf("Expected 3 properties, got %d", len(entry.PropertyContent.Properties))
	}
	if len(entry.Links) != 1 {
		t.Fatalf("Expected 1 navigation link, got %d", len(entry.Links))
	}
	link := entry.Links[0]
	if link.Name != RelatedLinkRelationPrefix+"Orders" || link.URL != "Customers(CustomerID='ALFKI')/Orders" {
		t.Errorf("Unexpected navigation link %s -> %s", link.Name, link.URL)
	}
	if link.IsExpanded || link.Type != FeedLinkType {
		t.Errorf("Expected a deferred feed link, got expanded=%v type=%s", link.IsExpanded, link.Type)
	}
}

func TestWriteExpandedEntry(t *testing.T) {
	w := setup(t, 0, 2)
	s, p := serializerFor(t, w, "Customers('ALFKI')?$expand=Orders&$select=CustomerID,Orders")
	entry, err := s.WriteTopLevelElement(p.Request().TargetResult().Entity())
	if err != nil {
		t.Fatalf("WriteTopLevelElement failed: %v", err)
	}
	if len(entry.PropertyContent.Properties) != 1 || entry.PropertyContent.Properties[0].Name != "CustomerID" {
		t.Fatalf("Expected only CustomerID to be selected, got %d properties", len(entry.PropertyContent.Properties))
	}
	if len(entry.Links) != 1 || !entry.Links[0].IsExpanded {
		t.Fatalf("Expected an expanded Orders link")
	}
	feed := entry.Links[0].ExpandedFeed
	if feed == nil || len(feed.Entries) != 2 {
		t.Fatalf("Expected an inline feed with 2 orders")
	}
	if feed.Entries[0].ID != serviceRoot+"/Orders(OrderID=10643)" {
		t.Errorf("Unexpected inline entry id %s", feed.Entries[0].ID)
	}
	expected := serviceRoot + "/Customers(CustomerID='ALFKI')/Orders?$skiptoken=10692"
	if feed.NextPageLink == nil || feed.NextPageLink.URL != expected {
		t.Errorf("Expected inline next link %s, got %+v", expected, feed.NextPageLink)
	}
}

func TestWriteURLElements(t *testing.T) {
	w := setup(t, 0, 0)
	s, p := serializerFor(t, w, "Customers('ALFKI')/$links/Orders?$inlinecount=allpages")
	urls, err := s.WriteURLElements(p.Request().TargetResult().Entities())
	if err != nil {
		t.Fatalf("WriteURLElements failed: %v", err)
	}
	if len(urls.URLs) != 2 {
		t.Fatalf("Expected 2 urls, got %d", len(urls.URLs))
	}
	if urls.URLs[1].URL != serviceRoot+"/Orders(OrderID=10692)" {
		t.Errorf("Unexpected url %s", urls.URLs[1].URL)
	}
	if urls.Count == nil || *urls.Count != 2 {
		t.Errorf("Expected count 2, got %v", urls.Count)
	}
}

func TestWriteTopLevelPrimitive(t *testing.T) {
	w := setup(t, 0, 0)
	s, p := serializerFor(t, w, "Customers('ALFKI')/CompanyName")
	last := p.Request().LastSegment()
	prop, err := s.WriteTopLevelPrimitive(last.Result().Value(), last.Property)
	if err != nil {
		t.Fatalf("WriteTopLevelPrimitive failed: %v", err)
	}
	if prop.Name != "CompanyName" || prop.TypeName != "Edm.String" || prop.Value != "Alfreds Futterkiste" {
		t.Errorf("Unexpected property %+v", prop)
	}
}
