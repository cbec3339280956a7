package executor

import (
	"context"
	"time"

	"github.com/sells-group/mailcrm/pkg/hubspot"
	"github.com/sells-group/mailcrm/pkg/salesforce"
)

// mockHub implements hubspot.Client. Unset functions fall back to benign
// defaults: empty searches, successful creates with synthetic ids.
type mockHub struct {
	searchFn      func(ctx context.Context, objectType string, filters []hubspot.Filter, limit int) ([]hubspot.Object, error)
	createFn      func(ctx context.Context, objectType string, props map[string]string) (*hubspot.Object, error)
	updateFn      func(ctx context.Context, objectType, id string, props map[string]string) (*hubspot.Object, error)
	associateFn   func(ctx context.Context, fromType, fromID, toType, toID string) error
	listPropsFn   func(ctx context.Context, objectType string) ([]hubspot.Property, error)
	createPropFn  func(ctx context.Context, objectType string, prop hubspot.PropertyCreate) error
	createGroupFn func(ctx context.Context, objectType string, group hubspot.PropertyGroup) error

	searches     []string
	creates      []string
	updates      []string
	associations []string
	listCalls    int
}

func (m *mockHub) SearchObjects(ctx context.Context, objectType string, filters []hubspot.Filter, limit int) ([]hubspot.Object, error) {
	m.searches = append(m.searches, objectType)
	if m.searchFn != nil {
		return m.searchFn(ctx, objectType, filters, limit)
	}
	return nil, nil
}

func (m *mockHub) CreateObject(ctx context.Context, objectType string, props map[string]string) (*hubspot.Object, error) {
	m.creates = append(m.creates, objectType)
	if m.createFn != nil {
		return m.createFn(ctx, objectType, props)
	}
	return &hubspot.Object{ID: "new-" + objectType, Properties: props}, nil
}

func (m *mockHub) UpdateObject(ctx context.Context, objectType, id string, props map[string]string) (*hubspot.Object, error) {
	m.updates = append(m.updates, objectType+"/"+id)
	if m.updateFn != nil {
		return m.updateFn(ctx, objectType, id, props)
	}
	return &hubspot.Object{ID: id, Properties: props}, nil
}

func (m *mockHub) Associate(ctx context.Context, fromType, fromID, toType, toID string) error {
	m.associations = append(m.associations, fromType+"->"+toType)
	if m.associateFn != nil {
		return m.associateFn(ctx, fromType, fromID, toType, toID)
	}
	return nil
}

func (m *mockHub) ListProperties(ctx context.Context, objectType string) ([]hubspot.Property, error) {
	m.listCalls++
	if m.listPropsFn != nil {
		return m.listPropsFn(ctx, objectType)
	}
	return nil, nil
}

func (m *mockHub) CreateProperty(ctx context.Context, objectType string, prop hubspot.PropertyCreate) error {
	if m.createPropFn != nil {
		return m.createPropFn(ctx, objectType, prop)
	}
	return nil
}

func (m *mockHub) CreatePropertyGroup(ctx context.Context, objectType string, group hubspot.PropertyGroup) error {
	if m.createGroupFn != nil {
		return m.createGroupFn(ctx, objectType, group)
	}
	return nil
}

// mockSF implements salesforce.Client. Unset functions fall back to empty
// query results and successful inserts.
type mockSF struct {
	queryFn    func(ctx context.Context, soql string, out any) error
	insertFn   func(ctx context.Context, name string, record map[string]any) (string, error)
	updateFn   func(ctx context.Context, name, id string, fields map[string]any) error
	describeFn func(ctx context.Context, name string) (*salesforce.SObjectDescription, error)

	queries []string
	inserts []string
	updates []string
}

func (m *mockSF) Query(ctx context.Context, soql string, out any) error {
	m.queries = append(m.queries, soql)
	if m.queryFn != nil {
		return m.queryFn(ctx, soql, out)
	}
	return nil
}

func (m *mockSF) InsertOne(ctx context.Context, name string, record map[string]any) (string, error) {
	m.inserts = append(m.inserts, name)
	if m.insertFn != nil {
		return m.insertFn(ctx, name, record)
	}
	return "sf-new-" + name, nil
}

func (m *mockSF) UpdateOne(ctx context.Context, name, id string, fields map[string]any) error {
	m.updates = append(m.updates, name+"/"+id)
	if m.updateFn != nil {
		return m.updateFn(ctx, name, id, fields)
	}
	return nil
}

func (m *mockSF) DescribeSObject(ctx context.Context, name string) (*salesforce.SObjectDescription, error) {
	if m.describeFn != nil {
		return m.describeFn(ctx, name)
	}
	return &salesforce.SObjectDescription{
		Name: name,
		Fields: []salesforce.SObjectField{
			{Name: "OrderReferenceNumber", Type: "string", Updateable: true},
		},
	}, nil
}

// setRecords fills a SOQL destination with records carrying the given ids.
func setRecords(out any, ids ...string) {
	dst, ok := out.(*[]salesforce.Record)
	if !ok {
		return
	}
	for _, id := range ids {
		*dst = append(*dst, salesforce.Record{ID: id})
	}
}

var fixedNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }
