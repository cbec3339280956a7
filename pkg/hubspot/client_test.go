package hubspot

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchObjects(t *testing.T) {
	var gotBody searchRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/crm/v3/objects/contacts/search", r.URL.Path)
		assert.Equal(t, "Bearer tok-hs", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"total": 1,
			"results": []map[string]any{
				{"id": "201", "properties": map[string]string{"email": "jane@acme.com"}},
			},
		})
	}))
	defer ts.Close()

	client := NewClient("tok-hs", WithBaseURL(ts.URL))
	objs, err := client.SearchObjects(context.Background(), "contacts", []Filter{
		{PropertyName: "email", Operator: "EQ", Value: "jane@acme.com"},
	}, 1)
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.Equal(t, "201", objs[0].ID)
	assert.Equal(t, "jane@acme.com", objs[0].Properties["email"])

	require.Len(t, gotBody.FilterGroups, 1)
	require.Len(t, gotBody.FilterGroups[0].Filters, 1)
	assert.Equal(t, "EQ", gotBody.FilterGroups[0].Filters[0].Operator)
	assert.Equal(t, 1, gotBody.Limit)
}

func TestSearchObjects_NoResults(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"total": 0, "results": []any{}}) //nolint:errcheck
	}))
	defer ts.Close()

	client := NewClient("tok", WithBaseURL(ts.URL))
	objs, err := client.SearchObjects(context.Background(), "companies", nil, 1)
	require.NoError(t, err)
	assert.Empty(t, objs)
}

func TestCreateObject(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/crm/v3/objects/contacts", r.URL.Path)

		var req objectRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "jane@acme.com", req.Properties["email"])

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"id":         "301",
			"properties": req.Properties,
		})
	}))
	defer ts.Close()

	client := NewClient("tok", WithBaseURL(ts.URL))
	obj, err := client.CreateObject(context.Background(), "contacts", map[string]string{
		"email": "jane@acme.com", "firstname": "Jane",
	})
	require.NoError(t, err)
	assert.Equal(t, "301", obj.ID)
}

func TestCreateObject_ConflictCarriesExistingID(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"status":   "error",
			"message":  "Contact already exists. Existing ID: 54321",
			"category": "CONFLICT",
		})
	}))
	defer ts.Close()

	client := NewClient("tok", WithBaseURL(ts.URL))
	_, err := client.CreateObject(context.Background(), "contacts", map[string]string{"email": "dup@acme.com"})
	require.Error(t, err)

	conflict, ok := IsConflict(err)
	require.True(t, ok)
	assert.Equal(t, "54321", conflict.ExistingID)
	assert.Equal(t, 409, StatusCode(err))
}

func TestCreateObject_ConflictWithoutID(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"status":  "error",
			"message": "A record with this value already exists",
		})
	}))
	defer ts.Close()

	client := NewClient("tok", WithBaseURL(ts.URL))
	_, err := client.CreateObject(context.Background(), "companies", map[string]string{"domain": "acme.com"})
	require.Error(t, err)

	conflict, ok := IsConflict(err)
	require.True(t, ok)
	assert.Empty(t, conflict.ExistingID)
}

func TestUpdateObject(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/crm/v3/objects/deals/401", r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"id":         "401",
			"properties": map[string]string{"amount": "5000"},
		})
	}))
	defer ts.Close()

	client := NewClient("tok", WithBaseURL(ts.URL))
	obj, err := client.UpdateObject(context.Background(), "deals", "401", map[string]string{"amount": "5000"})
	require.NoError(t, err)
	assert.Equal(t, "401", obj.ID)
}

func TestAssociate(t *testing.T) {
	var gotPath string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	client := NewClient("tok", WithBaseURL(ts.URL))
	err := client.Associate(context.Background(), "contacts", "201", "companies", "101")
	require.NoError(t, err)
	assert.Equal(t, "/crm/v4/objects/contacts/201/associations/default/companies/101", gotPath)
}

func TestAssociate_Failure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"status":   "error",
			"message":  "No default association type",
			"category": "VALIDATION_ERROR",
		})
	}))
	defer ts.Close()

	client := NewClient("tok", WithBaseURL(ts.URL))
	err := client.Associate(context.Background(), "notes", "1", "tickets", "2")
	require.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, StatusCode(err))
}

func TestListProperties(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/crm/v3/properties/orders", r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"results": []map[string]any{
				{"name": "order_reference", "label": "Order Reference", "type": "string", "fieldType": "text"},
				{"name": "order_amount", "label": "Order Amount", "type": "number", "fieldType": "number"},
			},
		})
	}))
	defer ts.Close()

	client := NewClient("tok", WithBaseURL(ts.URL))
	props, err := client.ListProperties(context.Background(), "orders")
	require.NoError(t, err)
	require.Len(t, props, 2)
	assert.Equal(t, "order_reference", props[0].Name)
	assert.Equal(t, "number", props[1].Type)
}

func TestListProperties_MissingScopes(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"status":   "error",
			"message":  "This app hasn't been granted all required scopes",
			"category": "MISSING_SCOPES",
		})
	}))
	defer ts.Close()

	client := NewClient("tok", WithBaseURL(ts.URL))
	_, err := client.ListProperties(context.Background(), "orders")
	require.Error(t, err)
	assert.True(t, IsMissingScopes(err))
	assert.Equal(t, http.StatusForbidden, StatusCode(err))
}

func TestCreateProperty(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/crm/v3/properties/orders", r.URL.Path)

		var prop PropertyCreate
		require.NoError(t, json.NewDecoder(r.Body).Decode(&prop))
		assert.Equal(t, "order_status", prop.Name)
		assert.Equal(t, "enumeration", prop.Type)

		w.WriteHeader(http.StatusCreated)
	}))
	defer ts.Close()

	client := NewClient("tok", WithBaseURL(ts.URL))
	err := client.CreateProperty(context.Background(), "orders", PropertyCreate{
		Name: "order_status", Label: "Order Status", Type: "enumeration", FieldType: "select",
		GroupName: "mailcrm_orders",
		Options: []PropertyOption{
			{Label: "Processing", Value: "processing"},
		},
	})
	require.NoError(t, err)
}

func TestCreatePropertyGroup(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/crm/v3/properties/orders/groups", r.URL.Path)
		w.WriteHeader(http.StatusCreated)
	}))
	defer ts.Close()

	client := NewClient("tok", WithBaseURL(ts.URL))
	err := client.CreatePropertyGroup(context.Background(), "orders", PropertyGroup{
		Name: "mailcrm_orders", Label: "Mail Routing",
	})
	require.NoError(t, err)
}

func TestStatusCode_GenericAPIError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"status":"error","message":"Rate limited","category":"RATE_LIMITS"}`)) //nolint:errcheck
	}))
	defer ts.Close()

	client := NewClient("tok", WithBaseURL(ts.URL))
	_, err := client.SearchObjects(context.Background(), "contacts", nil, 1)
	require.Error(t, err)
	assert.Equal(t, http.StatusTooManyRequests, StatusCode(err))
}

func TestExtractExistingID(t *testing.T) {
	cases := map[string]string{
		"Contact already exists. Existing ID: 54321": "54321",
		"existing id 777":            "777",
		"Existing ID:99":             "99",
		"no id in this message":      "",
		"Existing ID: not-a-number":  "",
		"ID 123 but not the keyword": "",
	}
	for msg, want := range cases {
		assert.Equal(t, want, extractExistingID(msg), msg)
	}
}
