package executor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/mailcrm/internal/model"
	"github.com/sells-group/mailcrm/pkg/hubspot"
)

func orderPlan() model.Plan {
	return model.Plan{
		MessageID: "m1",
		Kind:      model.KindOrder,
		Order:     &model.OrderPlan{Reference: "SO-1009", Amount: "250", Status: "processing"},
	}
}

func TestHubOrderProperties_SelectsExisting(t *testing.T) {
	var gotProps map[string]string
	hub := &mockHub{
		listPropsFn: func(ctx context.Context, objectType string) ([]hubspot.Property, error) {
			require.Equal(t, "orders", objectType)
			return []hubspot.Property{
				{Name: "order_reference", Type: "string"},
				{Name: "total", Type: "number"},
				{Name: "status", Type: "enumeration"},
			}, nil
		},
		createFn: func(ctx context.Context, objectType string, props map[string]string) (*hubspot.Object, error) {
			gotProps = props
			return &hubspot.Object{ID: "o1"}, nil
		},
	}
	x := New(hub, nil, WithClock(fixedClock))

	res, err := x.Execute(context.Background(), "u1", orderPlan(), model.ProviderHubSpot)

	require.NoError(t, err)
	assert.Equal(t, "o1", res.RecordID(model.KindOrder))
	assert.Equal(t, "SO-1009", gotProps["order_reference"])
	assert.Equal(t, "250", gotProps["total"])
	assert.Equal(t, "processing", gotProps["status"])
}

func TestHubOrderProperties_TypeMismatchSkipped(t *testing.T) {
	created := map[string]hubspot.PropertyCreate{}
	hub := &mockHub{
		listPropsFn: func(ctx context.Context, objectType string) ([]hubspot.Property, error) {
			// "amount" exists but with the wrong type, so it is not usable.
			return []hubspot.Property{
				{Name: "order_reference", Type: "string"},
				{Name: "amount", Type: "string"},
				{Name: "order_status", Type: "enumeration"},
			}, nil
		},
		createPropFn: func(ctx context.Context, objectType string, prop hubspot.PropertyCreate) error {
			created[prop.Name] = prop
			return nil
		},
	}
	x := New(hub, nil, WithClock(fixedClock))

	_, err := x.Execute(context.Background(), "u1", orderPlan(), model.ProviderHubSpot)

	require.NoError(t, err)
	require.Contains(t, created, "order_amount")
	assert.Equal(t, "number", created["order_amount"].Type)
	assert.NotContains(t, created, "order_reference")
	assert.NotContains(t, created, "order_status")
}

func TestHubOrderProperties_ProvisionsWhenMissing(t *testing.T) {
	var groups []string
	created := map[string]hubspot.PropertyCreate{}
	hub := &mockHub{
		createGroupFn: func(ctx context.Context, objectType string, group hubspot.PropertyGroup) error {
			groups = append(groups, group.Name)
			return nil
		},
		createPropFn: func(ctx context.Context, objectType string, prop hubspot.PropertyCreate) error {
			created[prop.Name] = prop
			return nil
		},
	}
	x := New(hub, nil, WithClock(fixedClock))

	res, err := x.Execute(context.Background(), "u1", orderPlan(), model.ProviderHubSpot)

	require.NoError(t, err)
	assert.False(t, res.Failed())
	assert.Equal(t, []string{"mailcrm_orders"}, groups)
	require.Len(t, created, 3)
	assert.Equal(t, "string", created["order_reference"].Type)
	assert.Equal(t, "number", created["order_amount"].Type)
	assert.Equal(t, "enumeration", created["order_status"].Type)
	assert.NotEmpty(t, created["order_status"].Options)
	for _, p := range created {
		assert.Equal(t, "mailcrm_orders", p.GroupName)
	}
}

func TestHubOrderProperties_ExistingGroupTolerated(t *testing.T) {
	hub := &mockHub{
		createGroupFn: func(ctx context.Context, objectType string, group hubspot.PropertyGroup) error {
			return &hubspot.ConflictError{Message: "group already exists"}
		},
	}
	x := New(hub, nil, WithClock(fixedClock))

	res, err := x.Execute(context.Background(), "u1", orderPlan(), model.ProviderHubSpot)

	require.NoError(t, err)
	assert.False(t, res.Failed())
}

func TestHubOrderProperties_CachedPerUser(t *testing.T) {
	hub := &mockHub{}
	x := New(hub, nil, WithClock(fixedClock))

	_, err := x.Execute(context.Background(), "u1", orderPlan(), model.ProviderHubSpot)
	require.NoError(t, err)
	_, err = x.Execute(context.Background(), "u1", orderPlan(), model.ProviderHubSpot)
	require.NoError(t, err)

	assert.Equal(t, 1, hub.listCalls)

	_, err = x.Execute(context.Background(), "u2", orderPlan(), model.ProviderHubSpot)
	require.NoError(t, err)
	assert.Equal(t, 2, hub.listCalls)
}
