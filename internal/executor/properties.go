package executor

import (
	"context"

	"go.uber.org/zap"

	"github.com/sells-group/mailcrm/pkg/hubspot"
)

// PropertySelection names the HubSpot order properties the executor writes
// to: a string reference, a numeric amount, and an enumerated status. Portals
// model orders differently, so the names are resolved from the live schema.
type PropertySelection struct {
	Reference string
	Amount    string
	Status    string
}

// Candidate property names in preference order, per slot. The first defined
// property whose type matches wins.
var (
	orderReferenceCandidates = []string{"order_reference", "reference", "order_number", "hs_order_name", "name"}
	orderAmountCandidates    = []string{"order_amount", "amount", "total", "hs_total_price"}
	orderStatusCandidates    = []string{"order_status", "status", "hs_order_stage"}
)

const (
	orderPropertyGroup      = "mailcrm_orders"
	orderPropertyGroupLabel = "MailCRM Orders"
)

// hubOrderProperties resolves (and caches for the process lifetime) which
// order properties to write for the given user, provisioning a dedicated
// property group plus properties when the portal defines no usable candidate.
func (x *Executor) hubOrderProperties(ctx context.Context, userID string) (*PropertySelection, error) {
	x.propsMu.Lock()
	defer x.propsMu.Unlock()

	if sel, ok := x.orderProps[userID]; ok {
		return sel, nil
	}

	props, err := x.hub.ListProperties(ctx, "orders")
	if err != nil {
		return nil, err
	}

	byName := make(map[string]hubspot.Property, len(props))
	for _, p := range props {
		byName[p.Name] = p
	}

	sel := &PropertySelection{
		Reference: pickProperty(byName, orderReferenceCandidates, "string"),
		Amount:    pickProperty(byName, orderAmountCandidates, "number"),
		Status:    pickProperty(byName, orderStatusCandidates, "enumeration"),
	}

	if sel.Reference == "" || sel.Amount == "" || sel.Status == "" {
		if err := x.hubProvisionOrderProperties(ctx, sel); err != nil {
			return nil, err
		}
	}

	zap.L().Debug("hubspot: order property selection resolved",
		zap.String("user_id", userID),
		zap.String("reference", sel.Reference),
		zap.String("amount", sel.Amount),
		zap.String("status", sel.Status),
	)

	x.orderProps[userID] = sel
	return sel, nil
}

func pickProperty(byName map[string]hubspot.Property, candidates []string, wantType string) string {
	for _, name := range candidates {
		if p, ok := byName[name]; ok && p.Type == wantType {
			return p.Name
		}
	}
	return ""
}

// hubProvisionOrderProperties creates the dedicated property group and the
// missing properties, filling the empty selection slots in place.
func (x *Executor) hubProvisionOrderProperties(ctx context.Context, sel *PropertySelection) error {
	err := x.hub.CreatePropertyGroup(ctx, "orders", hubspot.PropertyGroup{
		Name:  orderPropertyGroup,
		Label: orderPropertyGroupLabel,
	})
	if err != nil {
		// An existing group is fine; anything else is not.
		if _, ok := hubspot.IsConflict(err); !ok {
			return err
		}
	}

	if sel.Reference == "" {
		if err := x.hub.CreateProperty(ctx, "orders", hubspot.PropertyCreate{
			Name:      "order_reference",
			Label:     "Order Reference",
			Type:      "string",
			FieldType: "text",
			GroupName: orderPropertyGroup,
		}); err != nil {
			return err
		}
		sel.Reference = "order_reference"
	}

	if sel.Amount == "" {
		if err := x.hub.CreateProperty(ctx, "orders", hubspot.PropertyCreate{
			Name:      "order_amount",
			Label:     "Order Amount",
			Type:      "number",
			FieldType: "number",
			GroupName: orderPropertyGroup,
		}); err != nil {
			return err
		}
		sel.Amount = "order_amount"
	}

	if sel.Status == "" {
		if err := x.hub.CreateProperty(ctx, "orders", hubspot.PropertyCreate{
			Name:      "order_status",
			Label:     "Order Status",
			Type:      "enumeration",
			FieldType: "select",
			GroupName: orderPropertyGroup,
			Options: []hubspot.PropertyOption{
				{Label: "Processing", Value: "processing"},
				{Label: "Shipped", Value: "shipped"},
				{Label: "Delivered", Value: "delivered"},
				{Label: "Cancelled", Value: "cancelled"},
			},
		}); err != nil {
			return err
		}
		sel.Status = "order_status"
	}

	return nil
}
