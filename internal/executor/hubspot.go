package executor

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/sells-group/mailcrm/internal/model"
	"github.com/sells-group/mailcrm/internal/resilience"
	"github.com/sells-group/mailcrm/pkg/hubspot"
)

func (x *Executor) executeHubSpot(ctx context.Context, userID string, plan model.Plan) (*model.ExecutionResult, error) {
	res := model.NewExecutionResult(model.ProviderHubSpot)

	var contactID, companyID string

	if plan.Contact != nil {
		kind := personKind(plan)
		id, err := x.hubUpsertContact(ctx, plan)
		if err != nil {
			if hubspot.IsMissingScopes(err) {
				return res, resilience.NewConfigError(err, "reauthorize the HubSpot private app with the crm.objects scopes")
			}
			res.Errors[kind] = err.Error()
		} else {
			res.Records[kind] = id
			contactID = id
		}
	}

	if plan.Company != nil {
		id, err := x.hubUpsertCompany(ctx, plan.Company)
		if err != nil {
			res.Errors[model.KindCompany] = err.Error()
		} else {
			res.Records[model.KindCompany] = id
			companyID = id
		}
	}

	if plan.Deal != nil {
		id, err := x.hubUpsert(ctx, "deals",
			[]hubspot.Filter{{PropertyName: "dealname", Operator: "EQ", Value: plan.Deal.Name}},
			map[string]string{
				"dealname":  plan.Deal.Name,
				"amount":    plan.Deal.Amount,
				"pipeline":  plan.Deal.Pipeline,
				"dealstage": plan.Deal.Stage,
			})
		if err != nil {
			res.Errors[model.KindDeal] = err.Error()
		} else {
			res.Records[model.KindDeal] = id
		}
	}

	if plan.Ticket != nil {
		id, err := x.hubUpsert(ctx, "tickets",
			[]hubspot.Filter{{PropertyName: "subject", Operator: "EQ", Value: plan.Ticket.Subject}},
			map[string]string{
				"subject":            plan.Ticket.Subject,
				"content":            plan.Ticket.Content,
				"hs_ticket_priority": plan.Ticket.Priority,
				"hs_pipeline":        plan.Ticket.Pipeline,
				"hs_pipeline_stage":  plan.Ticket.Stage,
			})
		if err != nil {
			res.Errors[model.KindTicket] = err.Error()
		} else {
			res.Records[model.KindTicket] = id
		}
	}

	if plan.Order != nil {
		id, err := x.hubUpsertOrder(ctx, userID, plan.Order)
		if err != nil {
			res.Errors[model.KindOrder] = err.Error()
		} else {
			res.Records[model.KindOrder] = id
		}
	}

	// HubSpot has no CRM campaign object the objects API can write; the
	// contact and note carry the campaign interest.
	if plan.Campaign != nil {
		zap.L().Debug("hubspot: campaign filed as contact and note",
			zap.String("campaign", plan.Campaign.Name),
		)
	}

	if plan.Note != nil {
		id, err := x.hubAttachNote(ctx, plan.Note)
		if err != nil {
			res.Errors[model.KindNote] = err.Error()
		} else {
			res.Records[model.KindNote] = id
		}
	}

	x.hubAssociateAll(ctx, res, contactID, companyID)

	return res, nil
}

func (x *Executor) hubUpsertContact(ctx context.Context, plan model.Plan) (string, error) {
	first, last := splitName(plan.Contact.FullName)
	props := map[string]string{
		"firstname": first,
		"lastname":  last,
	}
	if plan.Contact.Email != "" {
		props["email"] = plan.Contact.Email
	}
	if plan.Kind == model.KindLead {
		props["lifecyclestage"] = "lead"
	}

	var filters []hubspot.Filter
	if plan.Contact.Email != "" {
		filters = []hubspot.Filter{{PropertyName: "email", Operator: "EQ", Value: plan.Contact.Email}}
	}
	return x.hubUpsert(ctx, "contacts", filters, props)
}

// hubUpsertCompany matches on domain first and falls back to an exact name
// match, since companies arrive with either identifier.
func (x *Executor) hubUpsertCompany(ctx context.Context, company *model.CompanyPlan) (string, error) {
	props := map[string]string{"name": company.Name}
	if company.Domain != "" {
		props["domain"] = company.Domain
	}

	if company.Domain != "" {
		found, err := x.hub.SearchObjects(ctx, "companies",
			[]hubspot.Filter{{PropertyName: "domain", Operator: "EQ", Value: company.Domain}}, 1)
		if err != nil {
			return "", err
		}
		if len(found) > 0 {
			obj, err := x.hub.UpdateObject(ctx, "companies", found[0].ID, props)
			if err != nil {
				return "", err
			}
			return obj.ID, nil
		}
	}

	var filters []hubspot.Filter
	if company.Name != "" {
		filters = []hubspot.Filter{{PropertyName: "name", Operator: "EQ", Value: company.Name}}
	}
	return x.hubUpsert(ctx, "companies", filters, props)
}

func (x *Executor) hubUpsertOrder(ctx context.Context, userID string, order *model.OrderPlan) (string, error) {
	sel, err := x.hubOrderProperties(ctx, userID)
	if err != nil {
		return "", err
	}

	props := make(map[string]string)
	if order.Reference != "" {
		props[sel.Reference] = order.Reference
	}
	if order.Amount != "" {
		props[sel.Amount] = order.Amount
	}
	if order.Status != "" {
		props[sel.Status] = order.Status
	}

	var filters []hubspot.Filter
	if order.Reference != "" {
		filters = []hubspot.Filter{{PropertyName: sel.Reference, Operator: "EQ", Value: order.Reference}}
	}
	return x.hubUpsert(ctx, "orders", filters, props)
}

// hubAttachNote creates the note unless one carrying the same external
// reference already exists. The reference lives in the note body, so a body
// token search is the deduplication probe.
func (x *Executor) hubAttachNote(ctx context.Context, note *model.NotePlan) (string, error) {
	found, err := x.hub.SearchObjects(ctx, "notes",
		[]hubspot.Filter{{PropertyName: "hs_note_body", Operator: "CONTAINS_TOKEN", Value: note.ExternalRef}}, 1)
	if err != nil {
		return "", err
	}
	if len(found) > 0 {
		return found[0].ID, nil
	}

	obj, err := x.hub.CreateObject(ctx, "notes", map[string]string{
		"hs_note_body": note.Body,
		"hs_timestamp": strconv.FormatInt(x.now().UnixMilli(), 10),
	})
	if err != nil {
		return "", err
	}
	return obj.ID, nil
}

// hubUpsert is the shared search-update-or-create path. A 409 on create is
// recovered through the embedded existing id, or a second search when the
// payload carries none.
func (x *Executor) hubUpsert(ctx context.Context, objectType string, filters []hubspot.Filter, props map[string]string) (string, error) {
	if len(filters) > 0 {
		found, err := x.hub.SearchObjects(ctx, objectType, filters, 1)
		if err != nil {
			return "", err
		}
		if len(found) > 0 {
			obj, err := x.hub.UpdateObject(ctx, objectType, found[0].ID, props)
			if err != nil {
				return "", err
			}
			return obj.ID, nil
		}
	}

	obj, err := x.hub.CreateObject(ctx, objectType, props)
	if err != nil {
		if conflict, ok := hubspot.IsConflict(err); ok {
			return x.hubRecoverConflict(ctx, objectType, filters, props, conflict)
		}
		return "", err
	}
	return obj.ID, nil
}

func (x *Executor) hubRecoverConflict(ctx context.Context, objectType string, filters []hubspot.Filter, props map[string]string, conflict *hubspot.ConflictError) (string, error) {
	id := conflict.ExistingID
	if id == "" && len(filters) > 0 {
		found, err := x.hub.SearchObjects(ctx, objectType, filters, 1)
		if err != nil {
			return "", err
		}
		if len(found) > 0 {
			id = found[0].ID
		}
	}
	if id == "" {
		return "", conflict
	}

	obj, err := x.hub.UpdateObject(ctx, objectType, id, props)
	if err != nil {
		return "", err
	}
	return obj.ID, nil
}

// hubAssociateAll links the created records. Association failures never fail
// the execution; they are reported on the result.
func (x *Executor) hubAssociateAll(ctx context.Context, res *model.ExecutionResult, contactID, companyID string) {
	x.hubAssociate(ctx, res, "contacts", contactID, "companies", companyID)

	dealID := res.RecordID(model.KindDeal)
	x.hubAssociate(ctx, res, "deals", dealID, "contacts", contactID)
	x.hubAssociate(ctx, res, "deals", dealID, "companies", companyID)

	ticketID := res.RecordID(model.KindTicket)
	x.hubAssociate(ctx, res, "tickets", ticketID, "contacts", contactID)

	orderID := res.RecordID(model.KindOrder)
	x.hubAssociate(ctx, res, "orders", orderID, "contacts", contactID)

	noteID := res.RecordID(model.KindNote)
	x.hubAssociate(ctx, res, "notes", noteID, "contacts", contactID)
	x.hubAssociate(ctx, res, "notes", noteID, "companies", companyID)
	x.hubAssociate(ctx, res, "notes", noteID, "deals", dealID)
	x.hubAssociate(ctx, res, "notes", noteID, "tickets", ticketID)
	x.hubAssociate(ctx, res, "notes", noteID, "orders", orderID)
}

func (x *Executor) hubAssociate(ctx context.Context, res *model.ExecutionResult, fromType, fromID, toType, toID string) {
	if fromID == "" || toID == "" {
		return
	}
	if err := x.hub.Associate(ctx, fromType, fromID, toType, toID); err != nil {
		res.AssociationErrors = append(res.AssociationErrors,
			fmt.Sprintf("%s %s -> %s %s: %v", fromType, fromID, toType, toID, err))
	}
}
