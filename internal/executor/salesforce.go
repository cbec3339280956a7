package executor

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/mailcrm/internal/model"
	"github.com/sells-group/mailcrm/pkg/salesforce"
)

func (x *Executor) executeSalesforce(ctx context.Context, plan model.Plan) (*model.ExecutionResult, error) {
	res := model.NewExecutionResult(model.ProviderSalesforce)

	var personID, accountID string

	// Account first so the contact and downstream records can link to it.
	if plan.Company != nil {
		id, err := x.sfUpsertAccount(ctx, plan.Company)
		if err != nil {
			res.Errors[model.KindCompany] = err.Error()
		} else {
			res.Records[model.KindCompany] = id
			accountID = id
		}
	}

	if plan.Contact != nil {
		kind := personKind(plan)
		var id string
		var err error
		if kind == model.KindLead {
			id, err = x.sfUpsertLead(ctx, plan)
		} else {
			id, err = x.sfUpsertContact(ctx, plan.Contact, accountID)
		}
		if err != nil {
			res.Errors[kind] = err.Error()
		} else {
			res.Records[kind] = id
			personID = id
		}
	}

	if plan.Deal != nil {
		id, err := x.sfUpsertOpportunity(ctx, plan.Deal, accountID)
		if err != nil {
			res.Errors[model.KindDeal] = err.Error()
		} else {
			res.Records[model.KindDeal] = id
		}
	}

	if plan.Ticket != nil {
		id, err := x.sfUpsertCase(ctx, plan.Ticket, personID, accountID)
		if err != nil {
			res.Errors[model.KindTicket] = err.Error()
		} else {
			res.Records[model.KindTicket] = id
		}
	}

	if plan.Order != nil {
		id, err := x.sfUpsertOrder(ctx, plan.Order, accountID)
		if err != nil {
			res.Errors[model.KindOrder] = err.Error()
		} else {
			res.Records[model.KindOrder] = id
		}
	}

	if plan.Campaign != nil {
		id, err := x.sfUpsertCampaign(ctx, plan.Campaign)
		if err != nil {
			res.Errors[model.KindCampaign] = err.Error()
		} else {
			res.Records[model.KindCampaign] = id
		}
	}

	if plan.Note != nil {
		id, err := x.sfAttachTask(ctx, plan, res, personID)
		if err != nil {
			res.Errors[model.KindNote] = err.Error()
		} else if id != "" {
			res.Records[model.KindNote] = id
		}
	}

	res.Permalink = x.sfPermalink(plan, res, personID)

	return res, nil
}

func (x *Executor) sfUpsertContact(ctx context.Context, contact *model.ContactPlan, accountID string) (string, error) {
	first, last := splitName(contact.FullName)
	fields := map[string]any{"FirstName": first, "LastName": last}
	if contact.Email != "" {
		fields["Email"] = contact.Email
	}

	if contact.Email != "" {
		rec, err := salesforce.FindContactByEmail(ctx, x.sf, contact.Email)
		if err != nil {
			return "", err
		}
		if rec != nil {
			return rec.ID, salesforce.UpdateContact(ctx, x.sf, rec.ID, fields)
		}
	}

	id, err := salesforce.CreateContact(ctx, x.sf, accountID, fields)
	if err != nil {
		if salesforce.IsDuplicate(err) && contact.Email != "" {
			// The duplicate rule fired between our search and the insert;
			// the matching record is findable now.
			rec, ferr := salesforce.FindContactByEmail(ctx, x.sf, contact.Email)
			if ferr == nil && rec != nil {
				return rec.ID, salesforce.UpdateContact(ctx, x.sf, rec.ID, fields)
			}
		}
		return "", err
	}
	return id, nil
}

func (x *Executor) sfUpsertLead(ctx context.Context, plan model.Plan) (string, error) {
	first, last := splitName(plan.Contact.FullName)
	company := "Unknown"
	if plan.Company != nil && plan.Company.Name != "" {
		company = plan.Company.Name
	}
	fields := map[string]any{"FirstName": first, "LastName": last, "Company": company}
	if plan.Contact.Email != "" {
		fields["Email"] = plan.Contact.Email
	}

	if plan.Contact.Email != "" {
		rec, err := salesforce.FindLeadByEmail(ctx, x.sf, plan.Contact.Email)
		if err != nil {
			return "", err
		}
		if rec != nil {
			return rec.ID, x.sf.UpdateOne(ctx, "Lead", rec.ID, fields)
		}
	}

	id, err := salesforce.CreateLead(ctx, x.sf, fields)
	if err != nil {
		if salesforce.IsDuplicate(err) && plan.Contact.Email != "" {
			rec, ferr := salesforce.FindLeadByEmail(ctx, x.sf, plan.Contact.Email)
			if ferr == nil && rec != nil {
				return rec.ID, x.sf.UpdateOne(ctx, "Lead", rec.ID, fields)
			}
		}
		return "", err
	}
	return id, nil
}

// sfUpsertAccount matches on website domain first, then exact name.
func (x *Executor) sfUpsertAccount(ctx context.Context, company *model.CompanyPlan) (string, error) {
	fields := map[string]any{"Name": company.Name}
	if company.Domain != "" {
		fields["Website"] = company.Domain
	}

	var rec *salesforce.Record
	var err error
	if company.Domain != "" {
		rec, err = salesforce.FindAccountByWebsite(ctx, x.sf, company.Domain)
		if err != nil {
			return "", err
		}
	}
	if rec == nil && company.Name != "" {
		rec, err = salesforce.FindAccountByName(ctx, x.sf, company.Name)
		if err != nil {
			return "", err
		}
	}
	if rec != nil {
		return rec.ID, salesforce.UpdateAccount(ctx, x.sf, rec.ID, fields)
	}

	id, err := salesforce.CreateAccount(ctx, x.sf, fields)
	if err != nil {
		if salesforce.IsDuplicate(err) && company.Name != "" {
			found, ferr := salesforce.FindAccountByName(ctx, x.sf, company.Name)
			if ferr == nil && found != nil {
				return found.ID, salesforce.UpdateAccount(ctx, x.sf, found.ID, fields)
			}
		}
		return "", err
	}
	return id, nil
}

func (x *Executor) sfUpsertOpportunity(ctx context.Context, deal *model.DealPlan, accountID string) (string, error) {
	rec, err := salesforce.FindOpportunityByName(ctx, x.sf, deal.Name)
	if err != nil {
		return "", err
	}
	if rec != nil {
		fields := map[string]any{}
		if amount, ok := parseAmount(deal.Amount); ok {
			fields["Amount"] = amount
		}
		if len(fields) == 0 {
			return rec.ID, nil
		}
		return rec.ID, x.sf.UpdateOne(ctx, "Opportunity", rec.ID, fields)
	}

	fields := map[string]any{
		"Name":      deal.Name,
		"StageName": "Prospecting",
		"CloseDate": x.now().AddDate(0, 0, 30).Format("2006-01-02"),
	}
	if amount, ok := parseAmount(deal.Amount); ok {
		fields["Amount"] = amount
	}
	return salesforce.CreateOpportunity(ctx, x.sf, accountID, fields)
}

func (x *Executor) sfUpsertCase(ctx context.Context, ticket *model.TicketPlan, contactID, accountID string) (string, error) {
	fields := map[string]any{
		"Subject":     ticket.Subject,
		"Description": ticket.Content,
		"Priority":    casePriority(ticket.Priority),
	}

	rec, err := salesforce.FindCaseBySubject(ctx, x.sf, ticket.Subject)
	if err != nil {
		return "", err
	}
	if rec != nil {
		return rec.ID, x.sf.UpdateOne(ctx, "Case", rec.ID, map[string]any{
			"Description": ticket.Content,
			"Priority":    casePriority(ticket.Priority),
		})
	}

	return salesforce.CreateCase(ctx, x.sf, contactID, accountID, fields)
}

// sfUpsertOrder creates a Salesforce Order, which requires an account; an
// order routed without a resolvable company is a per-kind error.
func (x *Executor) sfUpsertOrder(ctx context.Context, order *model.OrderPlan, accountID string) (string, error) {
	if accountID == "" {
		return "", eris.New("sf: order requires an account, none resolved from the message")
	}

	refField, err := x.sfOrderReferenceField(ctx)
	if err != nil {
		return "", err
	}

	if order.Reference != "" {
		rec, err := salesforce.FindOrderByReference(ctx, x.sf, refField, order.Reference)
		if err != nil {
			return "", err
		}
		if rec != nil {
			return rec.ID, nil
		}
	}

	fields := map[string]any{
		"AccountId":     accountID,
		"EffectiveDate": x.now().Format("2006-01-02"),
		"Status":        "Draft",
	}
	if order.Reference != "" {
		fields[refField] = order.Reference
	}
	if order.Amount != "" {
		// TotalAmount is read-only on Order; the amount rides in Description.
		fields["Description"] = "Amount: " + order.Amount
	}
	return x.sf.InsertOne(ctx, "Order", fields)
}

func (x *Executor) sfUpsertCampaign(ctx context.Context, campaign *model.CampaignPlan) (string, error) {
	rec, err := salesforce.FindCampaignByName(ctx, x.sf, campaign.Name)
	if err != nil {
		return "", err
	}
	if rec != nil {
		return rec.ID, nil
	}
	return salesforce.CreateCampaign(ctx, x.sf, map[string]any{
		"Name":   campaign.Name,
		"Status": "Planned",
		"Type":   "Email",
	})
}

// sfAttachTask files the note as a completed Task. The external reference is
// embedded in the subject, which doubles as the deduplication key; a second
// run for the same message finds the task and creates nothing.
func (x *Executor) sfAttachTask(ctx context.Context, plan model.Plan, res *model.ExecutionResult, personID string) (string, error) {
	subject := fmt.Sprintf("%s (Ref: %s)", plan.Note.Title, plan.Note.ExternalRef)

	if personID != "" {
		rec, err := salesforce.FindTask(ctx, x.sf, personID, subject)
		if err != nil {
			return "", err
		}
		if rec != nil {
			return rec.ID, nil
		}
	}

	whatID := res.RecordID(model.KindDeal)
	if whatID == "" {
		whatID = res.RecordID(model.KindTicket)
	}
	if whatID == "" {
		whatID = res.RecordID(model.KindCompany)
	}

	return salesforce.CreateTask(ctx, x.sf, personID, whatID, map[string]any{
		"Subject":     subject,
		"Description": plan.Note.Body,
		"Status":      "Completed",
	})
}

// sfOrderReferenceField resolves (once per process) which Order field holds
// the external reference, preferring the standard reference number when the
// org exposes it as writable.
func (x *Executor) sfOrderReferenceField(ctx context.Context) (string, error) {
	x.propsMu.Lock()
	defer x.propsMu.Unlock()

	if x.sfOrderRef != "" {
		return x.sfOrderRef, nil
	}

	desc, err := x.sf.DescribeSObject(ctx, "Order")
	if err != nil {
		return "", err
	}

	field := "Description"
	for _, candidate := range []string{"OrderReferenceNumber", "PoNumber"} {
		for _, f := range desc.Fields {
			if f.Name == candidate && f.Updateable {
				field = candidate
				break
			}
		}
		if field == candidate {
			break
		}
	}

	x.sfOrderRef = field
	return field, nil
}

// sfPermalink builds a record URL for the primary routed record when the
// instance URL is configured.
func (x *Executor) sfPermalink(plan model.Plan, res *model.ExecutionResult, personID string) string {
	if x.sfURL == "" {
		return ""
	}
	id := res.RecordID(plan.Kind)
	if id == "" {
		id = personID
	}
	if id == "" {
		return ""
	}
	return strings.TrimRight(x.sfURL, "/") + "/" + id
}

// casePriority maps the internal ticket priority vocabulary onto the
// Salesforce Case picklist, which has no urgent grade.
func casePriority(p string) string {
	switch p {
	case "LOW":
		return "Low"
	case "HIGH", "URGENT":
		return "High"
	default:
		return "Medium"
	}
}

func parseAmount(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
