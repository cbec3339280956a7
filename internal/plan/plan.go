// Package plan turns a routing decision plus extracted data into a
// provider-agnostic execution plan. Building is pure: no I/O, no clock, no
// randomness, so the same inputs always yield the same plan.
package plan

import (
	"fmt"
	"net/mail"
	"strings"

	"github.com/sells-group/mailcrm/internal/model"
)

// Build assembles the CRM plan for one message. A "none" routing yields an
// empty plan; everything else gets at least a contact (when a person can be
// identified) and, unless suppressed, a note.
func Build(msg model.NormalizedMessage, decision model.RoutingDecision, ex model.Extraction) model.Plan {
	p := model.Plan{
		MessageID: msg.ID,
		Kind:      decision.Primary,
	}

	if decision.Primary == model.KindNone {
		return p
	}

	p.Contact = buildContact(msg, ex)
	p.Company = buildCompany(ex)

	switch decision.Primary {
	case model.KindDeal:
		p.Deal = buildDeal(msg, decision, ex)
	case model.KindTicket:
		p.Ticket = buildTicket(msg, decision, ex)
	case model.KindOrder:
		p.Order = buildOrder(decision, ex)
	case model.KindCampaign:
		p.Campaign = buildCampaign(msg)
	}

	if decision.CreateNote {
		p.Note = buildNote(msg, decision, ex)
	}

	return p
}

// buildContact prefers the extracted person; the message sender is the
// fallback identity.
func buildContact(msg model.NormalizedMessage, ex model.Extraction) *model.ContactPlan {
	if len(ex.People) > 0 {
		return &model.ContactPlan{
			FullName: ex.People[0].Name,
			Email:    strings.ToLower(ex.People[0].Email),
		}
	}

	name, email := parseSender(msg.Sender)
	if name == "" && email == "" {
		return nil
	}
	return &model.ContactPlan{FullName: name, Email: email}
}

func buildCompany(ex model.Extraction) *model.CompanyPlan {
	if ex.Company == nil {
		return nil
	}
	return &model.CompanyPlan{
		Name:   ex.Company.Name,
		Domain: strings.ToLower(ex.Company.Domain),
	}
}

// buildDeal creates a deal only when a monetary amount is in evidence;
// money talk without a number routes as contact-plus-note instead.
func buildDeal(msg model.NormalizedMessage, decision model.RoutingDecision, ex model.Extraction) *model.DealPlan {
	amount := ex.Amount
	if amount == "" {
		amount = decision.SuggestedProperties[model.KindDeal]["amount"]
	}
	if amount == "" {
		return nil
	}

	name := strings.TrimSpace(msg.Subject)
	if name == "" {
		name = "New deal"
	}
	return &model.DealPlan{
		Name:     name,
		Amount:   amount,
		Pipeline: "default",
		Stage:    "appointmentscheduled",
	}
}

func buildTicket(msg model.NormalizedMessage, decision model.RoutingDecision, ex model.Extraction) *model.TicketPlan {
	subject := strings.TrimSpace(msg.Subject)
	if subject == "" {
		subject = "Support request"
	}

	content := ex.Summary
	if content == "" {
		content = ex.Evidence
	}
	if content == "" {
		content = msg.Snippet
	}

	return &model.TicketPlan{
		Subject:  subject,
		Content:  content,
		Priority: decision.Urgency.TicketPriority(),
		Pipeline: "0",
		Stage:    "1",
	}
}

func buildOrder(decision model.RoutingDecision, ex model.Extraction) *model.OrderPlan {
	props := decision.SuggestedProperties[model.KindOrder]

	amount := props["amount"]
	if amount == "" {
		amount = ex.Amount
	}
	status := props["status"]
	if status == "" {
		status = "processing"
	}

	return &model.OrderPlan{
		Reference: props["reference"],
		Amount:    amount,
		Status:    status,
	}
}

func buildCampaign(msg model.NormalizedMessage) *model.CampaignPlan {
	name := strings.TrimSpace(msg.Subject)
	if name == "" {
		name = "Email campaign"
	}
	return &model.CampaignPlan{Name: name}
}

// buildNote composes the note body from whatever the extraction produced.
// The trailing reference line is the idempotency key for note attachment.
func buildNote(msg model.NormalizedMessage, decision model.RoutingDecision, ex model.Extraction) *model.NotePlan {
	title := strings.TrimSpace(msg.Subject)
	if title == "" {
		title = "Email Note"
	}

	var lines []string
	if ex.Summary != "" {
		lines = append(lines, ex.Summary)
	}
	if ex.Intent != "" {
		lines = append(lines, "Intent: "+ex.Intent)
	} else if decision.Intent != "" {
		lines = append(lines, "Intent: "+string(decision.Intent))
	}
	if ex.Amount != "" {
		lines = append(lines, "Amount: "+ex.Amount)
	}
	if len(ex.Dates) > 0 {
		lines = append(lines, "Dates: "+strings.Join(ex.Dates, ", "))
	}
	if len(ex.NextSteps) > 0 {
		lines = append(lines, "Next steps: "+strings.Join(ex.NextSteps, "; "))
	}
	if ex.Evidence != "" {
		lines = append(lines, "Evidence: "+ex.Evidence)
	}
	if len(lines) == 0 {
		lines = append(lines, msg.Snippet)
	}
	lines = append(lines, fmt.Sprintf("Ref: %s", msg.ID))

	return &model.NotePlan{
		Title:       title,
		Body:        strings.Join(lines, "\n"),
		ExternalRef: msg.ID,
	}
}

// parseSender splits an RFC 5322 address like "Jane Doe <jane@acme.com>"
// into display name and lowercase address. Unparseable input is used
// verbatim as the name.
func parseSender(sender string) (name, email string) {
	sender = strings.TrimSpace(sender)
	if sender == "" {
		return "", ""
	}

	addr, err := mail.ParseAddress(sender)
	if err != nil {
		return sender, ""
	}

	name = addr.Name
	email = strings.ToLower(addr.Address)
	if name == "" {
		// Fall back to the local part as a display name.
		if at := strings.Index(email, "@"); at > 0 {
			name = email[:at]
		}
	}
	return name, email
}
