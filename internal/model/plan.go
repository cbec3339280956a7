package model

// ContactPlan describes the contact record to upsert for a message.
type ContactPlan struct {
	FullName string `json:"full_name"`
	Email    string `json:"email,omitempty"`
}

// CompanyPlan describes the company/account record to upsert.
type CompanyPlan struct {
	Name   string `json:"name"`
	Domain string `json:"domain,omitempty"`
}

// DealPlan describes the deal/opportunity record to create.
type DealPlan struct {
	Name     string `json:"name"`
	Amount   string `json:"amount,omitempty"`
	Pipeline string `json:"pipeline"`
	Stage    string `json:"stage"`
}

// TicketPlan describes the ticket/case record to create.
type TicketPlan struct {
	Subject  string `json:"subject"`
	Content  string `json:"content"`
	Priority string `json:"priority"`
	Pipeline string `json:"pipeline"`
	Stage    string `json:"stage"`
}

// OrderPlan describes the order record to create.
type OrderPlan struct {
	Reference string `json:"reference,omitempty"`
	Amount    string `json:"amount,omitempty"`
	Status    string `json:"status,omitempty"`
}

// CampaignPlan describes the marketing campaign record to create or join.
type CampaignPlan struct {
	Name string `json:"name"`
}

// NotePlan describes the note/task attached to the routed records.
// ExternalRef equals the source message ID, giving repeated builds for the
// same message a stable deduplication key.
type NotePlan struct {
	Title       string `json:"title"`
	Body        string `json:"body"`
	ExternalRef string `json:"external_ref"`
}

// Plan is the provider-agnostic description of the CRM records to create or
// update for one message. Built fresh per execution attempt; immutable.
type Plan struct {
	MessageID string        `json:"message_id"`
	Kind      ObjectKind    `json:"kind"`
	Contact   *ContactPlan  `json:"contact,omitempty"`
	Company   *CompanyPlan  `json:"company,omitempty"`
	Deal      *DealPlan     `json:"deal,omitempty"`
	Ticket    *TicketPlan   `json:"ticket,omitempty"`
	Order     *OrderPlan    `json:"order,omitempty"`
	Campaign  *CampaignPlan `json:"campaign,omitempty"`
	Note      *NotePlan     `json:"note,omitempty"`
}

// Empty reports whether the plan carries no work at all.
func (p Plan) Empty() bool {
	return p.Contact == nil && p.Company == nil && p.Deal == nil &&
		p.Ticket == nil && p.Order == nil && p.Campaign == nil && p.Note == nil
}
