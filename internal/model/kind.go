package model

import "strings"

// ObjectKind is the internal CRM object vocabulary. Provider-specific names
// (HubSpot "companies"/"deals"/"tickets", Salesforce "accounts"/
// "opportunities"/"cases") are normalized to these kinds once, at the routing
// boundary; downstream code never branches on provider terminology.
type ObjectKind string

const (
	KindContact  ObjectKind = "contact"
	KindLead     ObjectKind = "lead"
	KindCompany  ObjectKind = "company"
	KindDeal     ObjectKind = "deal"
	KindTicket   ObjectKind = "ticket"
	KindCampaign ObjectKind = "campaign"
	KindOrder    ObjectKind = "order"
	KindNote     ObjectKind = "note"
	KindNone     ObjectKind = "none"
)

// AllObjectKinds returns every valid object kind.
func AllObjectKinds() []ObjectKind {
	return []ObjectKind{
		KindContact, KindLead, KindCompany, KindDeal, KindTicket,
		KindCampaign, KindOrder, KindNote, KindNone,
	}
}

// objectKindAliases maps provider terminology (both HubSpot and Salesforce,
// singular and plural) to the internal vocabulary.
var objectKindAliases = map[string]ObjectKind{
	"contact":       KindContact,
	"contacts":      KindContact,
	"lead":          KindLead,
	"leads":         KindLead,
	"company":       KindCompany,
	"companies":     KindCompany,
	"account":       KindCompany,
	"accounts":      KindCompany,
	"deal":          KindDeal,
	"deals":         KindDeal,
	"opportunity":   KindDeal,
	"opportunities": KindDeal,
	"ticket":        KindTicket,
	"tickets":       KindTicket,
	"case":          KindTicket,
	"cases":         KindTicket,
	"campaign":      KindCampaign,
	"campaigns":     KindCampaign,
	"order":         KindOrder,
	"orders":        KindOrder,
	"note":          KindNote,
	"notes":         KindNote,
	"task":          KindNote,
	"tasks":         KindNote,
	"none":          KindNone,
}

// ParseObjectKind normalizes a provider-terminology object name to an
// ObjectKind. Returns ("", false) for unrecognized names.
func ParseObjectKind(s string) (ObjectKind, bool) {
	k, ok := objectKindAliases[strings.ToLower(strings.TrimSpace(s))]
	return k, ok
}

// Provider identifies a target CRM system.
type Provider string

const (
	ProviderHubSpot    Provider = "hubspot"
	ProviderSalesforce Provider = "salesforce"
)

// ParseProvider normalizes a provider name. Returns ("", false) for
// unrecognized names.
func ParseProvider(s string) (Provider, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "hubspot":
		return ProviderHubSpot, true
	case "salesforce", "sfdc":
		return ProviderSalesforce, true
	default:
		return "", false
	}
}

// Urgency grades how quickly a message needs attention.
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// ParseUrgency normalizes an urgency value, substituting medium for anything
// outside the enumerated set.
func ParseUrgency(s string) Urgency {
	switch Urgency(strings.ToLower(strings.TrimSpace(s))) {
	case UrgencyLow, UrgencyMedium, UrgencyHigh, UrgencyCritical:
		return Urgency(strings.ToLower(strings.TrimSpace(s)))
	default:
		return UrgencyMedium
	}
}

// TicketPriority maps an urgency grade to the priority vocabulary CRM
// providers use on tickets and cases.
func (u Urgency) TicketPriority() string {
	switch u {
	case UrgencyLow:
		return "LOW"
	case UrgencyHigh:
		return "HIGH"
	case UrgencyCritical:
		return "URGENT"
	default:
		return "MEDIUM"
	}
}

// Intent is the coarse purpose of a message.
type Intent string

const (
	IntentSales    Intent = "sales"
	IntentSupport  Intent = "support"
	IntentBilling  Intent = "billing"
	IntentSpam     Intent = "spam"
	IntentPersonal Intent = "personal"
	IntentOther    Intent = "other"
)

// ParseIntent normalizes an intent value, substituting other for anything
// outside the enumerated set.
func ParseIntent(s string) Intent {
	switch Intent(strings.ToLower(strings.TrimSpace(s))) {
	case IntentSales, IntentSupport, IntentBilling, IntentSpam, IntentPersonal, IntentOther:
		return Intent(strings.ToLower(strings.TrimSpace(s)))
	default:
		return IntentOther
	}
}
