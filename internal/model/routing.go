package model

// RoutingDecision is the classification output for one message: which CRM
// object kind(s) the message should become and where to send it. Every field
// is always populated; Primary in particular is never absent — classification
// failure degrades to a conservative default rather than an error. A fresh
// decision is produced per analysis; decisions are never mutated.
type RoutingDecision struct {
	Primary             ObjectKind                       `json:"primary_object"`
	Secondary           []ObjectKind                     `json:"secondary_objects,omitempty"`
	Confidence          float64                          `json:"confidence"`
	Reasoning           string                           `json:"reasoning,omitempty"`
	Intent              Intent                           `json:"intent"`
	Urgency             Urgency                          `json:"urgency"`
	TargetProviders     []Provider                       `json:"target_providers"`
	SuggestedProperties map[ObjectKind]map[string]string `json:"suggested_properties,omitempty"`
	CreateNote          bool                             `json:"create_note"`
}

// DefaultDecision is the conservative fallback used when classification
// fails: file the message against a contact with zero confidence.
func DefaultDecision(providers []Provider) RoutingDecision {
	if len(providers) == 0 {
		providers = []Provider{ProviderHubSpot}
	}
	return RoutingDecision{
		Primary:         KindContact,
		Confidence:      0,
		Reasoning:       "fallback",
		Intent:          IntentOther,
		Urgency:         UrgencyMedium,
		TargetProviders: providers,
		CreateNote:      true,
	}
}

// Person is one extracted person reference.
type Person struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// CompanyRef is an extracted organization reference.
type CompanyRef struct {
	Name   string `json:"name"`
	Domain string `json:"domain"`
}

// Extraction holds the structured CRM data pulled out of a message body.
// Unknown fields are empty, never nil maps mid-struct; a failed extraction
// is the zero value.
type Extraction struct {
	People    []Person    `json:"people,omitempty"`
	Company   *CompanyRef `json:"company,omitempty"`
	Intent    string      `json:"intent,omitempty"`
	Amount    string      `json:"amount,omitempty"`
	Dates     []string    `json:"dates,omitempty"`
	NextSteps []string    `json:"next_steps,omitempty"`
	Summary   string      `json:"summary,omitempty"`
	Evidence  string      `json:"evidence,omitempty"`
}
