package routing

import (
	"fmt"
	"strings"

	"github.com/sells-group/mailcrm/internal/model"
)

// routingSystemPrompt instructs the model to classify an email into CRM
// routing terms. It is large and static, so it is sent with a cache
// breakpoint and reused across every message in a polling cycle.
const routingSystemPrompt = `You are an email routing analyst for a sales organization. Given one
inbound email, decide which CRM object it should become and where it
should be filed.

Object vocabulary (use these exact words):
- contact: a person we should know; default when nothing else fits
- lead: a new person showing buying interest who is not yet qualified
- company: an organization record
- deal: revenue opportunity under negotiation (HubSpot "deal",
  Salesforce "opportunity")
- ticket: support or problem report (HubSpot "ticket", Salesforce "case")
- campaign: marketing outreach or event participation
- order: a purchase with a reference number or order status
- note: information worth filing against existing records only
- none: spam, automated noise, or nothing CRM-worthy

Terminology rules:
- Treat "account" as company, "opportunity" as deal, "case" as ticket.
- Money being negotiated means deal. Money already paid with an order or
  invoice reference means order.
- A complaint or something broken means ticket regardless of who sent it.

Respond with a single JSON object, no markdown fences, no commentary:
{
  "primary_object": "<object>",
  "secondary_objects": ["<object>", ...],
  "confidence": <0.0-1.0>,
  "reasoning": "<one sentence>",
  "intent": "<sales|support|billing|spam|personal|other>",
  "urgency": "<low|medium|high|critical>",
  "target_providers": ["hubspot", "salesforce"],
  "suggested_properties": {"<object>": {"<property>": "<value>"}},
  "create_note": <true|false>
}`

// extractionSystemPrompt instructs the model to pull structured CRM data
// out of an email body.
const extractionSystemPrompt = `You extract structured CRM data from emails. Respond with a single JSON
object, no markdown fences, no commentary:
{
  "people": [{"name": "<full name>", "email": "<address>"}],
  "company": {"name": "<organization>", "domain": "<web domain>"},
  "intent": "<one phrase>",
  "amount": "<monetary amount as digits, empty if none>",
  "dates": ["<date mentioned>", ...],
  "next_steps": ["<action item>", ...],
  "summary": "<two sentences at most>",
  "evidence": "<the sentence that best supports the summary>"
}
Omit fields you cannot support with the text. Never invent values.`

// buildMessagePrompt renders one message as the user prompt for either
// analysis pass.
func buildMessagePrompt(msg model.NormalizedMessage, providers []model.Provider) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Subject: %s\n", msg.Subject)
	fmt.Fprintf(&b, "From: %s\n", msg.Sender)
	fmt.Fprintf(&b, "Received: %s\n", msg.ReceivedAt.Format("2006-01-02 15:04 MST"))
	if msg.HasAttachments {
		b.WriteString("Has attachments: yes\n")
	}
	if len(providers) > 0 {
		names := make([]string, len(providers))
		for i, p := range providers {
			names[i] = string(p)
		}
		fmt.Fprintf(&b, "Connected CRM providers: %s\n", strings.Join(names, ", "))
	}
	b.WriteString("\nBody preview:\n")
	b.WriteString(msg.Snippet)
	return b.String()
}

// buildRepairPrompt asks the model to reshape malformed classification
// output into the required JSON object.
func buildRepairPrompt(broken string) string {
	return "The following text was supposed to be a single JSON object with the keys " +
		`primary_object, secondary_objects, confidence, reasoning, intent, urgency, ` +
		`target_providers, suggested_properties, create_note. ` +
		"Rewrite it as exactly that JSON object, preserving its meaning. " +
		"Respond with the JSON object only.\n\n" + broken
}

// cleanJSON attempts to extract a JSON object from text that may contain
// markdown code fences or other wrapping.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	// Strip markdown code fences.
	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	// Find first { and last }.
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}

	return strings.TrimSpace(text)
}
