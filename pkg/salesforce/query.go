package salesforce

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// Record is the minimal projection the routing pipeline needs from a SOQL
// lookup: the record's Salesforce ID.
type Record struct {
	ID string `json:"Id"`
}

// findOne runs a single-row SOQL query. Returns nil when nothing matches.
func findOne(ctx context.Context, c Client, soql, what string) (*Record, error) {
	var records []Record
	if err := c.Query(ctx, soql, &records); err != nil {
		return nil, eris.Wrap(err, "sf: find "+what)
	}
	if len(records) == 0 {
		return nil, nil
	}
	return &records[0], nil
}

// FindContactByEmail looks up a Contact by its email address.
// Returns nil if no contact is found.
func FindContactByEmail(ctx context.Context, c Client, email string) (*Record, error) {
	soql := fmt.Sprintf("SELECT Id FROM Contact WHERE Email = '%s' LIMIT 1", escapeSoql(email))
	return findOne(ctx, c, soql, "contact by email")
}

// FindLeadByEmail looks up an unconverted Lead by its email address.
// Returns nil if no lead is found.
func FindLeadByEmail(ctx context.Context, c Client, email string) (*Record, error) {
	soql := fmt.Sprintf("SELECT Id FROM Lead WHERE Email = '%s' AND IsConverted = false LIMIT 1", escapeSoql(email))
	return findOne(ctx, c, soql, "lead by email")
}

// FindAccountByWebsite looks up an Account whose website contains the given
// domain. Returns nil if no account is found.
func FindAccountByWebsite(ctx context.Context, c Client, domain string) (*Record, error) {
	soql := fmt.Sprintf("SELECT Id FROM Account WHERE Website LIKE '%%%s%%' LIMIT 1", escapeSoql(domain))
	return findOne(ctx, c, soql, "account by website")
}

// FindAccountByName looks up an Account by exact name.
// Returns nil if no account is found.
func FindAccountByName(ctx context.Context, c Client, name string) (*Record, error) {
	soql := fmt.Sprintf("SELECT Id FROM Account WHERE Name = '%s' LIMIT 1", escapeSoql(name))
	return findOne(ctx, c, soql, "account by name")
}

// FindOpportunityByName looks up an open Opportunity by exact name.
// Returns nil if no opportunity is found.
func FindOpportunityByName(ctx context.Context, c Client, name string) (*Record, error) {
	soql := fmt.Sprintf("SELECT Id FROM Opportunity WHERE Name = '%s' AND IsClosed = false LIMIT 1", escapeSoql(name))
	return findOne(ctx, c, soql, "opportunity by name")
}

// FindCaseBySubject looks up an open Case by exact subject.
// Returns nil if no case is found.
func FindCaseBySubject(ctx context.Context, c Client, subject string) (*Record, error) {
	soql := fmt.Sprintf("SELECT Id FROM Case WHERE Subject = '%s' AND IsClosed = false LIMIT 1", escapeSoql(subject))
	return findOne(ctx, c, soql, "case by subject")
}

// FindCampaignByName looks up a Campaign by exact name.
// Returns nil if no campaign is found.
func FindCampaignByName(ctx context.Context, c Client, name string) (*Record, error) {
	soql := fmt.Sprintf("SELECT Id FROM Campaign WHERE Name = '%s' LIMIT 1", escapeSoql(name))
	return findOne(ctx, c, soql, "campaign by name")
}

// FindTask looks up a Task by the contact or lead it is attached to plus its
// subject, the natural key used to keep note attachment idempotent.
// Returns nil if no task is found.
func FindTask(ctx context.Context, c Client, whoID, subject string) (*Record, error) {
	soql := fmt.Sprintf(
		"SELECT Id FROM Task WHERE WhoId = '%s' AND Subject = '%s' LIMIT 1",
		escapeSoql(whoID), escapeSoql(subject),
	)
	return findOne(ctx, c, soql, "task")
}

// FindOrderByReference looks up an Order by the given reference field. The
// field name varies per org, so callers resolve it from the SObject
// description first. Returns nil if no order is found.
func FindOrderByReference(ctx context.Context, c Client, field, ref string) (*Record, error) {
	soql := fmt.Sprintf("SELECT Id FROM Order WHERE %s = '%s' LIMIT 1", field, escapeSoql(ref))
	return findOne(ctx, c, soql, "order by reference")
}

// escapeSoql escapes single quotes in SOQL string literals to prevent injection.
func escapeSoql(s string) string {
	return strings.ReplaceAll(s, "'", "\\'")
}
