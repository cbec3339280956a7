package salesforce

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
)

// UpdateAccount updates an Account record with the given fields.
func UpdateAccount(ctx context.Context, c Client, accountID string, fields map[string]any) error {
	if accountID == "" {
		return eris.New("sf: account id is required")
	}
	if len(fields) == 0 {
		return eris.New("sf: no fields to update")
	}
	if err := c.UpdateOne(ctx, "Account", accountID, fields); err != nil {
		return eris.Wrap(err, fmt.Sprintf("sf: update account %s", accountID))
	}
	return nil
}

// CreateAccount creates a new Account record and returns the new Salesforce ID.
func CreateAccount(ctx context.Context, c Client, fields map[string]any) (string, error) {
	if fields["Name"] == nil || fields["Name"] == "" {
		return "", eris.New("sf: account Name is required")
	}
	id, err := c.InsertOne(ctx, "Account", fields)
	if err != nil {
		return "", eris.Wrap(err, "sf: create account")
	}
	return id, nil
}

// UpdateContact updates a Contact record with the given fields.
func UpdateContact(ctx context.Context, c Client, contactID string, fields map[string]any) error {
	if contactID == "" {
		return eris.New("sf: contact id is required")
	}
	if len(fields) == 0 {
		return eris.New("sf: no fields to update")
	}
	if err := c.UpdateOne(ctx, "Contact", contactID, fields); err != nil {
		return eris.Wrap(err, fmt.Sprintf("sf: update contact %s", contactID))
	}
	return nil
}

// CreateContact creates a new Contact record, optionally linked to an
// Account, and returns the new Salesforce ID.
func CreateContact(ctx context.Context, c Client, accountID string, fields map[string]any) (string, error) {
	if fields == nil {
		fields = make(map[string]any)
	}
	if fields["LastName"] == nil || fields["LastName"] == "" {
		return "", eris.New("sf: contact LastName is required")
	}
	if accountID != "" {
		fields["AccountId"] = accountID
	}
	id, err := c.InsertOne(ctx, "Contact", fields)
	if err != nil {
		return "", eris.Wrap(err, "sf: create contact")
	}
	return id, nil
}

// CreateLead creates a new Lead record and returns the new Salesforce ID.
func CreateLead(ctx context.Context, c Client, fields map[string]any) (string, error) {
	if fields["LastName"] == nil || fields["LastName"] == "" {
		return "", eris.New("sf: lead LastName is required")
	}
	if fields["Company"] == nil || fields["Company"] == "" {
		return "", eris.New("sf: lead Company is required")
	}
	id, err := c.InsertOne(ctx, "Lead", fields)
	if err != nil {
		return "", eris.Wrap(err, "sf: create lead")
	}
	return id, nil
}

// CreateOpportunity creates a new Opportunity, optionally linked to an
// Account, and returns the new Salesforce ID.
func CreateOpportunity(ctx context.Context, c Client, accountID string, fields map[string]any) (string, error) {
	if fields == nil {
		fields = make(map[string]any)
	}
	if fields["Name"] == nil || fields["Name"] == "" {
		return "", eris.New("sf: opportunity Name is required")
	}
	if accountID != "" {
		fields["AccountId"] = accountID
	}
	id, err := c.InsertOne(ctx, "Opportunity", fields)
	if err != nil {
		return "", eris.Wrap(err, "sf: create opportunity")
	}
	return id, nil
}

// CreateCase creates a new Case, optionally linked to a Contact and Account,
// and returns the new Salesforce ID.
func CreateCase(ctx context.Context, c Client, contactID, accountID string, fields map[string]any) (string, error) {
	if fields == nil {
		fields = make(map[string]any)
	}
	if fields["Subject"] == nil || fields["Subject"] == "" {
		return "", eris.New("sf: case Subject is required")
	}
	if contactID != "" {
		fields["ContactId"] = contactID
	}
	if accountID != "" {
		fields["AccountId"] = accountID
	}
	id, err := c.InsertOne(ctx, "Case", fields)
	if err != nil {
		return "", eris.Wrap(err, "sf: create case")
	}
	return id, nil
}

// CreateCampaign creates a new Campaign record and returns the new Salesforce ID.
func CreateCampaign(ctx context.Context, c Client, fields map[string]any) (string, error) {
	if fields["Name"] == nil || fields["Name"] == "" {
		return "", eris.New("sf: campaign Name is required")
	}
	id, err := c.InsertOne(ctx, "Campaign", fields)
	if err != nil {
		return "", eris.Wrap(err, "sf: create campaign")
	}
	return id, nil
}

// CreateTask creates a Task attached to a contact or lead (WhoId) and
// optionally a related record (WhatId). Returns the new Salesforce ID.
func CreateTask(ctx context.Context, c Client, whoID, whatID string, fields map[string]any) (string, error) {
	if fields == nil {
		fields = make(map[string]any)
	}
	if fields["Subject"] == nil || fields["Subject"] == "" {
		return "", eris.New("sf: task Subject is required")
	}
	if whoID != "" {
		fields["WhoId"] = whoID
	}
	if whatID != "" {
		fields["WhatId"] = whatID
	}
	id, err := c.InsertOne(ctx, "Task", fields)
	if err != nil {
		return "", eris.Wrap(err, "sf: create task")
	}
	return id, nil
}
