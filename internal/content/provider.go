// Package content wraps the LLM collaborator that writes outreach copy and
// classifies inbound replies. Callers apply bounded retry on transient
// failures only; the prose itself is opaque to the engine.
package content

import (
	"context"

	"outreach-automation-go/internal/models"
)

// Outreach is the generated content for one outbound campaign email.
type Outreach struct {
	Subject   string
	Body      string
	Solutions []string
}

// LeadContext carries the lead fields the provider personalizes on.
type LeadContext struct {
	Company  string
	Category string
	Website  string
}

// Provider generates email content and classifies reply sentiment.
type Provider interface {
	GenerateOutreach(ctx context.Context, lead LeadContext) (Outreach, error)
	GenerateFollowup(ctx context.Context, lead LeadContext, followupNumber int) (string, error)
	GenerateReply(ctx context.Context, classification models.Classification, replyText string) (string, error)
	Classify(ctx context.Context, replyText string) (models.Classification, error)
}
