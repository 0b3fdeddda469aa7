package content

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"outreach-automation-go/internal/config"
	"outreach-automation-go/internal/faults"
	"outreach-automation-go/internal/models"
)

// defaultSolutions backfills the outreach template when the model omits the
// solutions list.
var defaultSolutions = []string{"Optimize workflows", "Improve efficiency", "Drive growth"}

// OpenAIProvider implements Provider against an OpenAI-compatible
// chat-completions endpoint.
type OpenAIProvider struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

// NewOpenAIProvider creates a provider from configuration.
func NewOpenAIProvider(cfg *config.OpenAIConfig) *OpenAIProvider {
	return &OpenAIProvider{
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// complete performs one chat-completion call and returns the message text.
func (p *OpenAIProvider) complete(ctx context.Context, system, user string, temperature float64, maxTokens int) (string, error) {
	reqBody := chatRequest{
		Model: p.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", faults.Transient(fmt.Errorf("content provider request failed: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", faults.Transient(fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("content provider returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return "", faults.Transient(err)
		}
		return "", err
	}

	var chat chatResponse
	if err := json.Unmarshal(body, &chat); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if len(chat.Choices) == 0 {
		return "", fmt.Errorf("content provider returned no choices")
	}

	return strings.TrimSpace(chat.Choices[0].Message.Content), nil
}

// GenerateOutreach asks the model for a subject, body, and solutions list
// for the first outreach email to a lead.
func (p *OpenAIProvider) GenerateOutreach(ctx context.Context, lead LeadContext) (Outreach, error) {
	prompt := fmt.Sprintf(
		`Write a first-touch B2B outreach email to %q, a business in the %q category.
Respond as JSON: {"subject": "...", "email": "...", "solutions": ["...", "...", "..."]}`,
		lead.Company, lead.Category)

	raw, err := p.complete(ctx,
		"You are a professional B2B email writer. Generate compelling email content.",
		prompt, 0.7, 1000)
	if err != nil {
		return Outreach{}, err
	}

	out := parseOutreach(raw)
	if out.Subject == "" || out.Body == "" {
		return Outreach{}, fmt.Errorf("content provider produced unusable outreach content")
	}
	return out, nil
}

// GenerateFollowup asks the model for a follow-up email body.
func (p *OpenAIProvider) GenerateFollowup(ctx context.Context, lead LeadContext, followupNumber int) (string, error) {
	prompt := fmt.Sprintf(
		"Write follow-up email #%d in HTML to %q (%s, %s). They have not responded to earlier outreach. Keep it short and courteous.",
		followupNumber, lead.Company, lead.Category, lead.Website)
	return p.complete(ctx,
		"You are a professional B2B email writer. Generate follow-up emails in HTML format.",
		prompt, 0.7, 800)
}

// GenerateReply asks the model for an auto-reply matched to the sentiment
// of the inbound message.
func (p *OpenAIProvider) GenerateReply(ctx context.Context, classification models.Classification, replyText string) (string, error) {
	var prompt string
	switch classification {
	case models.ClassInterested:
		prompt = fmt.Sprintf("The prospect replied positively. Write a warm HTML reply proposing next steps.\n\nTheir message:\n%s", replyText)
	default:
		prompt = fmt.Sprintf("The prospect declined. Write a brief, gracious HTML reply leaving the door open.\n\nTheir message:\n%s", replyText)
	}
	return p.complete(ctx,
		"You are a professional B2B email writer. Generate personalized replies in HTML format.",
		prompt, 0.7, 1000)
}

// Classify maps an inbound reply onto the closed classification set.
func (p *OpenAIProvider) Classify(ctx context.Context, replyText string) (models.Classification, error) {
	raw, err := p.complete(ctx,
		"You classify email interest levels. Respond with EXACTLY 'INTERESTED', 'NOT INTERESTED', or 'NEUTRAL'.",
		replyText, 0.1, 10)
	if err != nil {
		return models.ClassUnparseable, err
	}
	return mapClassification(raw), nil
}

// mapClassification normalizes free-text model output onto the enum. The
// order matters: "NOT INTERESTED" contains "INTERESTED".
func mapClassification(raw string) models.Classification {
	text := strings.ToUpper(strings.TrimSpace(raw))
	switch {
	case text == "":
		return models.ClassUnparseable
	case strings.Contains(text, "NOT INTERESTED"):
		return models.ClassNotInterested
	case strings.Contains(text, "INTERESTED"):
		return models.ClassInterested
	case strings.Contains(text, "NEUTRAL"):
		return models.ClassNeutral
	}
	logrus.Warnf("Unrecognized classification output: %q", raw)
	return models.ClassUnparseable
}

// outreachJSON is the structured format the prompt asks for.
type outreachJSON struct {
	Subject   string   `json:"subject"`
	Email     string   `json:"email"`
	Solutions []string `json:"solutions"`
}

// parseOutreach extracts subject/body/solutions from the model output.
// Models sometimes wrap the JSON in markdown or fall back to labeled lines,
// so parsing degrades gracefully.
func parseOutreach(raw string) Outreach {
	out := Outreach{Solutions: defaultSolutions}

	if start, end := strings.Index(raw, "{"), strings.LastIndex(raw, "}"); start != -1 && end > start {
		var parsed outreachJSON
		if err := json.Unmarshal([]byte(raw[start:end+1]), &parsed); err == nil {
			out.Subject = strings.TrimSpace(parsed.Subject)
			out.Body = strings.TrimSpace(parsed.Email)
			if len(parsed.Solutions) > 0 {
				out.Solutions = parsed.Solutions
			}
			if out.Subject != "" && out.Body != "" {
				return out
			}
		}
	}

	// Labeled-line fallback.
	var bodyLines []string
	section := ""
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "SUBJECT:"):
			out.Subject = strings.TrimSpace(strings.TrimPrefix(line, "SUBJECT:"))
			section = "subject"
		case strings.HasPrefix(line, "BODY:"):
			if rest := strings.TrimSpace(strings.TrimPrefix(line, "BODY:")); rest != "" {
				bodyLines = append(bodyLines, rest)
			}
			section = "body"
		case strings.HasPrefix(line, "SOLUTIONS:"):
			if rest := strings.TrimSpace(strings.TrimPrefix(line, "SOLUTIONS:")); strings.Contains(rest, "|") {
				var solutions []string
				for _, s := range strings.Split(rest, "|") {
					solutions = append(solutions, strings.TrimSpace(s))
				}
				out.Solutions = solutions
			}
			section = "solutions"
		case section == "body" && line != "":
			bodyLines = append(bodyLines, line)
		}
	}
	if len(bodyLines) > 0 {
		out.Body = strings.Join(bodyLines, " ")
	}

	// Last resort: treat the whole output as the body when it reads like one.
	if out.Body == "" && (strings.Contains(raw, "Dear") || strings.Contains(raw, "Hello") || strings.Contains(raw, "<p>")) {
		lines := strings.SplitN(raw, "\n", 2)
		if out.Subject == "" && len(lines[0]) < 100 {
			out.Subject = strings.TrimSpace(lines[0])
			if len(lines) > 1 {
				out.Body = strings.TrimSpace(lines[1])
			}
		} else {
			out.Body = strings.TrimSpace(raw)
		}
	}

	return out
}
