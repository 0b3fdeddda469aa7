// Package scraper calls the Apify lead-scraping actor and validates its
// output. Scraped data is untrusted: candidates without a usable company
// name and business email never reach the lead store.
package scraper

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

// actorPath is the run-sync endpoint of the Google Maps contact scraper.
const actorPath = "/v2/acts/lukaskrivka~google-maps-with-contact-details/run-sync-get-dataset-items"

// Client calls the Apify API.
type Client struct {
	apiKey     string
	baseURL    string
	maxResults int
	client     *http.Client
}

// NewClient creates a scraper client from configuration.
func NewClient(cfg *config.ApifyConfig) *Client {
	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		maxResults: cfg.MaxResults,
		client:     &http.Client{Timeout: cfg.Timeout},
	}
}

// rawLead mirrors the actor's dataset item shape.
type rawLead struct {
	Title            string   `json:"title"`
	Website          string   `json:"website"`
	Emails           []string `json:"emails"`
	Email            string   `json:"email"`
	Address          string   `json:"address"`
	Phone            string   `json:"phone"`
	PhoneUnformatted string   `json:"phoneUnformatted"`
}

// FetchLeads runs one search and returns validated lead candidates in
// status new. Candidates without a business email are dropped: the
// outreach job has no way to contact them.
func (c *Client) FetchLeads(ctx context.Context, search config.CategorySearch) ([]models.Lead, error) {
	payload := map[string]interface{}{
		"language":                  "en",
		"locationQuery":             search.Location,
		"maxCrawledPlacesPerSearch": c.maxResults,
		"searchStringsArray":        []string{fmt.Sprintf("%s in %s", search.Category, search.Location)},
		"skipClosedPlaces":          false,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+actorPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	logrus.Infof("Searching for %q in %q (max %d results)", search.Category, search.Location, c.maxResults)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, faults.Transient(fmt.Errorf("scraper request failed: %w", err))
	}
	defer resp.Body.Close()

	// The run-sync endpoint answers 201 on success.
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		text, _ := io.ReadAll(resp.Body)
		err := fmt.Errorf("scraper returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(text)))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, faults.Transient(err)
		}
		return nil, err
	}

	var raw []rawLead
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode scraper response: %w", err)
	}

	leads := make([]models.Lead, 0, len(raw))
	for _, r := range raw {
		lead, ok := validate(r, search)
		if !ok {
			continue
		}
		leads = append(leads, lead)
	}

	logrus.Infof("Scraper returned %d raw candidates, %d validated", len(raw), len(leads))
	return leads, nil
}

// validate re-checks required fields on an untrusted candidate.
func validate(r rawLead, search config.CategorySearch) (models.Lead, bool) {
	title := strings.TrimSpace(r.Title)
	if len(title) < 3 {
		return models.Lead{}, false
	}

	email := BestEmail(collectEmails(r))
	if email == "" {
		return models.Lead{}, false
	}

	location := strings.TrimSpace(r.Address)
	if location == "" {
		location = search.Location
	}
	phone := strings.TrimSpace(r.Phone)
	if phone == "" {
		phone = strings.TrimSpace(r.PhoneUnformatted)
	}

	return models.Lead{
		Company:  title,
		Website:  strings.TrimSpace(r.Website),
		Email:    email,
		Phone:    phone,
		Category: search.Category,
		Location: location,
		Status:   models.StatusNew,
	}, true
}

// collectEmails gathers every address field the actor may populate.
func collectEmails(r rawLead) []string {
	var addresses []string
	for _, e := range r.Emails {
		if e = strings.TrimSpace(e); e != "" {
			addresses = append(addresses, e)
		}
	}
	if e := strings.TrimSpace(r.Email); e != "" {
		addresses = append(addresses, e)
	}
	return addresses
}
