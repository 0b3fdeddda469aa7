package content

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outreach-automation-go/internal/config"
	"outreach-automation-go/internal/faults"
	"outreach-automation-go/internal/models"
)

func TestParseOutreachJSON(t *testing.T) {
	raw := `{"subject": "Scaling Acme", "email": "<p>Hello</p>", "solutions": ["A", "B", "C"]}`
	out := parseOutreach(raw)
	assert.Equal(t, "Scaling Acme", out.Subject)
	assert.Equal(t, "<p>Hello</p>", out.Body)
	assert.Equal(t, []string{"A", "B", "C"}, out.Solutions)
}

func TestParseOutreachJSONWrappedInMarkdown(t *testing.T) {
	raw := "```json\n{\"subject\": \"Hi Acme\", \"email\": \"Body text\"}\n```"
	out := parseOutreach(raw)
	assert.Equal(t, "Hi Acme", out.Subject)
	assert.Equal(t, "Body text", out.Body)
	assert.Equal(t, defaultSolutions, out.Solutions)
}

func TestParseOutreachLabeledLineFallback(t *testing.T) {
	raw := "SUBJECT: Growth for Acme\nBODY: First line.\nSecond line.\nSOLUTIONS: One | Two | Three"
	out := parseOutreach(raw)
	assert.Equal(t, "Growth for Acme", out.Subject)
	assert.Equal(t, "First line. Second line.", out.Body)
	assert.Equal(t, []string{"One", "Two", "Three"}, out.Solutions)
}

func TestParseOutreachPlainProseFallback(t *testing.T) {
	raw := "Quick idea for Acme\nDear team,\nWe help businesses like yours."
	out := parseOutreach(raw)
	assert.Equal(t, "Quick idea for Acme", out.Subject)
	assert.Contains(t, out.Body, "Dear team,")
}

func TestMapClassification(t *testing.T) {
	cases := map[string]models.Classification{
		"INTERESTED":                models.ClassInterested,
		"not interested":            models.ClassNotInterested,
		"The lead is NOT INTERESTED.": models.ClassNotInterested,
		"NEUTRAL":                   models.ClassNeutral,
		"":                          models.ClassUnparseable,
		"blue":                      models.ClassUnparseable,
	}
	for raw, want := range cases {
		assert.Equal(t, want, mapClassification(raw), "input %q", raw)
	}
}

func newTestProvider(t *testing.T, handler http.HandlerFunc) *OpenAIProvider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewOpenAIProvider(&config.OpenAIConfig{
		APIKey:  "test-key",
		Model:   "test-model",
		BaseURL: server.URL,
		Timeout: 5 * time.Second,
	})
}

func TestClassifyRoundTrip(t *testing.T) {
	provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req.Model)

		resp := map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": "INTERESTED"}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	})

	class, err := provider.Classify(context.Background(), "Sounds great, let's talk")
	require.NoError(t, err)
	assert.Equal(t, models.ClassInterested, class)
}

func TestRateLimitIsTransient(t *testing.T) {
	provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := provider.Classify(context.Background(), "hi")
	require.Error(t, err)
	assert.True(t, faults.IsTransient(err))
}

func TestBadRequestIsPermanent(t *testing.T) {
	provider := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})

	_, err := provider.GenerateOutreach(context.Background(), LeadContext{Company: "Acme"})
	require.Error(t, err)
	assert.False(t, faults.IsTransient(err))
}
