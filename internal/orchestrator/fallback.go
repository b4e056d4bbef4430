package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"time"
)

// noRealtimePatterns detect answers where the model admits it lacks
// live data — the cue for the optional web-context retry.
var noRealtimePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)i don'?t have access to real[- ]?time`),
	regexp.MustCompile(`(?i)i (?:cannot|can'?t) access (?:the )?(?:internet|web|current)`),
	regexp.MustCompile(`(?i)as of my (?:last|knowledge) (?:update|cutoff)`),
	regexp.MustCompile(`(?i)i don'?t have (?:current|up[- ]to[- ]date) information`),
}

// needsWebFallback reports whether the answer matches the heuristics.
func needsWebFallback(answer string) bool {
	for _, p := range noRealtimePatterns {
		if p.MatchString(answer) {
			return true
		}
	}
	return false
}

// ContextRetriever fetches a short external context snippet for a
// query. Implementations must respect ctx deadlines.
type ContextRetriever interface {
	Retrieve(ctx context.Context, query string) (string, error)
}

// DuckDuckGoRetriever uses the instant-answer API: no key, plain
// abstract text, good enough for a single-shot retry.
type DuckDuckGoRetriever struct {
	Timeout time.Duration
	http    *http.Client
}

// NewDuckDuckGoRetriever creates a retriever with the given deadline.
func NewDuckDuckGoRetriever(timeout time.Duration) *DuckDuckGoRetriever {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &DuckDuckGoRetriever{
		Timeout: timeout,
		http:    &http.Client{Timeout: timeout},
	}
}

// Retrieve fetches the abstract for the query.
func (r *DuckDuckGoRetriever) Retrieve(ctx context.Context, query string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	endpoint := "https://api.duckduckgo.com/?format=json&no_html=1&q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}

	var body struct {
		AbstractText string `json:"AbstractText"`
		Answer       string `json:"Answer"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	if body.Answer != "" {
		return body.Answer, nil
	}
	return body.AbstractText, nil
}
