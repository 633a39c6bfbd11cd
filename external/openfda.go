// Package external talks to third-party pharmaceutical data services.
package external

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/brunobiangulo/medreason/metrics"
)

var (
	// ErrNotFound is returned when the service has no record for a query.
	ErrNotFound = errors.New("external: drug not found")

	// ErrUnavailable wraps transport, status and breaker failures.
	ErrUnavailable = errors.New("external: drug API unavailable")
)

// DrugAPI looks up a drug by free-text name.
type DrugAPI interface {
	LookupDrug(ctx context.Context, query string) (*DrugRecord, error)
}

// DrugRecord is a normalized drug label.
type DrugRecord struct {
	Name              string   `json:"name"`
	GenericName       string   `json:"generic_name"`
	BrandNames        []string `json:"brand_names,omitempty"`
	DosageForms       []string `json:"dosage_forms,omitempty"`
	Routes            []string `json:"routes,omitempty"`
	Manufacturer      string   `json:"manufacturer,omitempty"`
	Category          string   `json:"category,omitempty"`
	Description       string   `json:"description,omitempty"`
	Indications       []string `json:"indications,omitempty"`
	Contraindications []string `json:"contraindications,omitempty"`
	SideEffects       []string `json:"side_effects,omitempty"`
	Interactions      string   `json:"interactions,omitempty"` // label prose
	Mechanism         string   `json:"mechanism,omitempty"`
	Source            string   `json:"source"`
}

// Config configures the openFDA client.
type Config struct {
	BaseURL   string        `json:"base_url" yaml:"base_url"`
	APIKey    string        `json:"api_key" yaml:"api_key"`
	Timeout   time.Duration `json:"timeout" yaml:"timeout"`
	RateLimit float64       `json:"rate_limit" yaml:"rate_limit"` // requests per second
}

const (
	DefaultBaseURL = "https://api.fda.gov"
	labelPath      = "/drug/label.json"
	sourceName     = "openFDA Drug Label"

	maxSectionRunes = 600
)

// Client queries the openFDA drug label endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	rateLimit  *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	rec        metrics.Recorder
}

var _ DrugAPI = (*Client)(nil)

// NewClient creates an openFDA client. rec may be nil.
func NewClient(cfg Config, rec metrics.Recorder) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 4 // openFDA allows 240 requests per minute
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		rateLimit: rate.NewLimiter(rate.Limit(cfg.RateLimit), 1),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "openfda",
			MaxRequests: 3,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 3 && failureRatio >= 0.6
			},
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				slog.Warn("search: circuit breaker state change", "name", name, "from", from.String(), "to", to.String())
			},
		}),
		rec: metrics.OrNoop(rec),
	}
}

type labelResponse struct {
	Results []labelResult `json:"results"`
}

type labelResult struct {
	OpenFDA struct {
		BrandName        []string `json:"brand_name"`
		GenericName      []string `json:"generic_name"`
		SubstanceName    []string `json:"substance_name"`
		ManufacturerName []string `json:"manufacturer_name"`
		Route            []string `json:"route"`
		PharmClassEPC    []string `json:"pharm_class_epc"`
	} `json:"openfda"`
	Description          []string `json:"description"`
	IndicationsAndUsage  []string `json:"indications_and_usage"`
	Contraindications    []string `json:"contraindications"`
	AdverseReactions     []string `json:"adverse_reactions"`
	DrugInteractions     []string `json:"drug_interactions"`
	MechanismOfAction    []string `json:"mechanism_of_action"`
	DosageFormsStrengths []string `json:"dosage_forms_and_strengths"`
}

// LookupDrug searches labels by generic or brand name and returns the
// best match.
func (c *Client) LookupDrug(ctx context.Context, query string) (rec *DrugRecord, err error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("drug query cannot be empty")
	}

	done := metrics.TimeCall(c.rec, "drug_api")
	defer func() { done(err == nil) }()

	if err := c.rateLimit.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait failed: %w", err)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetchLabel(ctx, query)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		return nil, err
	}
	return result.(*DrugRecord), nil
}

func (c *Client) fetchLabel(ctx context.Context, query string) (*DrugRecord, error) {
	term := url.QueryEscape(`"` + query + `"`)
	search := "openfda.generic_name:" + term + "+OR+openfda.brand_name:" + term + "+OR+openfda.substance_name:" + term
	reqURL := c.baseURL + labelPath + "?search=" + search + "&limit=1"
	if c.apiKey != "" {
		reqURL += "&api_key=" + url.QueryEscape(c.apiKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, query)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var lr labelResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %w", ErrUnavailable, err)
	}
	if len(lr.Results) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, query)
	}
	return toRecord(lr.Results[0], query), nil
}

func toRecord(r labelResult, query string) *DrugRecord {
	generic := firstOf(r.OpenFDA.GenericName)
	if generic == "" {
		generic = firstOf(r.OpenFDA.SubstanceName)
	}
	name := titleCase(generic)
	if name == "" {
		name = titleCase(query)
	}

	rec := &DrugRecord{
		Name:              name,
		GenericName:       strings.ToLower(generic),
		BrandNames:        dedupe(r.OpenFDA.BrandName),
		Routes:            dedupe(r.OpenFDA.Route),
		Manufacturer:      firstOf(r.OpenFDA.ManufacturerName),
		Category:          firstOf(r.OpenFDA.PharmClassEPC),
		Description:       section(r.Description),
		Indications:       sections(r.IndicationsAndUsage),
		Contraindications: sections(r.Contraindications),
		SideEffects:       sections(r.AdverseReactions),
		Interactions:      strings.Join(r.DrugInteractions, "\n"),
		Mechanism:         section(r.MechanismOfAction),
		Source:            sourceName,
	}
	for _, s := range r.DosageFormsStrengths {
		rec.DosageForms = append(rec.DosageForms, clip(s))
	}
	return rec
}

func firstOf(v []string) string {
	for _, s := range v {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

func dedupe(v []string) []string {
	seen := make(map[string]bool, len(v))
	var out []string
	for _, s := range v {
		s = strings.TrimSpace(s)
		key := strings.ToLower(s)
		if s == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}

func section(v []string) string {
	return clip(strings.Join(v, " "))
}

func sections(v []string) []string {
	var out []string
	for _, s := range v {
		if s = clip(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// clip collapses whitespace and bounds label prose, which runs to pages.
func clip(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= maxSectionRunes {
		return s
	}
	return strings.TrimSpace(string(r[:maxSectionRunes])) + "..."
}

func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
