// Package market proxies the data.gov.in daily commodity price resource.
package market

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"farmassist/pkg/domain"
)

// DefaultBaseURL is the "current daily price of various commodities" resource.
const DefaultBaseURL = "https://api.data.gov.in/resource/9ef84268-d588-465a-a308-a864a43d0070"

const (
	serviceName    = "market"
	pricesLimit    = 50
	statesLimit    = 1000
	defaultTimeout = 15 * time.Second
	maxBodyBytes   = 8 << 20
)

// Config configures the upstream client.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// RequestsPerSecond caps outbound calls to stay inside the API key quota.
	// Zero disables the cap.
	RequestsPerSecond float64
}

// Client calls the price API. Failures are never retried.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// Filter narrows a price query. Empty fields are not sent.
type Filter struct {
	State     string
	District  string
	Market    string
	Commodity string
	Date      string
}

// Prices is one page of upstream records.
type Prices struct {
	Records []domain.MarketRecord `json:"records"`
	Total   int                   `json:"total"`
	Count   int                   `json:"count"`
}

// NewClient builds a price API client.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("market api key required")
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("market api url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c := &Client{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		httpClient: &http.Client{Timeout: timeout},
	}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return c, nil
}

// Prices fetches up to 50 records matching f.
func (c *Client) Prices(ctx context.Context, f Filter) (Prices, error) {
	q := c.query(pricesLimit)
	addFilter(q, "state", f.State)
	addFilter(q, "district", f.District)
	addFilter(q, "market", f.Market)
	addFilter(q, "commodity", f.Commodity)
	addFilter(q, "arrival_date", f.Date)

	var resp apiResponse
	if err := c.get(ctx, q, &resp); err != nil {
		return Prices{}, err
	}
	out := Prices{
		Records: make([]domain.MarketRecord, 0, len(resp.Records)),
		Total:   int(resp.Total),
		Count:   int(resp.Count),
	}
	for _, r := range resp.Records {
		out.Records = append(out.Records, r.toDomain())
	}
	if out.Count == 0 {
		out.Count = len(out.Records)
	}
	return out, nil
}

// States lists the distinct states present in the first 1000 records, sorted.
func (c *Client) States(ctx context.Context) ([]string, error) {
	var resp apiResponse
	if err := c.get(ctx, c.query(statesLimit), &resp); err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	states := make([]string, 0)
	for _, r := range resp.Records {
		state := strings.TrimSpace(string(r.State))
		if state == "" {
			continue
		}
		if _, ok := seen[state]; ok {
			continue
		}
		seen[state] = struct{}{}
		states = append(states, state)
	}
	sort.Strings(states)
	return states, nil
}

func (c *Client) query(limit int) url.Values {
	q := url.Values{}
	q.Set("api-key", c.apiKey)
	q.Set("format", "json")
	q.Set("limit", strconv.Itoa(limit))
	return q
}

func addFilter(q url.Values, field, value string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	q.Set("filters["+field+"]", value)
}

func (c *Client) get(ctx context.Context, q url.Values, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return &domain.UpstreamError{Service: serviceName, Message: "rate limit wait", Err: err}
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return &domain.UpstreamError{Service: serviceName, Message: "build request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &domain.UpstreamError{Service: serviceName, Message: "request failed", Err: redactKey(err, c.apiKey)}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return &domain.UpstreamError{
			Service: serviceName,
			Status:  resp.StatusCode,
			Message: statusText(resp),
		}
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(out); err != nil {
		return &domain.UpstreamError{Service: serviceName, Message: "invalid response body", Err: err}
	}
	return nil
}

func statusText(resp *http.Response) string {
	if text := http.StatusText(resp.StatusCode); text != "" {
		return text
	}
	return resp.Status
}

// redactKey keeps the API key out of logged transport errors, which embed the URL.
func redactKey(err error, key string) error {
	if key == "" || !strings.Contains(err.Error(), key) {
		return err
	}
	return errors.New(strings.ReplaceAll(err.Error(), key, "REDACTED"))
}

type apiResponse struct {
	Records []apiRecord `json:"records"`
	Total   flexInt     `json:"total"`
	Count   flexInt     `json:"count"`
}

type apiRecord struct {
	State       flexString `json:"state"`
	District    flexString `json:"district"`
	Market      flexString `json:"market"`
	Commodity   flexString `json:"commodity"`
	Variety     flexString `json:"variety"`
	Grade       flexString `json:"grade"`
	ArrivalDate flexString `json:"arrival_date"`
	MinPrice    flexString `json:"min_price"`
	MaxPrice    flexString `json:"max_price"`
	ModalPrice  flexString `json:"modal_price"`
}

func (r apiRecord) toDomain() domain.MarketRecord {
	return domain.MarketRecord{
		State:       string(r.State),
		District:    string(r.District),
		Market:      string(r.Market),
		Commodity:   string(r.Commodity),
		Variety:     string(r.Variety),
		Grade:       string(r.Grade),
		ArrivalDate: string(r.ArrivalDate),
		MinPrice:    string(r.MinPrice),
		MaxPrice:    string(r.MaxPrice),
		ModalPrice:  string(r.ModalPrice),
	}
}

// flexString accepts a JSON string, number or null. The upstream is not
// consistent about quoting prices.
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*s = flexString(n.String())
	return nil
}

// flexInt accepts a JSON number or a quoted number.
type flexInt int

func (i *flexInt) UnmarshalJSON(b []byte) error {
	var s flexString
	if err := s.UnmarshalJSON(b); err != nil {
		return err
	}
	if s == "" {
		*i = 0
		return nil
	}
	n, err := strconv.Atoi(string(s))
	if err != nil {
		return fmt.Errorf("invalid integer %q", string(s))
	}
	*i = flexInt(n)
	return nil
}
