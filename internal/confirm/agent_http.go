package confirm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nyaruka/phonenumbers"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/time/rate"
)

// HTTPAgentConfig configures an HTTPAgent.
type HTTPAgentConfig struct {
	// BaseURL is the agent API root. Triggers POST to BaseURL/create and
	// confirmations are read from BaseURL/confirmations/{reference}.
	BaseURL string
	APIKey  string
	Timeout time.Duration

	// Outbound request rate. Zero means unlimited.
	RatePerSecond float64
	Burst         int

	// DefaultRegion is used to parse contact numbers without a country
	// prefix. DefaultPhone is sent when a result has no usable contact.
	DefaultRegion string
	DefaultPhone  string

	CustomerName string
	Language     string
}

// HTTPAgent talks to the address resolution agent over HTTP.
type HTTPAgent struct {
	cfg        HTTPAgentConfig
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewHTTPAgent creates an HTTPAgent.
func NewHTTPAgent(cfg HTTPAgentConfig) *HTTPAgent {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.DefaultRegion == "" {
		cfg.DefaultRegion = "ZA"
	}
	if cfg.CustomerName == "" {
		cfg.CustomerName = "Customer"
	}
	if cfg.Language == "" {
		cfg.Language = "en"
	}

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &HTTPAgent{
		cfg:        cfg,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(limit, burst),
	}
}

type triggerPayload struct {
	CustomerPhoneNumber string         `json:"customer_phone_number"`
	ReferenceNumber     string         `json:"reference_number"`
	CustomerName        string         `json:"customer_name"`
	ShipmentDescription string         `json:"shipment_description"`
	CODAmount           string         `json:"cod_amount"`
	AddressDetails      addressDetails `json:"address_details"`
	PreferredLanguage   string         `json:"preferred_language"`
	ActionType          string         `json:"action_type"`
}

type addressDetails struct {
	AddressLine1 string `json:"address_line_1"`
	Pincode      string `json:"pincode"`
	City         string `json:"city"`
	Country      string `json:"country"`
	Latitude     string `json:"latitude"`
	Longitude    string `json:"longitude"`
}

// Trigger posts the address resolution request for req.
func (a *HTTPAgent) Trigger(ctx context.Context, req TriggerRequest) error {
	payload := triggerPayload{
		CustomerPhoneNumber: a.phone(req.Contact),
		ReferenceNumber:     req.Reference,
		CustomerName:        a.cfg.CustomerName,
		ShipmentDescription: "Address Verification",
		CODAmount:           "0",
		AddressDetails: addressDetails{
			AddressLine1: req.Address,
			Pincode:      req.PostalCode,
			City:         req.City,
			Country:      countryName(req.Country),
			Latitude:     coord(req.Latitude),
			Longitude:    coord(req.Longitude),
		},
		PreferredLanguage: a.cfg.Language,
		ActionType:        string(req.Action),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal agent request: %w", err)
	}

	resp, err := a.do(ctx, http.MethodPost, a.baseURL+"/create", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("agent returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

type confirmationResponse struct {
	Status               string `json:"status"`
	ConfirmedAddress     string `json:"confirmed_address"`
	ConfirmedCoordinates *struct {
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
	} `json:"confirmed_coordinates"`
	ConfirmationMethod string    `json:"confirmation_method"`
	ConfirmedBy        string    `json:"confirmed_by"`
	ConfirmedAt        time.Time `json:"confirmed_at"`
}

// Fetch reads the confirmation for reference. A 404 or a non-confirmed
// status means it is still pending.
func (a *HTTPAgent) Fetch(ctx context.Context, reference string) (*Confirmation, error) {
	resp, err := a.do(ctx, http.MethodGet, a.baseURL+"/confirmations/"+url.PathEscape(reference), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read agent response: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("agent returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var body confirmationResponse
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("failed to decode agent response: %w", err)
	}
	if !strings.EqualFold(body.Status, "confirmed") || strings.TrimSpace(body.ConfirmedAddress) == "" {
		return nil, nil
	}

	c := &Confirmation{
		Address:     body.ConfirmedAddress,
		Method:      body.ConfirmationMethod,
		ConfirmedBy: body.ConfirmedBy,
		ConfirmedAt: body.ConfirmedAt,
		Raw:         json.RawMessage(raw),
	}
	if cc := body.ConfirmedCoordinates; cc != nil {
		c.Latitude, c.Longitude = cc.Latitude, cc.Longitude
	}
	return c, nil
}

func (a *HTTPAgent) do(ctx context.Context, method, target string, body []byte) (*http.Response, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("agent rate limit: %w", err)
	}

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return nil, fmt.Errorf("failed to create agent request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if a.cfg.APIKey != "" {
		req.Header.Set("api-key", a.cfg.APIKey)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("agent request failed: %w", err)
	}
	return resp, nil
}

// phone formats contact as E.164, falling back to the configured default
// number when contact is empty or not a valid number.
func (a *HTTPAgent) phone(contact string) string {
	if n := NormalizeE164(contact, a.cfg.DefaultRegion); n != "" {
		return n
	}
	return NormalizeE164(a.cfg.DefaultPhone, a.cfg.DefaultRegion)
}

// NormalizeE164 formats a phone number as E.164 using region for numbers
// without a country prefix. It returns "" when input is not a valid number.
func NormalizeE164(input, region string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return ""
	}

	number, err := phonenumbers.Parse(trimmed, strings.ToUpper(region))
	if err != nil {
		return ""
	}
	if !phonenumbers.IsValidNumber(number) {
		return ""
	}
	return phonenumbers.Format(number, phonenumbers.E164)
}

func coord(p *float64) string {
	if p == nil {
		return ""
	}
	return strconv.FormatFloat(*p, 'f', -1, 64)
}

// countryName turns a country slug into the display name the agent expects.
func countryName(slug string) string {
	return cases.Title(language.English).String(strings.ReplaceAll(strings.TrimSpace(slug), "-", " "))
}
