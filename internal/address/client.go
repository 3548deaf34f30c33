// Package address resolves Brazilian postal codes (CEP) into street
// addresses through the ViaCEP web service.
package address

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode"

	"golang.org/x/time/rate"
)

var (
	ErrInvalidPostalCode = errors.New("invalid postal code")
	ErrNotFound          = errors.New("postal code not found")
	ErrUpstream          = errors.New("address lookup failed")
)

// Address is the enrichment result merged into an order's customer.
type Address struct {
	PostalCode   string
	Street       string
	Complement   string
	Neighborhood string
	City         string
	State        string
	StateName    string
}

type viaCEPResponse struct {
	CEP          string          `json:"cep"`
	Logradouro   string          `json:"logradouro"`
	Complemento  string          `json:"complemento"`
	Bairro       string          `json:"bairro"`
	Localidade   string          `json:"localidade"`
	UF           string          `json:"uf"`
	Estado       string          `json:"estado"`
	Erro         json.RawMessage `json:"erro"`
}

// notFound handles both `"erro": true` and the newer `"erro": "true"`.
func (r viaCEPResponse) notFound() bool {
	v := strings.Trim(string(r.Erro), `"`)
	return v == "true"
}

// Client calls ViaCEP with an outbound rate limit and a per-request timeout.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

type Option func(*Client)

// WithHTTPClient replaces the default client, e.g. with httptest's.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithLimiter(l *rate.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

// NewClient builds a client for baseURL (e.g. https://viacep.com.br/ws).
// ratePerSecond <= 0 disables limiting.
func NewClient(baseURL string, timeout time.Duration, ratePerSecond float64, logger *slog.Logger, opts ...Option) *Client {
	limit := rate.Inf
	burst := 1
	if ratePerSecond > 0 {
		limit = rate.Limit(ratePerSecond)
		burst = max(1, int(ratePerSecond))
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger.With("component", "address.viacep"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NormalizePostalCode strips everything but digits and requires exactly eight.
func NormalizePostalCode(raw string) (string, error) {
	digits := strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, raw)
	if len(digits) != 8 {
		return "", fmt.Errorf("%w: %q", ErrInvalidPostalCode, raw)
	}
	return digits, nil
}

// Lookup resolves postalCode. Errors wrap ErrInvalidPostalCode, ErrNotFound or ErrUpstream.
func (c *Client) Lookup(ctx context.Context, postalCode string) (*Address, error) {
	cep, err := NormalizePostalCode(postalCode)
	if err != nil {
		return nil, err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limiter: %v", ErrUpstream, err)
	}

	url := fmt.Sprintf("%s/%s/json/", c.baseURL, cep)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrUpstream, err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("viacep request failed", "cep", cep, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("viacep response", "cep", cep, "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}

	var body viaCEPResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrUpstream, err)
	}
	if body.notFound() {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, cep)
	}

	return &Address{
		PostalCode:   body.CEP,
		Street:       body.Logradouro,
		Complement:   body.Complemento,
		Neighborhood: body.Bairro,
		City:         body.Localidade,
		State:        body.UF,
		StateName:    body.Estado,
	}, nil
}
