package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
)

// StatusError is returned when the price service answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("price service answered with status %d: %s", e.StatusCode, e.Body)
}

// HTTPSource queries a price service exposing
// GET <endpoint>?type=<instance>&region=<region>&market=spot&provider=<provider>
// and answering {"prices_spot": {"<zone>": <price>}}.
type HTTPSource struct {
	endpoint string
	client   *http.Client
}

var _ Source = (*HTTPSource)(nil)

// NewHTTPSource creates a source for the given endpoint. A nil client
// falls back to a client that ignores proxy settings from the environment.
func NewHTTPSource(endpoint string, client *http.Client) (*HTTPSource, error) {
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("invalid price service endpoint '%s': %w", endpoint, err)
	}

	if client == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.Proxy = nil
		client = &http.Client{Transport: transport}
	}

	return &HTTPSource{endpoint: endpoint, client: client}, nil
}

type spotResponse struct {
	PricesSpot map[string]flexFloat `json:"prices_spot"`
}

// flexFloat accepts both JSON numbers and numeric strings.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	var number float64
	if err := json.Unmarshal(data, &number); err == nil {
		*f = flexFloat(number)
		return nil
	}

	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return fmt.Errorf("price must be a number or a numeric string: %s", string(data))
	}
	number, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return fmt.Errorf("failed to parse price '%s': %w", text, err)
	}
	*f = flexFloat(number)
	return nil
}

func (s *HTTPSource) SpotPrices(ctx context.Context, query Query) (Prices, error) {
	market := query.Market
	if market == "" {
		market = MarketSpot
	}

	params := url.Values{}
	params.Set("type", query.InstanceType)
	params.Set("region", query.Region)
	params.Set("market", market)
	params.Set("provider", query.Provider)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create price request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query price service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var payload spotResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode price response: %w", err)
	}

	prices := make(Prices, len(payload.PricesSpot))
	for zone, price := range payload.PricesSpot {
		prices[zone] = float64(price)
	}
	return prices, nil
}
