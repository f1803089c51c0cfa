// Package pricing quotes USD prices for wallet assets. Venues are
// interchangeable behind Provider; Chain arranges them into an ordered
// fallback list so a single venue outage never takes pricing down.
package pricing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// Provider quotes the USD price of one asset symbol.
type Provider interface {
	// Name identifies the venue in logs.
	Name() string
	// QuoteUSD returns the current USD price for a symbol such as "ETH".
	QuoteUSD(ctx context.Context, symbol string) (decimal.Decimal, error)
}

const requestTimeout = 10 * time.Second

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: requestTimeout}
}

// fetchJSON performs a GET with optional headers and decodes the JSON body,
// using json.Number so prices survive without a float round-trip.
func fetchJSON(ctx context.Context, client *http.Client, rawURL string, headers map[string]string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("http status %d: %s", resp.StatusCode, data)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func parsePrice(n json.Number) (decimal.Decimal, error) {
	price, err := decimal.NewFromString(n.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("malformed price %q: %w", n, err)
	}
	if price.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("non-positive price %s", price)
	}
	return price, nil
}
