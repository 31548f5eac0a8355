// internal/domain/asset.go
package domain

import (
	"fmt"
	"net/url"
)

// DefaultFetchURLBase is the getprices endpoint used when no base is configured.
const DefaultFetchURLBase = "https://www.google.com/finance/getprices"

// Asset is one instrument to fetch. The same JSON shape travels on both queues:
// with an empty RawResponse as a FetchTask on the url queue, and with the
// downloaded body as a FetchResult on the response queue.
type Asset struct {
	Symbol       string `json:"symbol" validate:"required"`
	Name         string `json:"name"`
	ExchangeCode string `json:"exchangeCode" validate:"required"`
	FetchURL     string `json:"fetchURL"`
	RawResponse  string `json:"rawResponse"`
	RunID        string `json:"runId,omitempty"`
}

// TaskID identifies the fetch task of an asset within a run.
func (a Asset) TaskID() string {
	return a.ExchangeCode + ":" + a.Symbol
}

// WithResponse returns a copy of the asset carrying the downloaded body.
func (a Asset) WithResponse(body string) Asset {
	a.RawResponse = body
	return a
}

// BuildFetchURL derives the one-minute, two-day getprices URL for an asset.
func BuildFetchURL(base string, a Asset) string {
	if base == "" {
		base = DefaultFetchURLBase
	}
	return fmt.Sprintf("%s?e=%s&q=%s&i=60s&p=2d&f=d,o,h,l,c,v",
		base, url.QueryEscape(a.ExchangeCode), url.QueryEscape(a.Symbol))
}
