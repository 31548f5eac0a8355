package domain

import "context"

// Fetcher downloads the body behind a fetch URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}
