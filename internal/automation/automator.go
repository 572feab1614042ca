// Package automation drives a live browser page. It exposes the smallest
// capability surface the portal driver needs; everything page-specific
// (selectors, flows, result parsing) lives above it.
package automation

import "context"

type Automator interface {
	Navigate(ctx context.Context, url string) error
	Fill(ctx context.Context, selector, value string) error
	Click(ctx context.Context, selector string) error
	Exists(ctx context.Context, selector string) (bool, error)
	Text(ctx context.Context, selector string) (string, error)
	ReadTable(ctx context.Context, selector string) ([][]string, error)
	Close() error
}
