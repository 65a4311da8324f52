// Package provider defines the snapshot provider contract and its error taxonomy.
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/rewired-gh/oddsradar/internal/models"
)

// Provider produces a market snapshot on demand. Implementations may scrape a
// page, call an HTTP API, or serve canned data; the core does not care.
type Provider interface {
	Fetch(ctx context.Context) (models.MarketSnapshot, error)
}

// FetchErrorKind classifies recoverable fetch failures.
type FetchErrorKind string

const (
	ErrTimeout FetchErrorKind = "timeout"
	ErrNetwork FetchErrorKind = "network"
	ErrParse   FetchErrorKind = "parse"
)

// FetchError wraps a failed fetch attempt with its classification. All kinds
// are recoverable: they are retried within a cycle and then skipped for the
// cycle.
type FetchError struct {
	Kind FetchErrorKind
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s error: %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewFetchError wraps err with the given classification.
func NewFetchError(kind FetchErrorKind, err error) *FetchError {
	return &FetchError{Kind: kind, Err: err}
}

// KindOf extracts the classification from err, or "" when err is not a
// FetchError.
func KindOf(err error) FetchErrorKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}
