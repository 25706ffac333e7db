package service

import (
	"github.com/stemsi/exstem-analytics/internal/model"
	"github.com/stemsi/exstem-analytics/internal/scoring"
)

// Freshness tells how a returned snapshot was obtained.
type Freshness string

const (
	// FreshnessFresh is a stored snapshot whose inputs are unchanged.
	FreshnessFresh Freshness = "fresh"
	// FreshnessComputed was computed for this request.
	FreshnessComputed Freshness = "computed"
	// FreshnessStale is the last good snapshot served because a recompute failed.
	FreshnessStale Freshness = "stale"
)

// ErrorKind classifies an analytics failure for callers.
type ErrorKind string

const (
	KindValidation  ErrorKind = "validation_error"
	KindNotFound    ErrorKind = "not_found"
	KindUnavailable ErrorKind = "analytics_unavailable"
)

// AnalyticsError is the structured failure of an analytics request.
type AnalyticsError struct {
	Kind       ErrorKind                `json:"kind"`
	Message    string                   `json:"message"`
	Validation *scoring.ValidationError `json:"validation,omitempty"`
}

// AnalyticsResult is the outcome of GetStudentAnalytics. Exactly one of
// Snapshot and Error is set.
type AnalyticsResult struct {
	Success   bool            `json:"success"`
	Freshness Freshness       `json:"freshness,omitempty"`
	Snapshot  *model.Snapshot `json:"snapshot,omitempty"`
	Error     *AnalyticsError `json:"error,omitempty"`
}

func failure(kind ErrorKind, err error) AnalyticsResult {
	ae := &AnalyticsError{Kind: kind}
	if err != nil {
		ae.Message = err.Error()
	}
	if ve, ok := scoring.AsValidation(err); ok {
		ae.Validation = ve
	}
	return AnalyticsResult{Error: ae}
}
