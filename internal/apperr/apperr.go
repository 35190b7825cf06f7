package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies pipeline errors.
type Kind int

const (
	KindUnknown Kind = iota
	// KindCredential aborts the whole run.
	KindCredential
	// KindSearchFailure skips a single product for the run.
	KindSearchFailure
	// KindScrape fails a single scraped URL.
	KindScrape
	// KindValidation rejects a single config entry.
	KindValidation
)

func (k Kind) String() string {
	switch k {
	case KindCredential:
		return "credential"
	case KindSearchFailure:
		return "search_failure"
	case KindScrape:
		return "scrape"
	case KindValidation:
		return "validation"
	default:
		return "unknown"
	}
}

// Scrape stages.
const (
	StageFetch        = "fetch"
	StageParse        = "parse"
	StageExtractTitle = "extract:title"
	StageExtractPrice = "extract:price"
	StageExtractStock = "extract:stock"
)

var (
	ErrMissingCredentials = errors.New("search API credentials not configured")
	ErrUnauthorized       = errors.New("search API rejected credentials")
	ErrRateLimited        = errors.New("rate limited by search API")
	ErrServerError        = errors.New("search API server error")
	ErrSelectorNotFound   = errors.New("no selector matched")
	ErrUnparsableValue    = errors.New("value could not be parsed")
)

// Error is the tagged error carried across component boundaries.
type Error struct {
	Kind Kind
	// Op names the operation that failed, e.g. "search" or "load_products".
	Op string
	// Stage is set for scrape errors.
	Stage string
	// Subject is the keyword, URL or config entry the error is about.
	Subject  string
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Op != "" {
		b.WriteString(" ")
		b.WriteString(e.Op)
	}
	if e.Stage != "" {
		fmt.Fprintf(&b, " [%s]", e.Stage)
	}
	if e.Subject != "" {
		fmt.Fprintf(&b, " %q", e.Subject)
	}
	if e.Attempts > 0 {
		fmt.Fprintf(&b, " after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Credential(op string, err error) *Error {
	return &Error{Kind: KindCredential, Op: op, Err: err}
}

func SearchFailure(keyword string, attempts int, err error) *Error {
	return &Error{Kind: KindSearchFailure, Op: "search", Subject: keyword, Attempts: attempts, Err: err}
}

func Scrape(url, stage string, err error) *Error {
	return &Error{Kind: KindScrape, Op: "scrape", Stage: stage, Subject: url, Err: err}
}

func Validation(subject string, err error) *Error {
	return &Error{Kind: KindValidation, Op: "validate", Subject: subject, Err: err}
}

// IsKind reports whether any error in err's chain is an *Error of kind k.
func IsKind(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}
	return false
}

// StageOf returns the scrape stage recorded in err, or "".
func StageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Stage
	}
	return ""
}
