// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package failure defines the closed failure taxonomy for pipeline jobs.
// Every terminal job failure is recorded as "{kind}: {message}" so that
// operators and the rerun tooling can branch on the kind without string
// guessing. Parse accepts the bare legacy form (no kind prefix) and maps
// it to KindUnknown.
package failure

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind is a closed category of job failure.
type Kind string

const (
	KindTimeout         Kind = "timeout"          // navigation or stage deadline exceeded
	KindNavigationError Kind = "navigation_error" // network/DNS/protocol errors during navigation
	KindBotDetected     Kind = "bot_detected"     // blocked by anti-bot measures (403, net::ERR_BLOCKED)
	KindBlankPage       Kind = "blank_page"       // capture produced no meaningful pixels/bytes
	KindPaywall         Kind = "paywall"          // content behind a subscription wall
	KindTruncated       Kind = "truncated"        // PDF text density indicates cut-off content
	KindErrorPage       Kind = "error_page"       // 404/gone page rendered instead of content
	KindLoginRequired   Kind = "login_required"   // visual check: sign-in gate instead of content
	KindLowContrast     Kind = "low_contrast"     // visual check: unreadable rendering
	KindMissingContent  Kind = "missing_content"  // visual check: layout without article body
	KindQualityFailed   Kind = "quality_failed"   // visual score below threshold
	KindDownloadFailed  Kind = "download_failed"  // direct download failed (HTTP error, short read)
	KindNotPDF          Kind = "not_pdf"          // direct download did not yield a PDF
	KindFileMissing     Kind = "file_missing"     // referenced source file/episode no longer exists
	KindUnknown         Kind = "unknown"
)

var kinds = map[Kind]bool{
	KindTimeout:         true,
	KindNavigationError: true,
	KindBotDetected:     true,
	KindBlankPage:       true,
	KindPaywall:         true,
	KindTruncated:       true,
	KindErrorPage:       true,
	KindLoginRequired:   true,
	KindLowContrast:     true,
	KindMissingContent:  true,
	KindQualityFailed:   true,
	KindDownloadFailed:  true,
	KindNotPDF:          true,
	KindFileMissing:     true,
	KindUnknown:         true,
}

// Valid reports whether k is part of the closed taxonomy.
func (k Kind) Valid() bool { return kinds[k] }

// Classification pairs a failure kind with a human-readable message.
// It implements error so handlers can return it directly.
type Classification struct {
	Kind    Kind
	Message string
}

// New builds a classification with a formatted message.
func New(kind Kind, format string, args ...any) Classification {
	return Classification{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Error implements the error interface using the wire form.
func (c Classification) Error() string { return c.Format() }

// Format renders the canonical "{kind}: {message}" form stored as failedReason.
func (c Classification) Format() string {
	kind := c.Kind
	if !kind.Valid() || kind == "" {
		kind = KindUnknown
	}
	return string(kind) + ": " + c.Message
}

// Parse splits a failedReason string back into a classification.
// Strings without a recognized "{kind}: " prefix are treated as legacy
// free-form messages and mapped to KindUnknown.
func Parse(s string) Classification {
	if idx := strings.Index(s, ": "); idx > 0 {
		k := Kind(s[:idx])
		if k.Valid() {
			return Classification{Kind: k, Message: s[idx+2:]}
		}
	}
	return Classification{Kind: KindUnknown, Message: s}
}

// Classify maps an arbitrary handler error onto the taxonomy.
// Classifications pass through untouched; context deadline errors become
// timeouts; everything else is unknown.
func Classify(err error) Classification {
	if err == nil {
		return Classification{Kind: KindUnknown, Message: ""}
	}
	var c Classification
	if errors.As(err, &c) {
		return c
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Classification{Kind: KindTimeout, Message: err.Error()}
	}
	return Classification{Kind: KindUnknown, Message: err.Error()}
}

// IsBotDetected reports whether a stored failedReason names bot detection.
func IsBotDetected(failedReason string) bool {
	return Parse(failedReason).Kind == KindBotDetected
}
