package assetgen

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Detail record types carried in google.rpc error payloads.
const (
	retryInfoType    = "type.googleapis.com/google.rpc.RetryInfo"
	quotaFailureType = "type.googleapis.com/google.rpc.QuotaFailure"
)

// Verdict is the classifier's decision for a single failed attempt.
type Verdict struct {
	// Retry reports whether the attempt is worth repeating.
	Retry bool

	// Delay to wait before the next attempt. Zero means the caller's default.
	Delay time.Duration

	// Reason is a human-readable cause, logged with every attempt.
	Reason string
}

// Classifier turns backend failures into retry verdicts. Classification is a
// pure function of the failure; the only side effect is logging quota
// violations for operator visibility.
type Classifier struct {
	// DefaultDelay is used for retryable failures that carry no explicit
	// delay figure.
	DefaultDelay time.Duration

	logger *slog.Logger
}

// NewClassifier creates a classifier with the given default delay.
func NewClassifier(defaultDelay time.Duration, logger *slog.Logger) *Classifier {
	if defaultDelay <= 0 {
		defaultDelay = DefaultRetryDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{DefaultDelay: defaultDelay, logger: logger}
}

// Classify inspects a failed attempt and decides whether to retry. It never
// fails itself: a diagnostic it cannot make sense of yields a verdict, not
// an error.
func (c *Classifier) Classify(e *BackendError) Verdict {
	if e == nil {
		return Verdict{Reason: "no diagnostic"}
	}

	// Connection-level failures carry no body worth parsing.
	if e.Transport {
		return Verdict{Retry: true, Delay: c.DefaultDelay, Reason: "transport failure"}
	}

	diag := parseDiagnostic(e.Diagnostic)

	if diag.structured {
		if violations := diag.quotaViolations(); len(violations) > 0 {
			// Diagnostic-only: which quota dimension was exceeded does not
			// change the retry mechanics.
			c.logger.Warn("quota violation reported by provider",
				"backend", e.Backend.String(),
				"violations", strings.Join(violations, "; "),
			)
		}

		if delay, ok := diag.retryDelay(); ok {
			return Verdict{
				Retry:  true,
				Delay:  delay,
				Reason: fmt.Sprintf("provider requested %s backoff", delay),
			}
		}
	} else if diag.looksStructured {
		// A payload that looks like JSON but does not parse may be hiding a
		// retry hint we could not read. Retry with the default delay rather
		// than giving up on a malformed body.
		return Verdict{Retry: true, Delay: c.DefaultDelay, Reason: "unparsable structured diagnostic"}
	}

	if e.StatusCode == 429 || diag.rateLimited() {
		return Verdict{Retry: true, Delay: c.DefaultDelay, Reason: "rate limited"}
	}

	return Verdict{Reason: diag.summary()}
}

// diagnostic is the parsed form of a provider error payload: either a
// structured tree or opaque text.
type diagnostic struct {
	structured      bool
	looksStructured bool
	roots           []gjson.Result
	text            string
}

// parseDiagnostic parses the raw payload. Providers sometimes wrap the
// detailed error as a JSON-encoded string inside the outer object, one level
// deep; such inner documents are unwrapped and searched as well.
func parseDiagnostic(raw string) diagnostic {
	trimmed := strings.TrimSpace(raw)
	looks := strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[")
	if !looks || !gjson.Valid(trimmed) {
		return diagnostic{looksStructured: looks, text: raw}
	}

	root := gjson.Parse(trimmed)
	roots := []gjson.Result{root}
	for _, path := range []string{"error.message", "message"} {
		inner := root.Get(path)
		if inner.Type == gjson.String && gjson.Valid(inner.String()) {
			roots = append(roots, gjson.Parse(inner.String()))
		}
	}
	return diagnostic{structured: true, looksStructured: true, roots: roots, text: raw}
}

// retryDelay finds an explicit RetryInfo delay anywhere in the payload.
func (d diagnostic) retryDelay() (time.Duration, bool) {
	var delay time.Duration
	var found bool
	d.eachDetail(retryInfoType, func(detail gjson.Result) {
		if found {
			return
		}
		if parsed, ok := parseRetryDelay(detail.Get("retryDelay")); ok {
			delay, found = parsed, true
		}
	})
	return delay, found
}

// quotaViolations enumerates the exceeded quota dimensions, when reported.
func (d diagnostic) quotaViolations() []string {
	var violations []string
	d.eachDetail(quotaFailureType, func(detail gjson.Result) {
		detail.Get("violations").ForEach(func(_, v gjson.Result) bool {
			desc := v.Get("description").String()
			subject := v.Get("quotaId").String()
			if subject == "" {
				subject = v.Get("subject").String()
			}
			switch {
			case subject != "" && desc != "":
				violations = append(violations, subject+": "+desc)
			case subject != "":
				violations = append(violations, subject)
			case desc != "":
				violations = append(violations, desc)
			}
			return true
		})
	})
	return violations
}

// eachDetail visits every google.rpc detail record of the given type across
// all parsed roots.
func (d diagnostic) eachDetail(detailType string, fn func(gjson.Result)) {
	for _, root := range d.roots {
		for _, path := range []string{"error.details", "details"} {
			root.Get(path).ForEach(func(_, detail gjson.Result) bool {
				if detail.Get("@type").String() == detailType {
					fn(detail)
				}
				return true
			})
		}
	}
}

// rateLimited reports whether the payload matches a rate-limit signature
// without an explicit delay figure.
func (d diagnostic) rateLimited() bool {
	for _, root := range d.roots {
		if root.Get("error.code").Int() == 429 || root.Get("code").Int() == 429 {
			return true
		}
		status := root.Get("error.status").String()
		if status == "" {
			status = root.Get("status").String()
		}
		if status == "RESOURCE_EXHAUSTED" {
			return true
		}
	}
	lower := strings.ToLower(d.text)
	return strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "too many requests") ||
		strings.Contains(lower, "resource_exhausted")
}

// summary is the literal reason reported for a fatal verdict.
func (d diagnostic) summary() string {
	if d.structured {
		for _, path := range []string{"error.message", "message"} {
			if msg := d.roots[0].Get(path); msg.Type == gjson.String && msg.String() != "" {
				return msg.String()
			}
		}
	}
	text := strings.TrimSpace(d.text)
	if text == "" {
		return "failure carried no diagnostic"
	}
	const maxReason = 300
	if len(text) > maxReason {
		return text[:maxReason]
	}
	return text
}

// parseRetryDelay reads a RetryInfo delay in either of its wire forms: the
// proto JSON string ("30s", "1.5s") or an object with seconds/nanos fields.
func parseRetryDelay(v gjson.Result) (time.Duration, bool) {
	switch v.Type {
	case gjson.String:
		dur, err := time.ParseDuration(v.String())
		if err != nil || dur < 0 {
			return 0, false
		}
		return dur, true
	case gjson.JSON:
		if !v.IsObject() {
			return 0, false
		}
		seconds := v.Get("seconds")
		nanos := v.Get("nanos")
		if !seconds.Exists() && !nanos.Exists() {
			return 0, false
		}
		dur := time.Duration(seconds.Int())*time.Second + time.Duration(nanos.Int())
		if dur < 0 {
			return 0, false
		}
		return dur, true
	default:
		return 0, false
	}
}
