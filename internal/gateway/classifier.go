package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"syscall"

	"ms-reconciler/internal/logger"
)

// Outcome is the closed taxonomy for a failed synchronous gateway call.
// REQUEST_NOT_SENT and RESPONSE_NOT_RECEIVED are ambiguous about whether the
// operation happened at the gateway and must never be treated as a definite
// failure by callers.
type Outcome string

const (
	OutcomeRequestNotSent              Outcome = "REQUEST_NOT_SENT"
	OutcomeResponseNotReceived         Outcome = "RESPONSE_NOT_RECEIVED"
	OutcomeResponseInvalid             Outcome = "RESPONSE_INVALID"
	OutcomeResponseAboutInvalidRequest Outcome = "RESPONSE_ABOUT_INVALID_REQUEST"
	OutcomeUnknownFailure              Outcome = "UNKNOWN_FAILURE"
)

// Classification pairs the taxonomy label with a human-readable detail string.
type Classification struct {
	Outcome Outcome
	Detail  string
}

// Category is the coarse failure family detected from the error chain before
// the rule table is consulted.
type Category string

const (
	CategoryConnect Category = "connect"
	CategoryTimeout Category = "timeout"
	CategoryReset   Category = "reset"
	CategoryHTTP    Category = "http_status"
	CategoryFault   Category = "protocol_fault"
	CategoryBody    Category = "body"
	CategoryUnknown Category = "unknown"
)

// Rule matches a detected category plus an optional message substring
// (case-insensitive) and, for http_status, an optional exact status code.
// The message substrings track upstream client-library wording and are
// deliberately overridable rather than hard-coded into the match logic.
type Rule struct {
	Category   Category
	Substring  string
	StatusCode int
	Outcome    Outcome
}

// DefaultRules is the ordered rule table. First match wins; anything
// unmatched classifies as UNKNOWN_FAILURE.
func DefaultRules() []Rule {
	return []Rule{
		// Call never left the process.
		{Category: CategoryConnect, Outcome: OutcomeRequestNotSent},
		// Request may have been processed; the answer never arrived.
		{Category: CategoryTimeout, Substring: "read timed out", Outcome: OutcomeResponseNotReceived},
		{Category: CategoryTimeout, Substring: "awaiting headers", Outcome: OutcomeResponseNotReceived},
		{Category: CategoryTimeout, Substring: "i/o timeout", Outcome: OutcomeResponseNotReceived},
		// Stream died midway through the answer.
		{Category: CategoryTimeout, Substring: "unexpected end of stream", Outcome: OutcomeResponseInvalid},
		{Category: CategoryReset, Substring: "unexpected end of stream", Outcome: OutcomeResponseInvalid},
		{Category: CategoryReset, Substring: "unexpected eof", Outcome: OutcomeResponseInvalid},
		// Unauthorized requests never reached gateway processing.
		{Category: CategoryHTTP, StatusCode: 401, Outcome: OutcomeRequestNotSent},
		{Category: CategoryHTTP, Outcome: OutcomeResponseInvalid},
		// The gateway understood us and said the request itself is broken.
		{Category: CategoryFault, Outcome: OutcomeResponseAboutInvalidRequest},
		// Truncated body, bad chunked encoding, empty body on redirect.
		{Category: CategoryBody, Outcome: OutcomeResponseInvalid},
	}
}

// Classifier labels failed gateway calls. It never retries; retry or cancel
// policy is the caller's decision based on the returned label.
type Classifier struct {
	rules []Rule
	log   *logger.Logger
}

func NewClassifier(log *logger.Logger, rules []Rule) *Classifier {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Classifier{rules: rules, log: log}
}

// Classify maps any call failure onto exactly one taxonomy label. It is a
// total function: every input yields a label, with UNKNOWN_FAILURE as the
// only no-rule-matched case. Each decision is logged so substring
// misclassifications can be audited.
func (c *Classifier) Classify(err error) Classification {
	if err == nil {
		return Classification{Outcome: OutcomeUnknownFailure, Detail: "no error supplied"}
	}

	category, statusCode := detect(err)
	message := strings.ToLower(err.Error())

	for _, rule := range c.rules {
		if rule.Category != category {
			continue
		}
		if rule.Substring != "" && !strings.Contains(message, rule.Substring) {
			continue
		}
		if rule.StatusCode != 0 && rule.StatusCode != statusCode {
			continue
		}
		result := Classification{Outcome: rule.Outcome, Detail: err.Error()}
		c.logDecision(category, result)
		return result
	}

	result := Classification{Outcome: OutcomeUnknownFailure, Detail: err.Error()}
	c.logDecision(category, result)
	return result
}

func (c *Classifier) logDecision(category Category, result Classification) {
	if c.log != nil {
		c.log.LogClassify(string(result.Outcome), fmt.Sprintf("category=%s detail=%s", category, result.Detail))
	}
}

// detect walks the error chain and picks the failure family. Typed errors
// from the client take precedence over transport-level inspection.
func detect(err error) (Category, int) {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return CategoryHTTP, httpErr.StatusCode
	}
	var fault *ProtocolFault
	if errors.As(err, &fault) {
		return CategoryFault, 0
	}
	var bodyErr *BodyError
	if errors.As(err, &bodyErr) {
		return CategoryBody, 0
	}

	if errors.Is(err, syscall.ECONNREFUSED) {
		return CategoryConnect, 0
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return CategoryConnect, 0
	}
	if errors.Is(err, syscall.ECONNRESET) {
		return CategoryReset, 0
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return CategoryTimeout, 0
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CategoryTimeout, 0
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return CategoryConnect, 0
	}

	return CategoryUnknown, 0
}
