// Package webhook verifies inbound GitLab webhook deliveries before they are
// trusted. Two independent checks are supported — the shared-secret delivery
// token (X-Gitlab-Token) and an HMAC-SHA256 signature over the raw body — and
// a deployment selects either or both; at least one must be enabled. All
// secret comparisons are constant-time: timing-attack resistance is a
// correctness requirement here, not an optimization.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/gitlab-bridge/gitlab-bridge/internal/gateerr"
)

// Webhook delivery headers.
const (
	TokenHeader     = "X-Gitlab-Token"
	EventHeader     = "X-Gitlab-Event"
	InstanceHeader  = "X-Gitlab-Instance"
	SignatureHeader = "X-Gitlab-Signature"
)

// knownEvents is the closed set of accepted event types. Unrecognized events
// are rejected, never silently passed through.
var knownEvents = map[string]bool{
	"Push Hook":          true,
	"Tag Push Hook":      true,
	"Issue Hook":         true,
	"Note Hook":          true,
	"Merge Request Hook": true,
	"Pipeline Hook":      true,
	"Job Hook":           true,
	"Release Hook":       true,
}

// KnownEvent reports whether event is in the accepted set.
func KnownEvent(event string) bool {
	return knownEvents[event]
}

// Config selects which checks a deployment enforces. Construction-time
// validation (internal/config) guarantees at least one is enabled.
type Config struct {
	Secret           string
	RequireToken     bool
	RequireSignature bool
}

// Metadata is the routing/audit view of a delivery's headers. Extraction does
// no validation: callers must run ValidateRequest before trusting any of it.
type Metadata struct {
	Event    string
	Instance string
	Token    string
}

// ExtractMetadata pulls the delivery headers out without validating them.
func ExtractMetadata(h http.Header) Metadata {
	return Metadata{
		Event:    h.Get(EventHeader),
		Instance: h.Get(InstanceHeader),
		Token:    h.Get(TokenHeader),
	}
}

// ValidateToken compares the delivery token against the shared secret in
// constant time.
func ValidateToken(headerValue, expectedSecret string) bool {
	return subtle.ConstantTimeCompare([]byte(headerValue), []byte(expectedSecret)) == 1
}

// ComputeSignature returns the hex HMAC-SHA256 of body keyed by secret.
func ComputeSignature(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// ValidateSignature recomputes the body signature and compares it against the
// provided value in constant time. A "sha256=" prefix on the provided value
// is tolerated.
func ValidateSignature(body []byte, secret, provided string) bool {
	provided = strings.TrimPrefix(provided, "sha256=")
	expected := ComputeSignature(body, secret)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(provided)) == 1
}

// ValidateRequest composes the configured checks over a delivery: token
// and/or signature per Config, then the event type against the closed set.
// Returns nil when the delivery is accepted.
func ValidateRequest(h http.Header, body []byte, cfg Config) error {
	md := ExtractMetadata(h)

	if cfg.RequireToken {
		if md.Token == "" {
			return gateerr.MissingWebhookToken()
		}
		if !ValidateToken(md.Token, cfg.Secret) {
			return gateerr.InvalidWebhookToken()
		}
	}

	if cfg.RequireSignature {
		if !ValidateSignature(body, cfg.Secret, h.Get(SignatureHeader)) {
			return gateerr.InvalidWebhookSignature()
		}
	}

	if !KnownEvent(md.Event) {
		return gateerr.UnknownWebhookEvent(md.Event)
	}

	return nil
}

// RequireValid is the enforcement wrapper used by the middleware: identical
// checks to ValidateRequest, kept as a named entry point so enforcement
// call sites read as a requirement rather than a query.
func RequireValid(h http.Header, body []byte, cfg Config) error {
	return ValidateRequest(h, body, cfg)
}

// SecretStrength classifies a configured webhook secret.
type SecretStrength int

const (
	SecretWeak SecretStrength = iota
	SecretStrong
)

// minSecretLength is the floor below which a shared secret is trivially
// brute-forceable.
const minSecretLength = 16

// ValidateSecretStrength applies the configuration-time policy check: a
// strong secret is at least 16 characters and not a single repeated
// character. It is independent of any request.
func ValidateSecretStrength(secret string) SecretStrength {
	if len(secret) < minSecretLength {
		return SecretWeak
	}
	distinct := make(map[rune]struct{})
	for _, r := range secret {
		distinct[r] = struct{}{}
	}
	if len(distinct) < 4 {
		return SecretWeak
	}
	return SecretStrong
}
