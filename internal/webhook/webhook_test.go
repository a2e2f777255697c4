package webhook

import (
	"net/http"
	"strings"
	"testing"

	"github.com/gitlab-bridge/gitlab-bridge/internal/gateerr"
)

const testSecret = "correct-horse-battery-staple"

func deliveryHeaders(token, event, instance string) http.Header {
	h := http.Header{}
	if token != "" {
		h.Set(TokenHeader, token)
	}
	if event != "" {
		h.Set(EventHeader, event)
	}
	if instance != "" {
		h.Set(InstanceHeader, instance)
	}
	return h
}

// ---------------------------------------------------------------------------
// ValidateToken
// ---------------------------------------------------------------------------

func TestValidateToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		secret string
		want   bool
	}{
		{"exact match", testSecret, testSecret, true},
		{"mismatch", "wrong", testSecret, false},
		{"correct prefix is still a mismatch", testSecret[:20], testSecret, false},
		{"empty header", "", testSecret, false},
		{"both empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidateToken(tt.header, tt.secret); got != tt.want {
				t.Errorf("ValidateToken(%q, %q) = %v, want %v", tt.header, tt.secret, got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// ComputeSignature / ValidateSignature
// ---------------------------------------------------------------------------

func TestComputeSignature_Deterministic(t *testing.T) {
	body := []byte(`{"object_kind":"push"}`)
	a := ComputeSignature(body, testSecret)
	b := ComputeSignature(body, testSecret)
	if a != b {
		t.Errorf("signatures differ for identical input: %q vs %q", a, b)
	}
	if len(a) != 64 {
		t.Errorf("signature length = %d, want 64 hex chars for SHA-256", len(a))
	}
}

func TestValidateSignature_ExactRecomputation(t *testing.T) {
	body := []byte(`{"object_kind":"tag_push","ref":"refs/tags/v1.0.0"}`)
	sig := ComputeSignature(body, testSecret)

	if !ValidateSignature(body, testSecret, sig) {
		t.Error("ValidateSignature() = false for an exact recomputation")
	}
	if !ValidateSignature(body, testSecret, "sha256="+sig) {
		t.Error("ValidateSignature() = false with sha256= prefix, want tolerated")
	}
}

func TestValidateSignature_SingleBitBodyMutation(t *testing.T) {
	body := []byte(`{"object_kind":"push","before":"abc"}`)
	sig := ComputeSignature(body, testSecret)

	// Flip one bit in every byte position; no mutation may validate.
	for i := range body {
		mutated := make([]byte, len(body))
		copy(mutated, body)
		mutated[i] ^= 0x01
		if ValidateSignature(mutated, testSecret, sig) {
			t.Fatalf("ValidateSignature() = true for body mutated at byte %d", i)
		}
	}
}

func TestValidateSignature_WrongSecret(t *testing.T) {
	body := []byte(`{}`)
	sig := ComputeSignature(body, testSecret)
	if ValidateSignature(body, "other-secret-value", sig) {
		t.Error("ValidateSignature() = true with the wrong secret")
	}
}

// ---------------------------------------------------------------------------
// ExtractMetadata
// ---------------------------------------------------------------------------

func TestExtractMetadata(t *testing.T) {
	h := deliveryHeaders("tok", "Push Hook", "https://gitlab.example.com")
	md := ExtractMetadata(h)

	if md.Token != "tok" {
		t.Errorf("Token = %q, want tok", md.Token)
	}
	if md.Event != "Push Hook" {
		t.Errorf("Event = %q, want Push Hook", md.Event)
	}
	if md.Instance != "https://gitlab.example.com" {
		t.Errorf("Instance = %q", md.Instance)
	}
}

func TestExtractMetadata_NoValidation(t *testing.T) {
	// Extraction is pure: garbage headers extract fine and must be rejected
	// later by ValidateRequest, not here.
	md := ExtractMetadata(deliveryHeaders("bogus", "Not A Hook", ""))
	if md.Event != "Not A Hook" {
		t.Errorf("Event = %q, extraction must not filter unknown events", md.Event)
	}
}

// ---------------------------------------------------------------------------
// ValidateRequest
// ---------------------------------------------------------------------------

func TestValidateRequest_TokenOnly(t *testing.T) {
	cfg := Config{Secret: testSecret, RequireToken: true}
	body := []byte(`{}`)

	tests := []struct {
		name     string
		headers  http.Header
		wantCode gateerr.Code
	}{
		{"accepted", deliveryHeaders(testSecret, "Push Hook", "gl"), ""},
		{"missing token", deliveryHeaders("", "Push Hook", "gl"), gateerr.CodeMissingWebhookToken},
		{"wrong token", deliveryHeaders("nope", "Push Hook", "gl"), gateerr.CodeInvalidWebhookToken},
		{"unknown event", deliveryHeaders(testSecret, "Wiki Page Hook", "gl"), gateerr.CodeUnknownWebhookEvent},
		{"missing event", deliveryHeaders(testSecret, "", "gl"), gateerr.CodeUnknownWebhookEvent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRequest(tt.headers, body, cfg)
			if tt.wantCode == "" {
				if err != nil {
					t.Fatalf("ValidateRequest() = %v, want accepted", err)
				}
				return
			}
			ge, ok := gateerr.As(err)
			if !ok || ge.Code != tt.wantCode {
				t.Errorf("ValidateRequest() = %v, want code %s", err, tt.wantCode)
			}
		})
	}
}

func TestValidateRequest_SignatureOnly(t *testing.T) {
	cfg := Config{Secret: testSecret, RequireSignature: true}
	body := []byte(`{"object_kind":"pipeline"}`)

	h := deliveryHeaders("", "Pipeline Hook", "gl")
	h.Set(SignatureHeader, ComputeSignature(body, testSecret))
	if err := ValidateRequest(h, body, cfg); err != nil {
		t.Errorf("ValidateRequest() = %v, want accepted with valid signature and no token", err)
	}

	h.Set(SignatureHeader, ComputeSignature([]byte("tampered"), testSecret))
	err := ValidateRequest(h, body, cfg)
	ge, ok := gateerr.As(err)
	if !ok || ge.Code != gateerr.CodeInvalidWebhookSignature {
		t.Errorf("ValidateRequest() = %v, want INVALID_WEBHOOK_SIGNATURE", err)
	}

	// Absent signature header fails the same way; there is no silent skip.
	h.Del(SignatureHeader)
	err = ValidateRequest(h, body, cfg)
	if ge, ok := gateerr.As(err); !ok || ge.Code != gateerr.CodeInvalidWebhookSignature {
		t.Errorf("ValidateRequest() = %v, want INVALID_WEBHOOK_SIGNATURE for missing header", err)
	}
}

func TestValidateRequest_BothChecks(t *testing.T) {
	cfg := Config{Secret: testSecret, RequireToken: true, RequireSignature: true}
	body := []byte(`{"object_kind":"merge_request"}`)

	h := deliveryHeaders(testSecret, "Merge Request Hook", "gl")
	h.Set(SignatureHeader, ComputeSignature(body, testSecret))
	if err := ValidateRequest(h, body, cfg); err != nil {
		t.Fatalf("ValidateRequest() = %v, want accepted when both checks pass", err)
	}

	// Token passes but signature fails: both must hold.
	h.Set(SignatureHeader, "sha256="+strings.Repeat("0", 64))
	if err := ValidateRequest(h, body, cfg); err == nil {
		t.Error("ValidateRequest() = nil, want rejection when signature fails despite valid token")
	}
}

// ---------------------------------------------------------------------------
// ValidateSecretStrength
// ---------------------------------------------------------------------------

func TestValidateSecretStrength(t *testing.T) {
	tests := []struct {
		name   string
		secret string
		want   SecretStrength
	}{
		{"empty", "", SecretWeak},
		{"short", "hunter2", SecretWeak},
		{"fifteen chars", strings.Repeat("ab", 7) + "c", SecretWeak},
		{"long but single char", strings.Repeat("a", 32), SecretWeak},
		{"long but two chars", strings.Repeat("ab", 16), SecretWeak},
		{"strong", testSecret, SecretStrong},
		{"random-looking", "q8Zr2vXm1pLk9sWd", SecretStrong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ValidateSecretStrength(tt.secret); got != tt.want {
				t.Errorf("ValidateSecretStrength(%q) = %v, want %v", tt.secret, got, tt.want)
			}
		})
	}
}
