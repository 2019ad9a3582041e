package apierror

import (
	"errors"
	"fmt"
	"strings"
)

// AuthType is how the user authenticated with the backend.
type AuthType int

const (
	// AuthLogin is an interactive account login.
	AuthLogin AuthType = iota
	// AuthAPIKey is a user-supplied API key.
	AuthAPIKey
	// AuthEnterprise is a cloud project or VPC deployment.
	AuthEnterprise
)

// String returns the auth type name.
func (a AuthType) String() string {
	switch a {
	case AuthLogin:
		return "login"
	case AuthAPIKey:
		return "api-key"
	case AuthEnterprise:
		return "enterprise"
	default:
		return "unknown"
	}
}

// ParseAuthType parses an auth type name (case-insensitive).
func ParseAuthType(s string) (AuthType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "login", "oauth", "oauth-personal":
		return AuthLogin, nil
	case "", "api-key", "apikey", "api_key":
		return AuthAPIKey, nil
	case "enterprise", "vertex", "vertex-ai", "vpc":
		return AuthEnterprise, nil
	default:
		return 0, fmt.Errorf("unknown auth type: %q", s)
	}
}

// Tier is the user's plan for login-based auth.
type Tier int

const (
	TierFree Tier = iota
	TierPaid
)

// String returns the tier name.
func (t Tier) String() string {
	if t == TierPaid {
		return "paid"
	}
	return "free"
}

// ParseTier parses a tier name. Unknown or legacy tiers count as free.
func ParseTier(s string) Tier {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "paid", "standard", "enterprise":
		return TierPaid
	default:
		return TierFree
	}
}

// Guidance links shown in quota messages.
const (
	QuotaGuideURL      = "https://ai.google.dev/gemini-api/docs/rate-limits"
	APIKeyURL          = "https://aistudio.google.com/apikey"
	UpgradeURL         = "https://goo.gle/set-up-gemini-code-assist"
	EnterpriseQuotaURL = "https://cloud.google.com/vertex-ai/generative-ai/docs/quotas"
)

// Audience selects the copy variant for rate limit messages.
type Audience struct {
	Auth AuthType
	Tier Tier
}

// RateLimitMessage returns tier-aware copy for a 429. switchedTo is the
// model the session moves to; when empty the copy announces no switch.
// Quota variants link to quota guidance.
func RateLimitMessage(c Classification, aud Audience, currentModel, switchedTo string) string {
	session := switchNote(switchedTo, " for the rest of this session")

	switch aud.Auth {
	case AuthEnterprise:
		if c.IsQuotaExceeded() {
			return fmt.Sprintf("Your project quota for %s has been exhausted. %s"+
				"Request a quota increase at %s", currentModel, session, EnterpriseQuotaURL)
		}
		return fmt.Sprintf("Rate limit reached for %s on your project. %s"+
			"Check your regional quotas.", currentModel, switchNote(switchedTo, " for faster responses"))

	case AuthAPIKey:
		if c.IsQuotaExceeded() {
			return fmt.Sprintf("Quota exceeded for %s on this API key. %s"+
				"See %s to review or raise your limits.", currentModel, session, QuotaGuideURL)
		}
		return fmt.Sprintf("Rate limit reached for %s on this API key. %s"+
			"Retry shortly or reduce request frequency.", currentModel, switchNote(switchedTo, ""))
	}

	if aud.Tier == TierPaid {
		switch c.Quota {
		case QuotaPro:
			return fmt.Sprintf("You have reached your daily %s quota limit. %s"+
				"Thank you for using a paid plan. "+
				"To keep using %s today, switch to an API key from %s, or see %s for quota increases.",
				currentModel, session, currentModel, APIKeyURL, QuotaGuideURL)
		case QuotaGeneric:
			return fmt.Sprintf("You have reached your daily quota limit for %s. %s"+
				"See %s for quota increases.", currentModel, session, QuotaGuideURL)
		}
		if switchedTo == "" {
			return fmt.Sprintf("Rate limit reached for %s. Retry shortly.", currentModel)
		}
		return fmt.Sprintf("Rate limit reached for %s. Switching to %s for faster responses.",
			currentModel, switchedTo)
	}

	switch c.Quota {
	case QuotaPro:
		return fmt.Sprintf("You have reached your daily %s quota limit. %s"+
			"To increase your limits, upgrade at %s or use an API key from %s. Quota details: %s",
			currentModel, session, UpgradeURL, APIKeyURL, QuotaGuideURL)
	case QuotaGeneric:
		return fmt.Sprintf("You have reached your daily quota limit for %s. %s"+
			"To increase your limits, upgrade at %s or use an API key from %s. Quota details: %s",
			currentModel, session, UpgradeURL, APIKeyURL, QuotaGuideURL)
	}
	if switchedTo == "" {
		return fmt.Sprintf("Possible quota limitations or slow response times detected for %s. "+
			"Retry shortly.", currentModel)
	}
	return fmt.Sprintf("Possible quota limitations or slow response times detected for %s. "+
		"Switching to %s for the rest of this session.", currentModel, switchedTo)
}

// switchNote is the sentence announcing a model switch, or nothing.
func switchNote(to, suffix string) string {
	if to == "" {
		return ""
	}
	return fmt.Sprintf("Switching to %s%s. ", to, suffix)
}

// Describe renders err as a user-facing message. switchedTo is passed to
// RateLimitMessage and is empty when no model switch took place.
func Describe(err error, aud Audience, currentModel, switchedTo string) string {
	if err == nil {
		return ""
	}

	var te *TimeoutError
	if errors.As(err, &te) {
		return te.Error()
	}

	c := Classify(err)
	if c.IsRateLimit() {
		return RateLimitMessage(c, aud, currentModel, switchedTo)
	}
	if c.Status > 0 {
		return fmt.Sprintf("[API Error: %s (Status: %d)]", c.Message, c.Status)
	}
	return fmt.Sprintf("[API Error: %s]", c.Message)
}
