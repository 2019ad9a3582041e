package apierror

import (
	"encoding/json"
	"errors"
	"regexp"

	jsonutil "github.com/richinex/threadline/internal/json"
)

// Kind is the shape a raw error was recognized as.
type Kind int

const (
	// KindOpaque is an error with no recoverable structure.
	KindOpaque Kind = iota
	// KindStructured is an error that already carried a status and message.
	KindStructured
	// KindEmbeddedJSON is a string error wrapping a JSON error object.
	KindEmbeddedJSON
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindStructured:
		return "structured"
	case KindEmbeddedJSON:
		return "embedded_json"
	default:
		return "opaque"
	}
}

// QuotaKind distinguishes quota exhaustion from plain rate limiting.
type QuotaKind int

const (
	QuotaNone QuotaKind = iota
	QuotaPro
	QuotaGeneric
)

// String returns the quota kind name.
func (q QuotaKind) String() string {
	switch q {
	case QuotaPro:
		return "pro"
	case QuotaGeneric:
		return "generic"
	default:
		return "none"
	}
}

// Classification is the result of Classify.
type Classification struct {
	Kind    Kind
	Status  int
	Message string
	Quota   QuotaKind
}

// IsRateLimit reports a 429 of any kind.
func (c Classification) IsRateLimit() bool {
	return c.Status == 429
}

// IsQuotaExceeded reports a 429 caused by quota exhaustion.
func (c Classification) IsQuotaExceeded() bool {
	return c.Status == 429 && c.Quota != QuotaNone
}

var (
	proQuotaPattern     = regexp.MustCompile(`(?i)quota exceeded for quota metric '[^']*pro[^']*'`)
	genericQuotaPattern = regexp.MustCompile(`(?i)(quota exceeded for quota metric|exceeded your current quota|insufficient_quota|resource_exhausted.*quota|quota.*exhausted)`)
)

func quotaKindOf(message, code string) QuotaKind {
	if proQuotaPattern.MatchString(message) {
		return QuotaPro
	}
	if genericQuotaPattern.MatchString(message) || genericQuotaPattern.MatchString(code) {
		return QuotaGeneric
	}
	return QuotaNone
}

// Classify inspects a raw backend error.
func Classify(err error) Classification {
	if err == nil {
		return Classification{}
	}

	var c Classification
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.Status > 0 {
		c = Classification{Kind: KindStructured, Status: apiErr.Status, Message: apiErr.Message}
		code := apiErr.Code
		if inner, ok := parseEmbedded(apiErr.Message); ok {
			c.Message = inner.message
			if inner.status > 0 {
				c.Status = inner.status
			}
			if code == "" {
				code = inner.code
			}
		}
		c.Quota = quotaKindFor(c, code)
		return c
	}

	if inner, ok := parseEmbedded(err.Error()); ok {
		c = Classification{Kind: KindEmbeddedJSON, Status: inner.status, Message: inner.message}
		c.Quota = quotaKindFor(c, inner.code)
		return c
	}

	return Classification{Kind: KindOpaque, Message: err.Error()}
}

func quotaKindFor(c Classification, code string) QuotaKind {
	if c.Status != 429 {
		return QuotaNone
	}
	return quotaKindOf(c.Message, code)
}

// jsonError accepts both {"error": {...}} and flat {"code":..,"message":..}.
type jsonError struct {
	Error *jsonErrorBody `json:"error"`
	jsonErrorBody
}

type jsonErrorBody struct {
	Code    json.RawMessage `json:"code"`
	Message string          `json:"message"`
	Status  string          `json:"status"`
}

type embedded struct {
	status  int
	code    string
	message string
}

// parseEmbedded extracts a JSON error object from text. When the
// object's message is itself a JSON error object, it is unwrapped once.
func parseEmbedded(text string) (embedded, bool) {
	outer, ok := decodeErrorObject(text)
	if !ok {
		return embedded{}, false
	}
	if inner, ok := decodeErrorObject(outer.message); ok {
		if inner.status == 0 {
			inner.status = outer.status
		}
		return inner, true
	}
	return outer, true
}

func decodeErrorObject(text string) (embedded, bool) {
	obj, ok := jsonutil.Object(text)
	if !ok {
		return embedded{}, false
	}

	var parsed jsonError
	if err := json.Unmarshal([]byte(obj), &parsed); err != nil {
		return embedded{}, false
	}

	body := parsed.jsonErrorBody
	if parsed.Error != nil {
		body = *parsed.Error
	}
	if body.Message == "" && len(body.Code) == 0 {
		return embedded{}, false
	}

	out := embedded{message: body.Message}
	var numeric int
	var codeText string
	switch {
	case json.Unmarshal(body.Code, &numeric) == nil:
		out.status = numeric
	case json.Unmarshal(body.Code, &codeText) == nil:
		out.code = codeText
	}
	if out.status == 0 && body.Status == "RESOURCE_EXHAUSTED" {
		out.status = 429
	}
	return out, true
}
