// Package validation holds the JSON schemas every inbound document is checked against.
package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// EmailPattern is the local@domain.tld check applied to every email field.
const EmailPattern = `^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`

const (
	KindStandard = "standard"
	KindLegacy   = "legacy"
)

const nonBlank = `\S`

var emailRegexp = regexp.MustCompile(EmailPattern)

var (
	standardKeys = []string{"links", "industry", "roles", "genres"}
	legacyKeys   = []string{"firstName", "lastName", "profession"}
)

// fieldMessages are the user-facing messages per top-level field. Fields not
// listed fall back to the schema library's description.
var fieldMessages = map[string]string{
	"kind":          "Submission kind must be standard or legacy",
	"email":         "A valid email address is required",
	"links":         "A website or portfolio link is required",
	"industry":      "Industry is required",
	"roles":         "Select at least one role",
	"genres":        "Select at least one genre",
	"firstName":     "First name is required",
	"lastName":      "Last name is required",
	"profession":    "Profession is required",
	"referredBy":    "Referrer must be a valid email address",
	"title":         "Title is required",
	"name":          "Name is required",
	"status":        "Status is not allowed",
	"startsAt":      "Start time must be an RFC 3339 timestamp",
	"endsAt":        "End time must be an RFC 3339 timestamp",
	"referrerEmail": "A valid referrer email address is required",
	"referredEmail": "A valid referred email address is required",
}

// Result is the outcome of validating an application submission.
type Result struct {
	Kind        string
	FieldErrors map[string]string
}

// Valid reports whether the submission passed every check.
func (r *Result) Valid() bool {
	return len(r.FieldErrors) == 0
}

// NormalizeEmail is the canonical form used as the application key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail reports whether email has the local@domain.tld shape.
func ValidateEmail(email string) bool {
	return emailRegexp.MatchString(strings.TrimSpace(email))
}

// DetectKind resolves the submission kind. An explicit kind wins; without one
// the payload is sniffed: legacy keys with no standard keys means legacy.
func DetectKind(payload map[string]interface{}) (string, bool) {
	if raw, ok := payload["kind"]; ok {
		kind, _ := raw.(string)
		switch kind {
		case KindStandard, KindLegacy:
			return kind, true
		default:
			return "", false
		}
	}

	if hasAny(payload, legacyKeys) && !hasAny(payload, standardKeys) {
		return KindLegacy, true
	}
	return KindStandard, true
}

// ValidateSubmission checks an application payload against the schema for its kind.
// The returned error is reserved for schema failures, not invalid input.
func ValidateSubmission(payload map[string]interface{}) (*Result, error) {
	kind, ok := DetectKind(payload)
	if !ok {
		return &Result{FieldErrors: map[string]string{"kind": fieldMessages["kind"]}}, nil
	}

	schema := standardSchema
	if kind == KindLegacy {
		schema = legacySchema
	}

	fieldErrors, err := validate(schema, payload)
	if err != nil {
		return nil, err
	}
	return &Result{Kind: kind, FieldErrors: fieldErrors}, nil
}

// ValidateEvent checks an event document. Partial documents (updates) skip the required set.
func ValidateEvent(payload map[string]interface{}, partial bool) (map[string]string, error) {
	if partial {
		return validate(eventUpdateSchema, payload)
	}
	return validate(eventSchema, payload)
}

// ValidateCollective checks a collective document.
func ValidateCollective(payload map[string]interface{}, partial bool) (map[string]string, error) {
	if partial {
		return validate(collectiveUpdateSchema, payload)
	}
	return validate(collectiveSchema, payload)
}

func ValidateSubscription(payload map[string]interface{}) (map[string]string, error) {
	return validate(subscriptionSchema, payload)
}

func ValidateReferral(payload map[string]interface{}) (map[string]string, error) {
	return validate(referralSchema, payload)
}

func ValidateWaitlist(payload map[string]interface{}) (map[string]string, error) {
	return validate(waitlistSchema, payload)
}

func validate(schema *gojsonschema.Schema, payload map[string]interface{}) (map[string]string, error) {
	if payload == nil {
		payload = map[string]interface{}{}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(payload))
	if err != nil {
		return nil, fmt.Errorf("validation error: %w", err)
	}
	if result.Valid() {
		return nil, nil
	}

	fieldErrors := make(map[string]string)
	for _, desc := range result.Errors() {
		key := fieldKey(desc)
		if _, seen := fieldErrors[key]; seen {
			continue
		}
		if msg, ok := fieldMessages[key]; ok {
			fieldErrors[key] = msg
		} else {
			fieldErrors[key] = desc.Description()
		}
	}
	return fieldErrors, nil
}

// fieldKey collapses a schema error to the top-level field it belongs to.
func fieldKey(desc gojsonschema.ResultError) string {
	field := desc.Field()
	if field == gojsonschema.STRING_CONTEXT_ROOT {
		field = ""
	}

	if desc.Type() == "required" {
		if prop, ok := desc.Details()["property"].(string); ok && prop != "" {
			if field == "" {
				field = prop
			} else if !strings.HasSuffix(field, "."+prop) && field != prop {
				field = field + "." + prop
			}
		}
	}

	if field == "" {
		return gojsonschema.STRING_CONTEXT_ROOT
	}
	if i := strings.IndexByte(field, '.'); i >= 0 {
		return field[:i]
	}
	return field
}

func hasAny(payload map[string]interface{}, keys []string) bool {
	for _, k := range keys {
		if _, ok := payload[k]; ok {
			return true
		}
	}
	return false
}
