package audit

import "strings"

// defaultSensitiveKeys are detail keys whose values are redacted before an
// event is encoded and hashed. Masking happens ahead of hashing so the
// stored bytes and the verified bytes always agree.
var defaultSensitiveKeys = []string{
	"account_number",
	"card_number",
	"iban",
}

// sensitiveFragments match any key containing one of these substrings.
var sensitiveFragments = []string{"password", "secret", "token", "api_key"}

// Masker redacts sensitive values from event details. String values keep
// their last four characters so operators can still correlate records
// ("****5678"); everything else becomes an opaque placeholder.
type Masker struct {
	exact map[string]struct{}
}

// NewMasker creates a Masker covering the default sensitive keys plus any
// extra keys from configuration.
func NewMasker(extra ...string) *Masker {
	exact := make(map[string]struct{}, len(defaultSensitiveKeys)+len(extra))
	for _, k := range defaultSensitiveKeys {
		exact[k] = struct{}{}
	}
	for _, k := range extra {
		if k != "" {
			exact[strings.ToLower(k)] = struct{}{}
		}
	}
	return &Masker{exact: exact}
}

// Mask returns a deep copy of details with sensitive values redacted.
// The input is never modified.
func (m *Masker) Mask(details map[string]any) map[string]any {
	if details == nil {
		return nil
	}
	out := make(map[string]any, len(details))
	for k, v := range details {
		if m.sensitive(k) {
			out[k] = redact(v)
			continue
		}
		out[k] = m.maskValue(v)
	}
	return out
}

// maskValue recurses into nested containers.
func (m *Masker) maskValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return m.Mask(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = m.maskValue(item)
		}
		return out
	default:
		return v
	}
}

func (m *Masker) sensitive(key string) bool {
	lower := strings.ToLower(key)
	if _, ok := m.exact[lower]; ok {
		return true
	}
	for _, frag := range sensitiveFragments {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	return false
}

// redact masks a sensitive value. Strings keep their last four characters
// behind a run of asterisks of matching length; non-strings carry no safe
// partial form and collapse to "****".
func redact(v any) any {
	s, ok := v.(string)
	if !ok {
		return "****"
	}
	if len(s) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(s)-4) + s[len(s)-4:]
}
