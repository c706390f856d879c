package ledger

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// CanonicalDetails encodes a details mapping into its canonical JSON form:
// object keys sorted lexicographically at every nesting level, a single
// fixed representation for every scalar, no insignificant whitespace. Two
// semantically identical mappings always produce byte-identical output,
// which is what makes hashing reproducible on the write and verify paths.
//
// A nil mapping encodes as the empty object.
func CanonicalDetails(m map[string]any) (string, error) {
	if m == nil {
		return "{}", nil
	}
	var b strings.Builder
	if err := encodeCanonical(&b, m); err != nil {
		return "", err
	}
	return b.String(), nil
}

// encodeCanonical writes the canonical JSON encoding of v. Only the value
// kinds a details payload may carry are accepted: null, booleans, numbers,
// strings, string-keyed maps, and slices. Anything else is a validation
// failure, reported before any hashing happens.
func encodeCanonical(b *strings.Builder, v any) error {
	switch val := v.(type) {
	case nil:
		b.WriteString("null")
	case bool:
		if val {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case string:
		return writeScalar(b, val)
	case json.Number:
		// Validate the literal so a malformed Number cannot smuggle
		// arbitrary bytes into the material.
		if _, err := val.Float64(); err != nil {
			return &ValidationError{Field: "details", Reason: fmt.Sprintf("invalid number literal %q", val)}
		}
		b.WriteString(val.String())
	case int:
		b.WriteString(strconv.FormatInt(int64(val), 10))
	case int32:
		b.WriteString(strconv.FormatInt(int64(val), 10))
	case int64:
		b.WriteString(strconv.FormatInt(val, 10))
	case uint64:
		b.WriteString(strconv.FormatUint(val, 10))
	case float32:
		return writeScalar(b, float64(val))
	case float64:
		return writeScalar(b, val)
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := writeScalar(b, k); err != nil {
				return err
			}
			b.WriteByte(':')
			if err := encodeCanonical(b, val[k]); err != nil {
				return err
			}
		}
		b.WriteByte('}')
	case []any:
		b.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := encodeCanonical(b, item); err != nil {
				return err
			}
		}
		b.WriteByte(']')
	default:
		return &ValidationError{
			Field:  "details",
			Reason: fmt.Sprintf("unsupported value type %T", v),
		}
	}
	return nil
}

// writeScalar marshals a string or float through encoding/json so both the
// writer and the verifier share one escaping and number-formatting scheme.
func writeScalar(b *strings.Builder, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		// NaN and infinities land here.
		return &ValidationError{Field: "details", Reason: err.Error()}
	}
	b.Write(raw)
	return nil
}

// decodeDetails parses stored canonical JSON back into a details mapping,
// preserving number literals via json.Number so re-encoding is byte-stable.
func decodeDetails(raw string) (map[string]any, error) {
	if raw == "" || raw == "{}" {
		return nil, nil
	}
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return nil, fmt.Errorf("decode details: %w", err)
	}
	return m, nil
}
