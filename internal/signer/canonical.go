package signer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// FlattenParams coerces arbitrary request parameters to the wire string form
// used for query signing. See trimParams for the coercion rules.
func FlattenParams(params map[string]any) map[string]string {
	return trimParams(params)
}

// trimParams coerces every parameter value to its string form, dropping nils.
// Arrays become the JSON string of their elements' string forms; nested
// objects become their own canonical JSON string. This mirrors the coercion
// the exchange applies before verifying wallet signatures; deviating in any
// value's formatting invalidates the signature.
func trimParams(params map[string]any) map[string]string {
	out := make(map[string]string, len(params))
	for k, v := range params {
		if v == nil {
			continue
		}
		switch val := v.(type) {
		case []any:
			items := make([]string, 0, len(val))
			for _, item := range val {
				if nested, ok := item.(map[string]any); ok {
					items = append(items, canonicalJSON(trimParams(nested)))
				} else {
					items = append(items, stringify(item))
				}
			}
			out[k] = canonicalArray(items)
		case map[string]any:
			out[k] = canonicalJSON(trimParams(val))
		default:
			out[k] = stringify(v)
		}
	}
	return out
}

// stringify renders a scalar the way JavaScript's String() would, since that
// is what the exchange canonicalizes against. Floats use the shortest
// round-trip representation.
func stringify(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case json.Number:
		return val.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

// canonicalJSON serializes a string map with lexicographically sorted keys
// and no whitespace. HTML characters are not escaped.
func canonicalJSON(m map[string]string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeJSONString(&buf, k)
		buf.WriteByte(':')
		writeJSONString(&buf, m[k])
	}
	buf.WriteByte('}')
	return buf.String()
}

func canonicalArray(items []string) string {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, item := range items {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeJSONString(&buf, item)
	}
	buf.WriteByte(']')
	return buf.String()
}

func writeJSONString(buf *bytes.Buffer, s string) {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(s)
	// Encode appends a newline; canonical output must not contain whitespace.
	buf.Truncate(buf.Len() - 1)
}
