// Package form serializes ordered key/value fields into an "application/x-www-form-urlencoded" body.
package form

import (
	"fmt"
	"net/url"
	"reflect"
	"sort"
	"strings"

	"github.com/keboola/go-utils/pkg/orderedmap"
	"github.com/spf13/cast"
)

// Serialize converts fields to URL-encoded text.
//
// Keys are emitted in insertion order.
// A slice or array value produces one "key[]=value" pair per element.
// A nil or empty map produces an empty string.
func Serialize(fields *orderedmap.OrderedMap) (string, error) {
	if fields == nil {
		return "", nil
	}

	var pairs []string
	for _, key := range fields.Keys() {
		value, _ := fields.Get(key)

		if values, ok := sequence(value); ok {
			for i, item := range values {
				str, err := castToString(item)
				if err != nil {
					return "", fmt.Errorf(`cannot serialize field "%s[%d]": %w`, key, i, err)
				}
				pairs = append(pairs, Escape(key+"[]")+"="+Escape(str))
			}
			continue
		}

		str, err := castToString(value)
		if err != nil {
			return "", fmt.Errorf(`cannot serialize field "%s": %w`, key, err)
		}
		pairs = append(pairs, Escape(key)+"="+Escape(str))
	}

	return strings.Join(pairs, "&"), nil
}

// FromMap converts a map to fields, keys are sorted.
func FromMap(m map[string]any) *orderedmap.OrderedMap {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]orderedmap.Pair, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, orderedmap.Pair{Key: k, Value: m[k]})
	}
	return orderedmap.FromPairs(pairs)
}

// Escape percent-encodes the string in the same way as the JavaScript encodeURIComponent.
func Escape(s string) string {
	return componentReplacer.Replace(url.QueryEscape(s))
}

var componentReplacer = strings.NewReplacer(
	"+", "%20",
	"%21", "!",
	"%27", "'",
	"%28", "(",
	"%29", ")",
	"%2A", "*",
)

func sequence(v any) ([]any, bool) {
	switch v := v.(type) {
	case nil, string, []byte:
		return nil, false
	case []any:
		return v, true
	case []string:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = item
		}
		return out, true
	}

	rv := reflect.ValueOf(v)
	if kind := rv.Kind(); kind != reflect.Slice && kind != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func castToString(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	str, err := cast.ToStringE(v)
	if err != nil {
		return "", fmt.Errorf("cannot cast %T to string: %w", v, err)
	}
	return str, nil
}
