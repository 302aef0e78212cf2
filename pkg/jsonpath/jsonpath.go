// Package jsonpath resolves a small JSONPath subset ($.a.b[0].c) against a
// JSON document using gjson.
package jsonpath

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrNotFound is returned when the path does not resolve.
var ErrNotFound = errors.New("path not found")

// Lookup resolves path against body. Both "$.items[0].id" and the native
// gjson form "items.0.id" are accepted.
func Lookup(body []byte, path string) (gjson.Result, error) {
	if len(body) == 0 {
		return gjson.Result{}, errors.New("empty JSON document")
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, errors.New("invalid JSON document")
	}

	res := gjson.GetBytes(body, ToGJSON(path))
	if !res.Exists() {
		return gjson.Result{}, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return res, nil
}

// Extract resolves path and returns the value as a string. JSON null is
// returned as "null".
func Extract(body []byte, path string) (string, error) {
	res, err := Lookup(body, path)
	if err != nil {
		return "", err
	}
	if res.Type == gjson.Null {
		return "null", nil
	}
	return res.String(), nil
}

// ToGJSON converts a JSONPath expression into gjson path syntax.
func ToGJSON(path string) string {
	path = strings.TrimSpace(path)
	path = strings.TrimPrefix(path, "$")
	path = strings.TrimPrefix(path, ".")
	if path == "" {
		return "@this"
	}

	var b strings.Builder
	for i := 0; i < len(path); i++ {
		c := path[i]
		switch c {
		case '[':
			end := strings.IndexByte(path[i:], ']')
			if end < 0 {
				b.WriteString(path[i:])
				return b.String()
			}
			key := strings.Trim(path[i+1:i+end], `'"`)
			if b.Len() > 0 {
				b.WriteByte('.')
			}
			b.WriteString(key)
			i += end
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
