// Package query parses raw URL query strings into the argument
// mapping passed to web methods.
package query

import "strings"

// Args maps a query key to its values in first-seen order. A key that
// appeared without "=" maps to an empty slice, which distinguishes it
// from a key with an empty value ("k=" maps to [""]).
type Args map[string][]string

// Parse splits a raw query string on "&" into Args. Empty pairs and
// pairs with an empty key are skipped. Values are taken verbatim, no
// unescaping is applied.
func Parse(rawQuery string) Args {
	args := Args{}

	for _, pair := range strings.Split(rawQuery, "&") {
		if pair == "" {
			continue
		}

		key, value, hasValue := cut(pair)
		if key == "" {
			continue
		}

		if hasValue {
			args[key] = append(args[key], value)
		} else if _, seen := args[key]; !seen {
			args[key] = []string{}
		}
	}

	return args
}

// Has reports whether the key appeared in the query at all.
func (a Args) Has(key string) bool {
	_, ok := a[key]
	return ok
}

// Get returns the first value of key. The second return is false when
// the key is absent or carries no value.
func (a Args) Get(key string) (string, bool) {
	values, ok := a[key]
	if !ok || len(values) == 0 {
		return "", false
	}
	return values[0], true
}

// All returns every value of key in first-seen order.
func (a Args) All(key string) []string {
	return a[key]
}

func cut(pair string) (key, value string, hasValue bool) {
	if i := strings.Index(pair, "="); i >= 0 {
		return pair[:i], pair[i+1:], true
	}
	return pair, "", false
}
