// Package query provides a keyed read-through cache over the HTTP
// client: per-key single-flight fetching, subscription lifecycle with
// deferred garbage collection, background polling, and prefix-based
// invalidation so mutations can expire whole key families.
package query

import (
	"net/url"
	"strings"
)

// Key identifies one cached query: a resource kind plus a canonical
// serialization of its parameters. Two parameter sets holding the same
// values in any order produce the same Key.
type Key string

// NewKey builds a canonical key. url.Values.Encode sorts by parameter
// name, which makes the serialization order-independent.
func NewKey(kind string, params url.Values) Key {
	if len(params) == 0 {
		return Key(kind)
	}
	return Key(kind + "?" + params.Encode())
}

// HasPrefix reports whether k belongs to the family rooted at prefix.
func (k Key) HasPrefix(prefix Key) bool {
	return strings.HasPrefix(string(k), string(prefix))
}

func (k Key) String() string { return string(k) }
