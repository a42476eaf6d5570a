// Package collectiontest provides helpers for tests that need collection refs.
package collectiontest

import "github.com/dgnsrekt/watchrelay/internal/collection"

// MustParse is collection.Parse for static test URLs; it panics on error.
func MustParse(raw string) collection.Ref {
	ref, err := collection.Parse(raw)
	if err != nil {
		panic(err)
	}
	return ref
}
