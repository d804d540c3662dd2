package schema

import (
	"regexp"
	"strings"
)

var (
	keyRe        = regexp.MustCompile(`^[0-9A-Za-z_-]+$`)
	idRe         = regexp.MustCompile(`^[A-Za-z]+/[0-9A-Za-z_-]+$`)
	collectionRe = regexp.MustCompile(`^[A-Za-z]+$`)
)

// IsKey reports whether s is a bare document key.
func IsKey(s string) bool { return keyRe.MatchString(s) }

// IsID reports whether s is a collection qualified id.
func IsID(s string) bool { return idRe.MatchString(s) }

// SplitID splits "collection/key".
func SplitID(id string) (collection, key string, ok bool) {
	if !IsID(id) {
		return "", "", false
	}
	collection, key, _ = strings.Cut(id, "/")
	return collection, key, true
}

// KeyOf strips the collection qualifier from an id. Other values are
// returned unchanged.
func KeyOf(v string) string {
	if _, key, ok := SplitID(v); ok {
		return key
	}
	return v
}

// JoinID builds the id of key in collection.
func JoinID(collection, key string) string { return collection + "/" + key }

// AsID converts a key or an id of this type to the canonical id. ok is
// false when v is neither, or names another collection.
func (s *Schema) AsID(v string) (string, bool) {
	if !s.Referable() {
		return "", false
	}
	if collection, _, isID := SplitID(v); isID {
		return v, collection == s.Collection
	}
	if IsKey(v) {
		return JoinID(s.Collection, v), true
	}
	return "", false
}
