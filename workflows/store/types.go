// Package store provides a type-safe key-value store with tag and property metadata
package store

import (
	"errors"
	"reflect"
)

// entry holds the serialized value plus its concrete Go type.
type entry struct {
	typ      reflect.Type
	blob     []byte
	metadata *Metadata
}

// Common errors returned by the store
var (
	ErrNotFound     = errors.New("key not found")
	ErrTypeMismatch = errors.New("type mismatch on Get")
	ErrEmptyKey     = errors.New("key cannot be empty")
)
