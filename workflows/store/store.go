package store

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/morrisxyang/xreflect"
)

// KVStore is a threadsafe, type-aware in-memory store. Keys keep their
// insertion order so listings are deterministic.
type KVStore struct {
	mu    sync.RWMutex
	data  map[string]entry
	order []string
}

// NewKVStore constructs an empty store.
func NewKVStore() *KVStore {
	return &KVStore{data: make(map[string]entry)}
}

// Put stores any Go value under key, capturing its concrete type.
func (s *KVStore) Put(key string, value any) error {
	return s.PutWithMetadata(key, value, nil)
}

// PutWithMetadata stores a value with metadata. A nil metadata keeps
// whatever metadata the key already carried.
func (s *KVStore) PutWithMetadata(key string, value any, metadata *Metadata) error {
	if key == "" {
		return ErrEmptyKey
	}

	blob, err := json.Marshal(value)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	meta := metadata
	existing, exists := s.data[key]
	if exists && meta == nil && existing.metadata != nil {
		meta = existing.metadata
		meta.UpdatedAt = time.Now()
	}
	if !exists {
		s.order = append(s.order, key)
	}
	s.data[key] = entry{typ: reflect.TypeOf(value), blob: blob, metadata: meta}
	return nil
}

// Get retrieves and unmarshals key into a value of type T.
func Get[T any](s *KVStore, key string) (T, error) {
	var zero T
	if key == "" {
		return zero, ErrEmptyKey
	}

	s.mu.RLock()
	e, ok := s.data[key]
	s.mu.RUnlock()

	if !ok {
		return zero, ErrNotFound
	}

	want := reflect.TypeOf((*T)(nil)).Elem()
	if e.typ != want {
		return zero, fmt.Errorf("%w: wanted %v, got %v", ErrTypeMismatch, want, e.typ)
	}

	var v T
	if err := json.Unmarshal(e.blob, &v); err != nil {
		return zero, err
	}
	return v, nil
}

// GetOrDefault retrieves a value of type T, falling back to defaultValue
// when the key is absent.
func GetOrDefault[T any](s *KVStore, key string, defaultValue T) (T, error) {
	value, err := Get[T](s, key)
	if err == ErrNotFound {
		return defaultValue, nil
	}
	return value, err
}

// Has reports whether key is present.
func (s *KVStore) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[key]
	return ok
}

// Delete removes a key from the store.
func (s *KVStore) Delete(key string) bool {
	if key == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[key]; !exists {
		return false
	}
	delete(s.data, key)
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// ListKeys returns all stored keys in insertion order.
func (s *KVStore) ListKeys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string{}, s.order...)
}

// Count returns the number of entries in the store.
func (s *KVStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// KeysByType returns all keys whose stored value has type T.
func KeysByType[T any](s *KVStore) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := reflect.TypeOf((*T)(nil)).Elem()
	keys := []string{}
	for _, k := range s.order {
		if s.data[k].typ == want {
			keys = append(keys, k)
		}
	}
	return keys
}

// GetTypeSchema returns a JSON Schema representation of the stored value's type.
func (s *KVStore) GetTypeSchema(key string) (*jsonschema.Schema, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}

	s.mu.RLock()
	e, ok := s.data[key]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	return TypeToSchema(e.typ), nil
}

// TypeToSchema converts a reflect.Type to a JSON schema.
func TypeToSchema(t reflect.Type) *jsonschema.Schema {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	reflector := jsonschema.Reflector{
		ExpandedStruct: true,
	}
	return reflector.ReflectFromType(t)
}

// UpdateFields sets several fields of a stored struct by Go field path
// ("Name", "FormSpec.Title"). The update is all-or-nothing.
func (s *KVStore) UpdateFields(key string, fields map[string]interface{}) error {
	if key == "" {
		return ErrEmptyKey
	}
	if len(fields) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.data[key]
	if !ok {
		return ErrNotFound
	}

	instance := reflect.New(e.typ).Interface()
	if err := json.Unmarshal(e.blob, instance); err != nil {
		return err
	}

	for fieldPath, fieldValue := range fields {
		if err := xreflect.SetEmbedField(instance, fieldPath, fieldValue); err != nil {
			return fmt.Errorf("failed to update field %s: %w", fieldPath, err)
		}
	}

	newBlob, err := json.Marshal(instance)
	if err != nil {
		return err
	}

	if e.metadata != nil {
		e.metadata.UpdatedAt = time.Now()
	}
	s.data[key] = entry{typ: e.typ, blob: newBlob, metadata: e.metadata}
	return nil
}

// GetMetadata returns a copy of the metadata for a key. Keys stored without
// metadata report an empty set.
func (s *KVStore) GetMetadata(key string) (*Metadata, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	if e.metadata == nil {
		return NewMetadata(), nil
	}
	return e.metadata.clone(), nil
}

// SetMetadata sets or replaces the metadata for a key
func (s *KVStore) SetMetadata(key string, metadata *Metadata) error {
	if metadata == nil {
		return fmt.Errorf("metadata cannot be nil")
	}
	return s.withMetadata(key, func(m *Metadata) {
		*m = *metadata.clone()
	})
}

// withMetadata runs fn against the live metadata of key under the write lock.
func (s *KVStore) withMetadata(key string, fn func(*Metadata)) error {
	if key == "" {
		return ErrEmptyKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.data[key]
	if !ok {
		return ErrNotFound
	}
	if e.metadata == nil {
		e.metadata = NewMetadata()
		s.data[key] = e
	}
	fn(e.metadata)
	return nil
}

// AddTag adds a tag to the metadata for a key
func (s *KVStore) AddTag(key string, tag string) error {
	return s.withMetadata(key, func(m *Metadata) { m.AddTag(tag) })
}

// RemoveTag removes a tag from the metadata for a key
func (s *KVStore) RemoveTag(key string, tag string) error {
	return s.withMetadata(key, func(m *Metadata) { m.RemoveTag(tag) })
}

// HasTag checks if a key's metadata has a specific tag
func (s *KVStore) HasTag(key string, tag string) (bool, error) {
	meta, err := s.GetMetadata(key)
	if err != nil {
		return false, err
	}
	return meta.HasTag(tag), nil
}

// FindKeysByTag returns all keys that have a specific tag in their metadata
func (s *KVStore) FindKeysByTag(tag string) []string {
	return s.findKeys(func(m *Metadata) bool { return m.HasTag(tag) })
}

// FindKeysByAnyTag returns all keys that have any of the specified tags
func (s *KVStore) FindKeysByAnyTag(tags []string) []string {
	return s.findKeys(func(m *Metadata) bool { return m.HasAnyTag(tags) })
}

// SetProperty sets a property in a key's metadata
func (s *KVStore) SetProperty(key string, propertyKey string, propertyValue interface{}) error {
	return s.withMetadata(key, func(m *Metadata) { m.SetProperty(propertyKey, propertyValue) })
}

// GetProperty gets a property from a key's metadata
func (s *KVStore) GetProperty(key string, propertyKey string) (interface{}, error) {
	meta, err := s.GetMetadata(key)
	if err != nil {
		return nil, err
	}

	val, exists := meta.GetProperty(propertyKey)
	if !exists {
		return nil, fmt.Errorf("property '%s' not found", propertyKey)
	}
	return val, nil
}

// FindKeysByProperty returns all keys that have a specific property with a specific value
func (s *KVStore) FindKeysByProperty(propertyKey string, propertyValue interface{}) []string {
	return s.findKeys(func(m *Metadata) bool {
		val, exists := m.Properties[propertyKey]
		return exists && reflect.DeepEqual(val, propertyValue)
	})
}

func (s *KVStore) findKeys(match func(*Metadata) bool) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	for _, k := range s.order {
		e := s.data[k]
		if e.metadata != nil && match(e.metadata) {
			keys = append(keys, k)
		}
	}
	return keys
}
