package store

import "time"

// Metadata describes a stored entry without touching its value.
type Metadata struct {
	Tags        []string               `json:"tags"`
	Properties  map[string]interface{} `json:"properties"`
	Description string                 `json:"description,omitempty"`
	CreatedAt   time.Time              `json:"createdAt"`
	UpdatedAt   time.Time              `json:"updatedAt"`
}

// NewMetadata returns empty metadata stamped with the current time.
func NewMetadata() *Metadata {
	now := time.Now()
	return &Metadata{
		Tags:       []string{},
		Properties: make(map[string]interface{}),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// AddTag adds a tag if it is not already present.
func (m *Metadata) AddTag(tag string) {
	if m.HasTag(tag) {
		return
	}
	m.Tags = append(m.Tags, tag)
	m.UpdatedAt = time.Now()
}

// RemoveTag removes a tag.
func (m *Metadata) RemoveTag(tag string) {
	for i, t := range m.Tags {
		if t == tag {
			m.Tags = append(m.Tags[:i], m.Tags[i+1:]...)
			m.UpdatedAt = time.Now()
			return
		}
	}
}

// HasTag checks for a tag.
func (m *Metadata) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// HasAllTags checks that every tag is present.
func (m *Metadata) HasAllTags(tags []string) bool {
	for _, tag := range tags {
		if !m.HasTag(tag) {
			return false
		}
	}
	return true
}

// HasAnyTag checks that at least one tag is present.
func (m *Metadata) HasAnyTag(tags []string) bool {
	for _, tag := range tags {
		if m.HasTag(tag) {
			return true
		}
	}
	return false
}

// SetProperty sets a property value.
func (m *Metadata) SetProperty(key string, value interface{}) {
	if m.Properties == nil {
		m.Properties = make(map[string]interface{})
	}
	m.Properties[key] = value
	m.UpdatedAt = time.Now()
}

// GetProperty reads a property value.
func (m *Metadata) GetProperty(key string) (interface{}, bool) {
	v, ok := m.Properties[key]
	return v, ok
}

func (m *Metadata) clone() *Metadata {
	if m == nil {
		return nil
	}
	c := &Metadata{
		Tags:        append([]string{}, m.Tags...),
		Properties:  make(map[string]interface{}, len(m.Properties)),
		Description: m.Description,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
	for k, v := range m.Properties {
		c.Properties[k] = v
	}
	return c
}
