package workflow

import (
	"time"

	"github.com/davidroman0O/stageflow/errors"
)

// Priority of a definition or conditional form trigger
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Definition is a reusable workflow template. The first stage is the entry
// point of every instance.
type Definition struct {
	ID          string             `json:"id" yaml:"id"`
	Name        string             `json:"name" yaml:"name"`
	Description string             `json:"description,omitempty" yaml:"description,omitempty"`
	Stages      []Stage            `json:"stages" yaml:"stages"`
	Metadata    DefinitionMetadata `json:"metadata" yaml:"metadata"`
}

// DefinitionMetadata describes where a definition came from
type DefinitionMetadata struct {
	CreatedBy         string    `json:"createdBy,omitempty" yaml:"createdBy,omitempty"`
	CreatedAt         time.Time `json:"createdAt,omitempty" yaml:"createdAt,omitempty"`
	ConversationID    string    `json:"conversationId,omitempty" yaml:"conversationId,omitempty"`
	Priority          Priority  `json:"priority,omitempty" yaml:"priority,omitempty"`
	EstimatedDuration int       `json:"estimatedDuration,omitempty" yaml:"estimatedDuration,omitempty"`
	Tags              []string  `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// Stage returns the stage with the given id.
func (d Definition) Stage(id string) (Stage, bool) {
	for _, s := range d.Stages {
		if s.ID == id {
			return s, true
		}
	}
	return Stage{}, false
}

// Validate checks that the definition is a well-formed graph: unique stage
// ids, known kinds, and no reference to a stage that does not exist.
func (d Definition) Validate() error {
	if d.ID == "" {
		return errors.New(errors.ErrInvalidInput, "workflow id is required")
	}
	if len(d.Stages) == 0 {
		return errors.Newf(errors.ErrInvalidInput, "workflow %s has no stages", d.ID)
	}

	ids := make(map[string]bool, len(d.Stages))
	for _, s := range d.Stages {
		if err := s.validate(); err != nil {
			return errors.WithContext(err, map[string]interface{}{"workflow": d.ID})
		}
		if ids[s.ID] {
			return errors.Newf(errors.ErrInvalidInput, "workflow %s: duplicate stage id %s", d.ID, s.ID)
		}
		ids[s.ID] = true
	}

	for _, s := range d.Stages {
		for _, c := range s.Conditions {
			if c.NextStageID == "" {
				return errors.Newf(errors.ErrInvalidInput, "workflow %s: stage %s has a condition without target", d.ID, s.ID)
			}
		}
		for _, ref := range s.References() {
			if !ids[ref] {
				return errors.Newf(errors.ErrInvalidInput, "workflow %s: stage %s references unknown stage %s", d.ID, s.ID, ref)
			}
		}
	}
	return nil
}

// ConversationContext is the chat context an instance was started from
type ConversationContext struct {
	Messages        []ChatMessage  `json:"messages,omitempty" yaml:"messages,omitempty"`
	ProjectType     string         `json:"projectType,omitempty" yaml:"projectType,omitempty"`
	CurrentTask     string         `json:"currentTask,omitempty" yaml:"currentTask,omitempty"`
	UserPreferences map[string]any `json:"userPreferences,omitempty" yaml:"userPreferences,omitempty"`
}

// ChatMessage is one turn of the conversation
type ChatMessage struct {
	ID        string         `json:"id" yaml:"id"`
	Content   string         `json:"content" yaml:"content"`
	Role      string         `json:"role" yaml:"role"`
	Timestamp time.Time      `json:"timestamp" yaml:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}
