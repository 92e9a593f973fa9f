package workflow

import (
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/invopop/jsonschema"

	"github.com/davidroman0O/stageflow/errors"
	"github.com/davidroman0O/stageflow/workflows/store"
)

// Registry holds the workflow templates instances are started from.
// Definitions are stored serialized, so callers always get their own copy.
type Registry struct {
	mu    sync.Mutex
	store *store.KVStore
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{store: store.NewKVStore()}
}

// RegisterWorkflow validates and stores a definition. Ids are unique; a
// registered definition is never replaced.
func (r *Registry) RegisterWorkflow(def Definition) error {
	if err := def.Validate(); err != nil {
		return errors.WithOp(err, "RegisterWorkflow")
	}
	if def.Metadata.CreatedAt.IsZero() {
		def.Metadata.CreatedAt = time.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := PrefixWorkflow + def.ID
	if r.store.Has(key) {
		return errors.WithOp(errors.Newf(errors.ErrInvalidInput, "workflow %s is already registered", def.ID), "RegisterWorkflow")
	}

	meta := store.NewMetadata()
	meta.Description = def.Description
	for _, tag := range def.Metadata.Tags {
		meta.AddTag(tag)
	}
	if def.Metadata.CreatedBy == CreatedByAI {
		meta.AddTag(TagAI)
	}
	meta.SetProperty(PropCreatedBy, def.Metadata.CreatedBy)
	meta.SetProperty(PropPriority, string(def.Metadata.Priority))
	meta.SetProperty(PropStageCount, len(def.Stages))

	return r.store.PutWithMetadata(key, def, meta)
}

// GetWorkflow returns the definition registered under id
func (r *Registry) GetWorkflow(id string) (Definition, error) {
	def, err := store.Get[Definition](r.store, PrefixWorkflow+id)
	if err == store.ErrNotFound {
		return Definition{}, errors.Newf(errors.ErrDefinitionNotFound, "workflow definition not found: %s", id)
	}
	if err != nil {
		return Definition{}, errors.Wrap(err, errors.ErrUnknown, "decode workflow definition")
	}
	return def, nil
}

// GetAvailableWorkflows returns every definition in registration order
func (r *Registry) GetAvailableWorkflows() []Definition {
	return r.collect(store.KeysByType[Definition](r.store))
}

// WorkflowsByTag returns the definitions carrying tag
func (r *Registry) WorkflowsByTag(tag string) []Definition {
	return r.collect(r.store.FindKeysByTag(tag))
}

// WorkflowsByCreator returns the definitions created by createdBy
func (r *Registry) WorkflowsByCreator(createdBy string) []Definition {
	return r.collect(r.store.FindKeysByProperty(PropCreatedBy, createdBy))
}

// Tag attaches a tag to a registered definition without touching the
// definition itself.
func (r *Registry) Tag(id, tag string) error {
	err := r.store.AddTag(PrefixWorkflow+id, tag)
	if err == store.ErrNotFound {
		return errors.Newf(errors.ErrDefinitionNotFound, "workflow definition not found: %s", id)
	}
	return err
}

// Tags returns the registry tags of a definition
func (r *Registry) Tags(id string) ([]string, error) {
	meta, err := r.store.GetMetadata(PrefixWorkflow + id)
	if err == store.ErrNotFound {
		return nil, errors.Newf(errors.ErrDefinitionNotFound, "workflow definition not found: %s", id)
	}
	if err != nil {
		return nil, err
	}
	return meta.Tags, nil
}

func (r *Registry) collect(keys []string) []Definition {
	out := make([]Definition, 0, len(keys))
	for _, key := range keys {
		if !strings.HasPrefix(key, PrefixWorkflow) {
			continue
		}
		def, err := store.Get[Definition](r.store, key)
		if err != nil {
			continue
		}
		out = append(out, def)
	}
	return out
}

// DefinitionSchema returns the JSON schema of a workflow definition
func DefinitionSchema() *jsonschema.Schema {
	return store.TypeToSchema(reflect.TypeOf(Definition{}))
}
