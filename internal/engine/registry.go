package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	invopop "github.com/invopop/jsonschema"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/motorline/dealerflow/internal/models"
)

var (
	defSchemaOnce sync.Once
	defSchema     *jsonschema.Schema
	defSchemaErr  error
)

func definitionJSONSchema() (*jsonschema.Schema, error) {
	defSchemaOnce.Do(func() {
		reflector := invopop.Reflector{RequiredFromJSONSchemaTags: true}
		raw, err := json.Marshal(reflector.Reflect(&models.WorkflowDefinition{}))
		if err != nil {
			defSchemaErr = fmt.Errorf("failed to marshal workflow definition schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("schema://workflow_definition", bytes.NewReader(raw)); err != nil {
			defSchemaErr = fmt.Errorf("failed to add workflow definition schema resource: %w", err)
			return
		}
		defSchema, defSchemaErr = compiler.Compile("schema://workflow_definition")
	})
	return defSchema, defSchemaErr
}

// Registry holds the registered workflow definitions. Definitions are
// immutable once registered; re-registering an ID replaces it.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]models.WorkflowDefinition
}

// NewRegistry creates an empty workflow registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]models.WorkflowDefinition)}
}

// RegisterJSON validates a raw workflow definition against its JSON Schema,
// then applies the semantic checks, then stores it.
func (r *Registry) RegisterJSON(raw []byte) (*models.WorkflowDefinition, error) {
	schema, err := definitionJSONSchema()
	if err != nil {
		return nil, err
	}
	var shape interface{}
	if err := json.Unmarshal(raw, &shape); err != nil {
		return nil, fmt.Errorf("workflow definition is not valid JSON: %w", err)
	}
	if err := schema.Validate(shape); err != nil {
		return nil, fmt.Errorf("workflow definition failed schema validation: %w", err)
	}

	var def models.WorkflowDefinition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("workflow definition is not valid JSON: %w", err)
	}
	if err := r.Register(def); err != nil {
		return nil, err
	}
	return &def, nil
}

// Register applies semantic validation and stores the definition.
func (r *Registry) Register(def models.WorkflowDefinition) error {
	if err := def.Validate(); err != nil {
		slog.Warn("Registry rejected workflow definition", "error", err, "workflowID", def.Workflow.ID)
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[def.Workflow.ID] = def
	slog.Info("Registry registered workflow", "workflowID", def.Workflow.ID, "mode", def.Workflow.Mode, "steps", len(def.Steps))
	return nil
}

// Get returns the definition for a workflow ID.
func (r *Registry) Get(id string) (models.WorkflowDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[id]
	return def, ok
}

// List returns the registered workflows (not their steps).
func (r *Registry) List() []models.Workflow {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Workflow, 0, len(r.defs))
	for _, def := range r.defs {
		out = append(out, def.Workflow)
	}
	return out
}
