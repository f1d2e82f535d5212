package config

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// Built-in schema names.
const (
	SchemaProject = "project"
)

// SchemaRegistry manages CUE schemas for validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}

	if err := sr.RegisterSchema(SchemaProject, builtinProjectSchema); err != nil {
		panic(fmt.Sprintf("built-in schema does not compile: %v", err))
	}

	return sr
}

// RegisterSchema registers a CUE schema with the given name. When the source
// declares definitions, the last one is the schema; otherwise the whole
// value is.
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	val := sr.ctx.CompileString(schema, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	val = rootDefinition(val)

	sr.mu.Lock()
	sr.schemas[name] = val
	sr.mu.Unlock()
	return nil
}

// ExtendSchema unifies additional constraints into an existing schema.
func (sr *SchemaRegistry) ExtendSchema(name, schema string) error {
	base, ok := sr.GetSchema(name)
	if !ok {
		return fmt.Errorf("schema %s not found", name)
	}

	extra := sr.ctx.CompileString(schema, cue.Filename(name+"-extra.cue"))
	if err := extra.Err(); err != nil {
		return fmt.Errorf("failed to compile schema extension: %w", err)
	}

	merged := base.Unify(rootDefinition(extra))
	if err := merged.Err(); err != nil {
		return fmt.Errorf("schema extension conflicts with %s: %w", name, err)
	}

	sr.mu.Lock()
	sr.schemas[name] = merged
	sr.mu.Unlock()
	return nil
}

func rootDefinition(val cue.Value) cue.Value {
	iter, err := val.Fields(cue.Definitions(true))
	if err != nil {
		return val
	}
	root := val
	for iter.Next() {
		if iter.Selector().IsDefinition() {
			root = iter.Value()
		}
	}
	return root
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ValidateAgainstSchema validates data against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(ctx context.Context, schemaName string, data interface{}) error {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return err
	}

	return nil
}

// ValidateProject validates a settings record against the project schema.
func (sr *SchemaRegistry) ValidateProject(ctx context.Context, p *Project) error {
	return sr.ValidateAgainstSchema(ctx, SchemaProject, p.ToMap())
}

// ListSchemas returns all registered schema names, sorted.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

const builtinProjectSchema = `
#Path: string & !=""

#Project: {
	project_type: "stand_alone" | "rails"

	http_path:                  #Path
	http_images_path:           #Path
	http_generated_images_path: #Path
	http_fonts_path:            #Path

	css_dir:    #Path
	sass_dir:   #Path
	images_dir: #Path
	fonts_dir:  #Path

	line_comments: bool
	output_style:  "nested" | "expanded" | "compact" | "compressed"

	requires?: [...string & !=""]
}
`
