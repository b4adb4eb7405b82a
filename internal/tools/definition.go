package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/invopop/jsonschema"
	santhosh "github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/cccntu/llmproc/pkg/models"
)

// AccessLevel is the coarse permission class of a tool, used to filter the
// registered set by a configured ceiling.
type AccessLevel int

const (
	AccessRead AccessLevel = iota
	AccessWrite
	AccessAdmin
)

// ParseAccessLevel maps the configuration strings to levels.
func ParseAccessLevel(s string) (AccessLevel, error) {
	switch s {
	case "", "read":
		return AccessRead, nil
	case "write":
		return AccessWrite, nil
	case "admin":
		return AccessAdmin, nil
	default:
		return AccessRead, fmt.Errorf("invalid access level %q: expected read, write, or admin", s)
	}
}

func (a AccessLevel) String() string {
	switch a {
	case AccessWrite:
		return "write"
	case AccessAdmin:
		return "admin"
	default:
		return "read"
	}
}

// Handler executes a tool call. Handlers report domain failures through an
// error ToolResult, never through a panic; the registry converts anything
// else into one.
type Handler func(ctx context.Context, input json.RawMessage, rc *RuntimeContext) *models.ToolResult

// Definition is one registered tool: its schema as advertised to the
// provider plus the handler and its runtime requirements.
type Definition struct {
	Name        string
	Description string
	InputSchema json.RawMessage
	Access      AccessLevel
	Needs       Capabilities
	Handler     Handler

	compileOnce sync.Once
	compiled    *santhosh.Schema
	compileErr  error
}

// validator compiles the input schema once and caches the result. A nil
// schema or an uncompilable one disables validation for the definition.
func (d *Definition) validator() *santhosh.Schema {
	d.compileOnce.Do(func() {
		if len(d.InputSchema) == 0 {
			return
		}
		d.compiled, d.compileErr = santhosh.CompileString(d.Name+".json", string(d.InputSchema))
	})
	if d.compileErr != nil {
		return nil
	}
	return d.compiled
}

// renamed returns a shallow copy advertised under a different name. Used
// when an alias rebinds the exposed name of a tool.
func (d *Definition) renamed(name string) *Definition {
	return &Definition{
		Name:        name,
		Description: d.Description,
		InputSchema: d.InputSchema,
		Access:      d.Access,
		Needs:       d.Needs,
		Handler:     d.Handler,
	}
}

// FuncDef builds a definition whose input schema is derived from the args
// struct type via reflection. Field names, required-ness, and descriptions
// come from json and jsonschema struct tags.
func FuncDef[T any](name, description string, access AccessLevel, fn func(ctx context.Context, args T, rc *RuntimeContext) *models.ToolResult) *Definition {
	return &Definition{
		Name:        name,
		Description: description,
		InputSchema: SchemaFor[T](),
		Access:      access,
		Handler: func(ctx context.Context, input json.RawMessage, rc *RuntimeContext) *models.ToolResult {
			var args T
			if len(input) > 0 {
				if err := json.Unmarshal(input, &args); err != nil {
					return models.ErrorResultf("Error: invalid arguments for tool '%s': %v", name, err)
				}
			}
			return fn(ctx, args, rc)
		},
	}
}

// Requires declares the runtime context capabilities the handler needs and
// returns the definition for chaining.
func (d *Definition) Requires(c Capabilities) *Definition {
	d.Needs = c
	return d
}

// SchemaFor derives a JSON schema for the given struct type.
func SchemaFor[T any]() json.RawMessage {
	reflector := jsonschema.Reflector{
		DoNotReference:            true,
		AllowAdditionalProperties: false,
	}
	schema := reflector.Reflect(new(T))
	// The provider-facing schema is the bare object schema; the draft
	// marker confuses some providers.
	schema.Version = ""
	data, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return data
}
