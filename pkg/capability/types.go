// Package capability defines the types a capability author implements to make
// a unit of functionality invocable from workflow scripts. Descriptors are
// registered once at daemon startup and are immutable afterwards.
package capability

import (
	"context"
	"fmt"
)

// Kind classifies what a capability is at the orchestration level.
type Kind string

const (
	KindService  Kind = "service"  // external service call (HTTP, database, messaging)
	KindTool     Kind = "tool"     // attachable helper usable by agent capabilities
	KindWorkflow Kind = "workflow" // composite of other capabilities
	KindAgent    Kind = "agent"    // AI-agent capability; may attach tools
)

// ParamSpec describes one parameter a capability accepts.
type ParamSpec struct {
	Type        string `yaml:"type" json:"type"` // string, number, boolean, array, object
	Required    bool   `yaml:"required,omitempty" json:"required,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

// Descriptor is the registered contract of one capability. ClassName is the
// constructor identifier scripts use (`new SlackSend({...})`); Alias is an
// optional secondary identifier resolved the same way.
type Descriptor struct {
	Name                    string               `yaml:"name" json:"name"`
	Alias                   string               `yaml:"alias,omitempty" json:"alias,omitempty"`
	ClassName               string               `yaml:"class_name" json:"class_name"`
	Kind                    Kind                 `yaml:"kind" json:"kind"`
	Params                  map[string]ParamSpec `yaml:"params,omitempty" json:"params,omitempty"`
	Result                  map[string]ParamSpec `yaml:"result,omitempty" json:"result,omitempty"`
	RequiredCredentialTypes []string             `yaml:"required_credential_types,omitempty" json:"required_credential_types,omitempty"`
}

// FieldSpec describes one field of a trigger event payload.
type FieldSpec struct {
	Type     string `yaml:"type" json:"type"`
	Optional bool   `yaml:"optional,omitempty" json:"optional,omitempty"`
	File     bool   `yaml:"file,omitempty" json:"file,omitempty"` // file-like payload field (upload reference)
}

// EventDescriptor declares a trigger event type and the shape of its payload.
// PayloadType is the annotation name scripts may use on the handler parameter.
type EventDescriptor struct {
	Type        string               `yaml:"type" json:"type"`
	PayloadType string               `yaml:"payload_type" json:"payload_type"`
	Fields      map[string]FieldSpec `yaml:"fields,omitempty" json:"fields,omitempty"`
}

// Invocation carries one resolved capability call at execution time.
// Credentials holds decrypted secret values keyed by credential type; it is
// built per call and must never outlive it.
type Invocation struct {
	Capability  string
	Params      map[string]any
	Credentials map[string]string
	UserID      string
}

// Emitter receives progress events from a running capability. Implementations
// must be safe for concurrent use; Emit must not block the capability.
type Emitter interface {
	Progress(kind string, data any)
}

// Implementation is the executable side of a capability. Invoke must honor ctx
// cancellation; a cancelled or timed-out execution abandons the call.
type Implementation interface {
	Invoke(ctx context.Context, inv Invocation, emit Emitter) (any, error)
}

// Func adapts a plain function to Implementation.
type Func func(ctx context.Context, inv Invocation, emit Emitter) (any, error)

func (f Func) Invoke(ctx context.Context, inv Invocation, emit Emitter) (any, error) {
	return f(ctx, inv, emit)
}

// Validate checks a descriptor for registration.
func (d *Descriptor) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("capability descriptor: name is required")
	}
	if d.ClassName == "" {
		return fmt.Errorf("capability %q: class_name is required", d.Name)
	}
	switch d.Kind {
	case KindService, KindTool, KindWorkflow, KindAgent:
	default:
		return fmt.Errorf("capability %q: unknown kind %q", d.Name, d.Kind)
	}
	return nil
}
