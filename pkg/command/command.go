package command

import (
	"context"
	"encoding/json"
)

// Handler produces the event stream for a single invocation. A handler
// reports progress through the emitter and must end its stream with exactly
// one terminal frame: either em.Success, or a returned error which the
// engine converts into the terminal failure frame.
type Handler func(ctx context.Context, inv Invocation, em *Emitter) error

// Descriptor is the complete registration record for a command: identity,
// access policy, parameter schema and handler.
type Descriptor struct {
	Name        string
	Description string
	Policy      AccessPolicy
	Schema      Schema
	Handler     Handler
}

// AccessPolicy restricts who may execute a command. A policy with no
// allowed users and no allowed groups permits every principal.
type AccessPolicy struct {
	AllowedUsers  []string
	AllowedGroups []string
}

// Unrestricted reports whether the policy places no restriction on callers.
func (p AccessPolicy) Unrestricted() bool {
	return len(p.AllowedUsers) == 0 && len(p.AllowedGroups) == 0
}

// Request is one decoded execution submission. On the wire it is a flat
// JSON object: the reserved keys "principal" and "command" plus the
// command's own parameters at the top level.
type Request struct {
	Principal string
	Command   string
	Params    map[string]any
}

// MarshalJSON encodes the request in its flat wire form.
func (r Request) MarshalJSON() ([]byte, error) {
	body := make(map[string]any, len(r.Params)+2)
	for k, v := range r.Params {
		body[k] = v
	}
	body[FieldPrincipal] = r.Principal
	body[FieldCommand] = r.Command
	return json.Marshal(body)
}

// UnmarshalJSON decodes the flat wire form, splitting the reserved keys
// from the command parameters.
func (r *Request) UnmarshalJSON(data []byte) error {
	var body map[string]any
	if err := json.Unmarshal(data, &body); err != nil {
		return err
	}
	r.Principal, _ = body[FieldPrincipal].(string)
	r.Command, _ = body[FieldCommand].(string)
	delete(body, FieldPrincipal)
	delete(body, FieldCommand)
	r.Params = body
	return nil
}

// Invocation carries the validated parameters of one request into its
// handler. Values have already been coerced to their schema types.
type Invocation struct {
	Principal string
	Command   string
	params    map[string]any
}

// NewInvocation builds an invocation from an already validated parameter
// map. The engine is the usual caller; tests construct them directly.
func NewInvocation(principal, command string, params map[string]any) Invocation {
	return Invocation{Principal: principal, Command: command, params: params}
}

// Has reports whether the named parameter was supplied.
func (inv Invocation) Has(name string) bool {
	_, ok := inv.params[name]
	return ok
}

// String returns the named string parameter, or "" if absent.
func (inv Invocation) String(name string) string {
	v, _ := inv.params[name].(string)
	return v
}

// Int returns the named integer parameter, or 0 if absent.
func (inv Invocation) Int(name string) int {
	v, _ := inv.params[name].(int)
	return v
}

// Float returns the named number parameter, or 0 if absent.
func (inv Invocation) Float(name string) float64 {
	v, _ := inv.params[name].(float64)
	return v
}

// Bool returns the named boolean parameter, or false if absent.
func (inv Invocation) Bool(name string) bool {
	v, _ := inv.params[name].(bool)
	return v
}
