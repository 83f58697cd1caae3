package command

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds all registered commands, keyed by name.
type Registry struct {
	mu             sync.RWMutex
	commands       map[string]Descriptor
	allowOverwrite bool
}

// NewRegistry creates an empty command registry.
func NewRegistry() *Registry {
	return &Registry{
		commands: make(map[string]Descriptor),
	}
}

// SetAllowOverwrite controls whether re-registering a name replaces the
// existing command. The default is off: duplicates fail loudly.
func (r *Registry) SetAllowOverwrite(allow bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.allowOverwrite = allow
}

// Register adds a command to the registry. The descriptor must carry a
// name, a handler and a well-formed schema. Returns a *DuplicateError if
// the name is taken and overwriting is not enabled.
func (r *Registry) Register(d Descriptor) error {
	if d.Name == "" {
		return fmt.Errorf("register: command name is empty")
	}
	if d.Handler == nil {
		return fmt.Errorf("register %s: handler is nil", d.Name)
	}
	if err := d.Schema.check(); err != nil {
		return fmt.Errorf("register %s: %w", d.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.commands[d.Name]; exists && !r.allowOverwrite {
		return &DuplicateError{Name: d.Name}
	}
	r.commands[d.Name] = copyDescriptor(d)
	return nil
}

// Lookup returns the command registered under name. The error wraps
// ErrNotFound when no such command exists.
func (r *Registry) Lookup(name string) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.commands[name]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return copyDescriptor(d), nil
}

// List returns all registered commands sorted by name.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Descriptor, 0, len(r.commands))
	for _, d := range r.commands {
		result = append(result, copyDescriptor(d))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// Names returns all registered command names sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// copyDescriptor detaches the slices shared with the caller so later
// mutation cannot reach the registry's copy.
func copyDescriptor(d Descriptor) Descriptor {
	out := d
	out.Schema = append(Schema(nil), d.Schema...)
	out.Policy.AllowedUsers = append([]string(nil), d.Policy.AllowedUsers...)
	out.Policy.AllowedGroups = append([]string(nil), d.Policy.AllowedGroups...)
	return out
}
