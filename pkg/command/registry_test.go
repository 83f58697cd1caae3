package command

import (
	"context"
	"errors"
	"testing"
)

func nopHandler(_ context.Context, _ Invocation, em *Emitter) error {
	return em.Success("done", nil)
}

func TestRegistryRegisterAndLookup(t *testing.T) {
	reg := NewRegistry()
	d := Descriptor{
		Name:        "echo",
		Description: "Echo a message back",
		Schema:      Schema{{Name: "message", Type: TypeString, Required: true}},
		Handler:     nopHandler,
	}

	if err := reg.Register(d); err != nil {
		t.Fatalf("Register error: %v", err)
	}

	got, err := reg.Lookup("echo")
	if err != nil {
		t.Fatalf("Lookup error: %v", err)
	}
	if got.Name != "echo" {
		t.Errorf("expected echo, got %s", got.Name)
	}
	if len(got.Schema) != 1 || got.Schema[0].Name != "message" {
		t.Errorf("unexpected schema: %+v", got.Schema)
	}
}

func TestRegistryDuplicateRegister(t *testing.T) {
	reg := NewRegistry()
	d := Descriptor{Name: "echo", Handler: nopHandler}

	if err := reg.Register(d); err != nil {
		t.Fatalf("first Register error: %v", err)
	}
	err := reg.Register(d)
	if err == nil {
		t.Fatal("expected error on duplicate register")
	}
	var dup *DuplicateError
	if !errors.As(err, &dup) {
		t.Errorf("expected *DuplicateError, got %T", err)
	}
}

func TestRegistryAllowOverwrite(t *testing.T) {
	reg := NewRegistry()
	reg.SetAllowOverwrite(true)

	if err := reg.Register(Descriptor{Name: "echo", Description: "old", Handler: nopHandler}); err != nil {
		t.Fatalf("first Register error: %v", err)
	}
	if err := reg.Register(Descriptor{Name: "echo", Description: "new", Handler: nopHandler}); err != nil {
		t.Fatalf("overwrite Register error: %v", err)
	}

	got, err := reg.Lookup("echo")
	if err != nil {
		t.Fatalf("Lookup error: %v", err)
	}
	if got.Description != "new" {
		t.Errorf("expected overwritten descriptor, got %q", got.Description)
	}
}

func TestRegistryLookupNotFound(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Lookup("nonexistent")
	if err == nil {
		t.Fatal("expected error for nonexistent command")
	}
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRegistryRejectsBadDescriptors(t *testing.T) {
	tests := []struct {
		name string
		d    Descriptor
	}{
		{"empty name", Descriptor{Handler: nopHandler}},
		{"nil handler", Descriptor{Name: "echo"}},
		{"reserved field principal", Descriptor{
			Name:    "echo",
			Handler: nopHandler,
			Schema:  Schema{{Name: "principal", Type: TypeString}},
		}},
		{"reserved field command", Descriptor{
			Name:    "echo",
			Handler: nopHandler,
			Schema:  Schema{{Name: "command", Type: TypeString}},
		}},
		{"unknown field type", Descriptor{
			Name:    "echo",
			Handler: nopHandler,
			Schema:  Schema{{Name: "message", Type: "blob"}},
		}},
		{"duplicate field", Descriptor{
			Name:    "echo",
			Handler: nopHandler,
			Schema: Schema{
				{Name: "message", Type: TypeString},
				{Name: "message", Type: TypeString},
			},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := NewRegistry().Register(tt.d); err == nil {
				t.Error("expected registration error")
			}
		})
	}
}

func TestRegistryListSorted(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{"install_nvidia", "echo", "nvidia_releases"} {
		if err := reg.Register(Descriptor{Name: name, Handler: nopHandler}); err != nil {
			t.Fatalf("Register %s error: %v", name, err)
		}
	}

	list := reg.List()
	if len(list) != 3 {
		t.Fatalf("expected 3 commands, got %d", len(list))
	}
	want := []string{"echo", "install_nvidia", "nvidia_releases"}
	for i, d := range list {
		if d.Name != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], d.Name)
		}
	}
}

func TestRegistryCopiesDescriptors(t *testing.T) {
	reg := NewRegistry()
	schema := Schema{{Name: "message", Type: TypeString, Required: true}}
	d := Descriptor{
		Name:    "echo",
		Policy:  AccessPolicy{AllowedGroups: []string{"users"}},
		Schema:  schema,
		Handler: nopHandler,
	}
	if err := reg.Register(d); err != nil {
		t.Fatalf("Register error: %v", err)
	}

	// Mutating the caller's slices must not reach the registry.
	schema[0].Name = "mutated"
	d.Policy.AllowedGroups[0] = "mutated"

	got, err := reg.Lookup("echo")
	if err != nil {
		t.Fatalf("Lookup error: %v", err)
	}
	if got.Schema[0].Name != "message" {
		t.Errorf("schema mutated through shared slice: %+v", got.Schema)
	}
	if got.Policy.AllowedGroups[0] != "users" {
		t.Errorf("policy mutated through shared slice: %+v", got.Policy)
	}
}
