package echo

import (
	"context"
	"fmt"

	"github.com/cgast/dispatchd/pkg/command"
)

const steps = 5

// New returns the echo command. Any member of the users group may run it.
func New() command.Descriptor {
	return command.Descriptor{
		Name:        "echo",
		Description: "Echo a message back to the caller",
		Policy:      command.AccessPolicy{AllowedGroups: []string{"users"}},
		Schema: command.Schema{
			{Name: "message", Type: command.TypeString, Required: true, Description: "Message to echo back"},
		},
		Handler: run,
	}
}

func run(_ context.Context, inv command.Invocation, em *command.Emitter) error {
	msg := inv.String("message")
	for i := 1; i <= steps; i++ {
		err := em.Progress(float64(i)/steps, fmt.Sprintf("Processing echo %d/%d...", i, steps), map[string]any{
			"current_step": i,
		})
		if err != nil {
			return err
		}
	}
	return em.Success("Echo completed", map[string]any{"echo": msg})
}
