package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/user"
	"strings"

	"github.com/cgast/dispatchd/pkg/client"
	"github.com/cgast/dispatchd/pkg/command"
)

func main() {
	baseURL := defaultURL()
	principal := defaultPrincipal()

	args := make([]string, 0, len(os.Args)-1)
	for _, arg := range os.Args[1:] {
		switch {
		case strings.HasPrefix(arg, "--url="):
			baseURL = strings.TrimPrefix(arg, "--url=")
		case strings.HasPrefix(arg, "--user="):
			principal = strings.TrimPrefix(arg, "--user=")
		default:
			args = append(args, arg)
		}
	}

	if len(args) == 0 || args[0] == "help" {
		printUsage()
		return
	}

	c := client.New(baseURL, principal)

	var err error
	switch args[0] {
	case "list":
		err = cmdList(c)
	case "run":
		err = cmdRun(c, args[1:])
	case "groups":
		err = cmdGroups(c, args[1:])
	case "grant":
		err = cmdGrant(c, args[1:])
	case "revoke":
		err = cmdRevoke(c, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: dispatch [--url=URL] [--user=NAME] <command> [args]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  list                         list available commands")
	fmt.Println("  run <name> [key=value ...]   execute a command and stream progress")
	fmt.Println("  groups <principal>           show a principal's groups")
	fmt.Println("  grant <principal> <group>    add a principal to a group")
	fmt.Println("  revoke <principal> <group>   remove a principal from a group")
}

func cmdList(c *client.Client) error {
	cmds, err := c.Commands(context.Background())
	if err != nil {
		return err
	}
	for _, cmd := range cmds {
		fmt.Printf("%s - %s\n", cmd.Name, cmd.Description)
		for _, p := range cmd.Parameters {
			req := "optional"
			if p.Required {
				req = "required"
			}
			fmt.Printf("  %s (%s, %s) %s\n", p.Name, p.Type, req, p.Description)
		}
		if len(cmd.AllowedUsers) > 0 || len(cmd.AllowedGroups) > 0 {
			fmt.Printf("  access: users=%v groups=%v\n", cmd.AllowedUsers, cmd.AllowedGroups)
		}
	}
	return nil
}

func cmdRun(c *client.Client, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: dispatch run <command> [key=value ...]")
	}
	params := make(map[string]any)
	for _, arg := range args[1:] {
		key, val, err := parseParam(arg)
		if err != nil {
			return err
		}
		params[key] = val
	}

	last, err := c.Execute(context.Background(), args[0], params, func(ev command.Event) {
		if ev.Terminal() {
			return
		}
		if ev.Progress != nil {
			fmt.Printf("[%3.0f%%] %s\n", *ev.Progress*100, ev.Message)
			return
		}
		fmt.Println(ev.Message)
	})
	if err != nil {
		return err
	}

	fmt.Println(last.Message)
	if len(last.Data) > 0 {
		out, _ := json.MarshalIndent(last.Data, "", "  ")
		fmt.Println(string(out))
	}
	return nil
}

func cmdGroups(c *client.Client, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: dispatch groups <principal>")
	}
	groups, err := c.Groups(context.Background(), args[0])
	if err != nil {
		return err
	}
	if len(groups) == 0 {
		fmt.Printf("%s belongs to no groups\n", args[0])
		return nil
	}
	fmt.Printf("%s: %s\n", args[0], strings.Join(groups, ", "))
	return nil
}

func cmdGrant(c *client.Client, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: dispatch grant <principal> <group>")
	}
	if err := c.AddToGroup(context.Background(), args[0], args[1]); err != nil {
		return err
	}
	fmt.Printf("added %q to %q\n", args[0], args[1])
	return nil
}

func cmdRevoke(c *client.Client, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: dispatch revoke <principal> <group>")
	}
	if err := c.RemoveFromGroup(context.Background(), args[0], args[1]); err != nil {
		return err
	}
	fmt.Printf("removed %q from %q\n", args[0], args[1])
	return nil
}

// parseParam splits key=value, decoding the value as JSON when possible
// so numbers and booleans arrive typed.
func parseParam(s string) (string, any, error) {
	key, val, ok := strings.Cut(s, "=")
	if !ok || key == "" {
		return "", nil, fmt.Errorf("invalid parameter %q: expected key=value", s)
	}
	var parsed any
	if err := json.Unmarshal([]byte(val), &parsed); err == nil {
		return key, parsed, nil
	}
	return key, val, nil
}

func defaultURL() string {
	if u := os.Getenv("DISPATCHD_URL"); u != "" {
		return u
	}
	return "http://localhost:8000"
}

func defaultPrincipal() string {
	if name := os.Getenv("DISPATCHD_USER"); name != "" {
		return name
	}
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "unknown"
}
