package nvidia

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cgast/dispatchd/pkg/command"
)

const probeCmd = "nvidia-smi --query-gpu=driver_version --format=csv,noheader"

// InstallCommand returns the install_nvidia command backed by runner,
// with optional host restrictions. Only the admin and system groups may
// run it.
func InstallCommand(runner Runner, allowedHosts []string) command.Descriptor {
	return command.Descriptor{
		Name:        "install_nvidia",
		Description: "Install NVIDIA driver on a remote host",
		Policy:      command.AccessPolicy{AllowedGroups: []string{"admin", "system"}},
		Schema: command.Schema{
			{Name: "hostname", Type: command.TypeString, Required: true, Description: "Host to install the driver on"},
			{Name: "driver_version", Type: command.TypeString, Required: true, Description: "Driver version to install"},
		},
		Handler: installHandler(runner, allowedHosts),
	}
}

func installHandler(runner Runner, allowedHosts []string) command.Handler {
	return func(ctx context.Context, inv command.Invocation, em *command.Emitter) error {
		hostname := inv.String("hostname")
		version := inv.String("driver_version")

		if err := checkAllowedHost(hostname, allowedHosts); err != nil {
			return err
		}

		if err := em.Progress(0.1, fmt.Sprintf("Connecting to %s...", hostname), map[string]any{"step": "connect"}); err != nil {
			return err
		}
		sess, err := runner.Connect(ctx, hostname)
		if err != nil {
			return fmt.Errorf("connect to %s: %w", hostname, err)
		}
		defer sess.Close()

		// check turns a non-zero exit into an action error carrying stderr.
		check := func(cmd, action string) error {
			res, err := sess.Run(ctx, cmd)
			if err != nil {
				return fmt.Errorf("%s: %w", action, err)
			}
			if res.ExitCode != 0 {
				return fmt.Errorf("%s: %s", action, strings.TrimSpace(res.Stderr))
			}
			return nil
		}

		res, err := sess.Run(ctx, probeCmd)
		if err != nil {
			return fmt.Errorf("probe driver version: %w", err)
		}
		if res.ExitCode == 0 {
			current := strings.TrimSpace(res.Stdout)
			if current == version {
				return em.Success(fmt.Sprintf("NVIDIA driver %s is already installed", version), map[string]any{
					"current_version": current,
				})
			}
		}

		if err := em.Progress(0.2, "Updating package list...", map[string]any{"step": "update"}); err != nil {
			return err
		}
		if err := check("sudo apt-get update", "update package list"); err != nil {
			return err
		}

		if err := em.Progress(0.3, "Installing required packages...", map[string]any{"step": "dependencies"}); err != nil {
			return err
		}
		if err := check("sudo apt-get install -y build-essential dkms", "install required packages"); err != nil {
			return err
		}

		if err := em.Progress(0.4, "Removing existing NVIDIA drivers...", map[string]any{"step": "remove_old"}); err != nil {
			return err
		}
		// A host without old drivers exits non-zero here; that is fine.
		if _, err := sess.Run(ctx, "sudo apt-get remove -y nvidia* && sudo apt-get autoremove -y"); err != nil {
			return fmt.Errorf("remove existing drivers: %w", err)
		}

		if err := em.Progress(0.5, "Adding NVIDIA repository...", map[string]any{"step": "add_repo"}); err != nil {
			return err
		}
		for _, cmd := range []string{
			"sudo add-apt-repository -y ppa:graphics-drivers/ppa",
			"sudo apt-get update",
		} {
			if err := check(cmd, "add nvidia repository"); err != nil {
				return err
			}
		}

		if err := em.Progress(0.7, fmt.Sprintf("Installing NVIDIA driver %s...", version), map[string]any{"step": "install"}); err != nil {
			return err
		}
		if err := check("sudo apt-get install -y nvidia-driver-"+version, "install nvidia driver"); err != nil {
			return err
		}

		if err := em.Progress(0.9, "Verifying installation...", map[string]any{"step": "verify"}); err != nil {
			return err
		}
		res, err = sess.Run(ctx, probeCmd)
		if err != nil {
			return fmt.Errorf("verify installation: %w", err)
		}
		if res.ExitCode != 0 {
			return errors.New("verify driver installation: a system reboot may be required")
		}
		installed := strings.TrimSpace(res.Stdout)
		if installed != version {
			return fmt.Errorf("driver version mismatch: expected %s, got %s", version, installed)
		}

		return em.Success(fmt.Sprintf("Successfully installed NVIDIA driver %s", version), map[string]any{
			"installed_version": installed,
			"reboot_required":   true,
		})
	}
}

// checkAllowedHost verifies the hostname is in the allowlist. If no
// allowed hosts are configured, all hosts are permitted.
func checkAllowedHost(hostname string, allowedHosts []string) error {
	if len(allowedHosts) == 0 {
		return nil
	}
	for _, h := range allowedHosts {
		if hostname == h {
			return nil
		}
	}
	return fmt.Errorf("host %q is not in the allowed list", hostname)
}
