package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const configTemplate = `listen: ":8000"
log_level: info

groups:
  file: groups.yaml
  watch: true
  # Uncomment to persist runtime group edits across restarts.
  # db: memberships.db

registry:
  allow_overwrite: false

nvidia:
  driver_repo: NVIDIA/open-gpu-kernel-modules
  # github_token: ${DISPATCHD_GITHUB_TOKEN}
  # Uncomment to restrict which hosts install_nvidia may target.
  # allowed_hosts:
  #   - gpu-01
  ssh:
    user: root
    key_file: /root/.ssh/id_ed25519
    known_hosts_file: /root/.ssh/known_hosts
`

const groupsTemplate = `groups:
  admin:
    - root
  system: []
  users:
    - root
`

// handleInit implements `dispatchd init [--dir=path]`: it scaffolds a
// starter config and groups file.
func handleInit() error {
	dir := "."
	for _, arg := range os.Args[2:] {
		if strings.HasPrefix(arg, "--dir=") {
			dir = strings.TrimPrefix(arg, "--dir=")
		}
	}

	if dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	files := []struct {
		name, content string
	}{
		{"dispatchd.yaml", configTemplate},
		{"groups.yaml", groupsTemplate},
	}
	for _, f := range files {
		path := filepath.Join(dir, f.name)
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("file %q already exists", path)
		}
		if err := os.WriteFile(path, []byte(f.content), 0644); err != nil {
			return fmt.Errorf("write %s: %w", f.name, err)
		}
		fmt.Printf("Created %s\n", path)
	}

	fmt.Println("Edit groups.yaml to grant access, then run:")
	fmt.Println("  dispatchd")
	return nil
}
