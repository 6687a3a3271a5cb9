package sshconfig

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// HostEntry is one concrete Host block from an OpenSSH client config.
type HostEntry struct {
	Name         string
	Hostname     string
	User         string
	Port         int
	IdentityFile string
}

// DefaultPath returns ~/.ssh/config.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".ssh", "config")
}

// Parse reads an OpenSSH client config and returns its concrete host
// entries. Wildcard host patterns are skipped; both `key value` and
// `key=value` syntax are accepted.
func Parse(path string) ([]HostEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SSH config: %w", err)
	}
	defer f.Close()

	var entries []HostEntry
	var current *HostEntry

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value := splitDirective(line)
		if key == "" {
			continue
		}

		if key == "host" {
			if current != nil {
				entries = append(entries, *current)
			}
			current = nil
			// Pattern hosts cannot be dialed directly.
			if strings.ContainsAny(value, "*?") {
				continue
			}
			current = &HostEntry{Name: value, Hostname: value, Port: 22}
			continue
		}

		if current == nil {
			continue
		}
		switch key {
		case "hostname":
			current.Hostname = value
		case "user":
			current.User = value
		case "port":
			if port, err := strconv.Atoi(value); err == nil {
				current.Port = port
			}
		case "identityfile":
			current.IdentityFile = expandHome(strings.Trim(value, `"'`))
		}
	}
	if current != nil {
		entries = append(entries, *current)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read SSH config: %w", err)
	}
	return entries, nil
}

func splitDirective(line string) (key, value string) {
	if idx := strings.Index(line, "="); idx != -1 && !strings.ContainsAny(line[:idx], " \t") {
		return strings.ToLower(strings.TrimSpace(line[:idx])), strings.TrimSpace(line[idx+1:])
	}
	fields := strings.SplitN(line, " ", 2)
	if len(fields) != 2 {
		return "", ""
	}
	return strings.ToLower(strings.TrimSpace(fields[0])), strings.TrimSpace(fields[1])
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
