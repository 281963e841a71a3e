package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ContainerConfigDir is preferred when it exists and holds a matching file.
const ContainerConfigDir = "/config"

// ResolveConfigDir picks the directory configuration files are read from.
// An explicit dir always wins.
func ResolveConfigDir(explicit, pattern string) string {
	if s := strings.TrimSpace(explicit); s != "" {
		return s
	}
	if st, err := os.Stat(ContainerConfigDir); err == nil && st.IsDir() {
		if m, _ := filepath.Glob(filepath.Join(ContainerConfigDir, pattern)); len(m) > 0 {
			return ContainerConfigDir
		}
	}
	return "config"
}

// ResolveConfigSet expands pattern into ordered configuration identifiers.
// A literal name yields itself; a name containing '*' is globbed inside dir.
func ResolveConfigSet(dir, pattern string) ([]string, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return nil, fmt.Errorf("%w: empty config file name", ErrNoConfigs)
	}
	if !strings.Contains(pattern, "*") {
		return []string{pattern}, nil
	}
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("config pattern %q: %w", pattern, err)
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if st, err := os.Stat(m); err == nil && st.IsDir() {
			continue
		}
		out = append(out, filepath.Base(m))
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: unable to find any config files in the pattern %q", ErrNoConfigs, pattern)
	}
	sort.Strings(out)
	return out, nil
}

// BaseName strips the extension from a configuration identifier; it names
// the per-configuration log file.
func BaseName(id string) string {
	b := filepath.Base(id)
	return strings.TrimSuffix(b, filepath.Ext(b))
}
