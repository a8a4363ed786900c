package roster

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// File is a roster exchanged as a file.
type File struct {
	Group    string    `json:"group,omitempty" toml:"group"`
	Athletes []Athlete `json:"athletes" toml:"athletes"`
}

// Validate checks the group and every athlete.
func (f *File) Validate() error {
	if err := ValidateGroup(f.Group); err != nil {
		return err
	}
	seen := make(map[string]bool, len(f.Athletes))
	for i := range f.Athletes {
		a := &f.Athletes[i]
		if err := a.Validate(); err != nil {
			return err
		}
		if seen[a.ID] {
			return fmt.Errorf("duplicate athlete id %s", a.ID)
		}
		seen[a.ID] = true
	}
	return nil
}

// Filename returns the canonical filename for this roster: {group}.json
func (f *File) Filename() string {
	return fmt.Sprintf("%s.json", f.Group)
}

// IsRosterFile reports whether name has an extension ReadFile understands.
func IsRosterFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".toml":
		return true
	}
	return false
}

// ReadFile reads and validates a roster file. The group defaults to the file
// name without its extension, and athletes without a group inherit it.
func ReadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read roster file %s: %w", path, err)
	}

	var f File
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if _, err := toml.Decode(string(data), &f); err != nil {
			return nil, fmt.Errorf("failed to parse roster file %s: %w", path, err)
		}
	case ".json":
		trimmed := bytes.TrimSpace(data)
		if len(trimmed) > 0 && trimmed[0] == '[' {
			err = json.Unmarshal(trimmed, &f.Athletes)
		} else {
			err = json.Unmarshal(trimmed, &f)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse roster file %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported roster file type %q", ext)
	}

	if f.Group == "" {
		f.Group = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if f.Athletes == nil {
		f.Athletes = []Athlete{}
	}
	for i := range f.Athletes {
		if f.Athletes[i].Group == "" {
			f.Athletes[i].Group = f.Group
		}
	}

	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("invalid roster file %s: %w", path, err)
	}
	return &f, nil
}

// WriteFile writes f to dir/{group}.json with pretty-printed formatting.
func WriteFile(dir string, f *File) (string, error) {
	if err := f.Validate(); err != nil {
		return "", fmt.Errorf("cannot write invalid roster: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create roster directory: %w", err)
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal roster %s: %w", f.Group, err)
	}

	path := filepath.Join(dir, f.Filename())
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write roster file %s: %w", path, err)
	}
	return path, nil
}
