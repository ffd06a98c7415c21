package plan

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads and validates a plan from a YAML file. Omitted width and
// maxDepth values stay zero; the session manager fills them from the
// search configuration.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading plan file: %w", err)
	}

	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing plan YAML: %w", err)
	}

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid plan: %w", err)
	}
	return &p, nil
}

// LoadOrDefault loads the plan at path, or returns the built-in default
// plan when path is empty or the file does not exist.
func LoadOrDefault(path string) (*Plan, error) {
	if path == "" {
		return Default(), nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(path)
}
