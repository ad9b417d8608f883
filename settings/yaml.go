package settings

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

func loadYAML(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("settings: read %s: %w", path, err)
	}

	s := defaults()
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("settings: parse %s: %w", path, err)
	}

	return s, nil
}
