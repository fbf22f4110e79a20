// Package agents discovers agent definitions on disk and routes chat turns
// to one multi-tenant runner per agent.
package agents

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefinitionFile is the file an agent directory must contain.
const DefinitionFile = "agent.yaml"

// rootMarker must appear in a definition file for the directory to count as
// an agent.
const rootMarker = "root_agent:"

// Definition is the parsed content of an agent.yaml file.
type Definition struct {
	RootAgent AgentSpec `yaml:"root_agent"`
}

// AgentSpec describes one agent.
type AgentSpec struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Instruction string   `yaml:"instruction"`
	Model       string   `yaml:"model"`
	Tools       []string `yaml:"tools"`
}

// Discover lists agent directory names under dir, sorted. A directory
// qualifies when it is not hidden or underscore-prefixed and holds an
// agent.yaml mentioning root_agent. The file is not parsed here.
func Discover(dir string, logger *slog.Logger) ([]string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		logger.Warn("agents directory not found", "dir", dir)
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read agents dir: %w", err)
	}

	names := []string{}
	for _, entry := range entries {
		if !entry.IsDir() || !eligibleDirName(entry.Name()) {
			continue
		}
		if hasRootMarker(filepath.Join(dir, entry.Name(), DefinitionFile), logger) {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func eligibleDirName(name string) bool {
	return name != "" && !strings.HasPrefix(name, "_") && !strings.HasPrefix(name, ".")
}

func hasRootMarker(path string, logger *slog.Logger) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Warn("read agent definition failed", "path", path, "error", err)
		}
		return false
	}
	if !strings.Contains(string(data), rootMarker) {
		logger.Debug("skipping agent dir without root_agent", "path", path)
		return false
	}
	return true
}

// LoadDefinition parses the agent.yaml of one agent directory. An empty
// name defaults to the directory name.
func LoadDefinition(dir, name string) (Definition, error) {
	path := filepath.Join(dir, name, DefinitionFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fmt.Errorf("read %s: %w", path, err)
	}
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return Definition{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if def.RootAgent.Name == "" {
		def.RootAgent.Name = name
	}
	return def, nil
}
