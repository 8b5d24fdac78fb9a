package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// ToolDescriptionsYAML represents the structure of tools_override.yaml
type ToolDescriptionsYAML struct {
	ToolDescriptions map[string]string `yaml:"toolDescriptions"`
}

// LoadToolDescriptions loads tool description overrides from path. A
// missing file yields an empty map.
func LoadToolDescriptions(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	var yamlData ToolDescriptionsYAML
	if err := yaml.NewDecoder(file).Decode(&yamlData); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if yamlData.ToolDescriptions == nil {
		yamlData.ToolDescriptions = make(map[string]string)
	}

	logrus.WithFields(logrus.Fields{
		"file":  path,
		"count": len(yamlData.ToolDescriptions),
	}).Info("Loaded tool description overrides")
	return yamlData.ToolDescriptions, nil
}

// GetToolDescription returns the override description if available, otherwise returns original
func GetToolDescription(overrides map[string]string, toolName, originalDescription string) string {
	if override, ok := overrides[toolName]; ok && override != "" {
		return override
	}
	return originalDescription
}

// SystemMessageReplacement is one literal find/replace pair
type SystemMessageReplacement struct {
	Find    string `yaml:"find"`
	Replace string `yaml:"replace"`
}

// SystemMessageOverrides rewrites system prompts before they reach the backend
type SystemMessageOverrides struct {
	RemovePatterns []string                   `yaml:"removePatterns"`
	Replacements   []SystemMessageReplacement `yaml:"replacements"`
	Prepend        string                     `yaml:"prepend"`
	Append         string                     `yaml:"append"`
}

// IsEmpty reports whether no override is configured
func (o SystemMessageOverrides) IsEmpty() bool {
	return len(o.RemovePatterns) == 0 && len(o.Replacements) == 0 && o.Prepend == "" && o.Append == ""
}

// SystemMessageOverridesYAML represents the structure of system_overrides.yaml
type SystemMessageOverridesYAML struct {
	SystemMessageOverrides SystemMessageOverrides `yaml:"systemMessageOverrides"`
}

// LoadSystemMessageOverrides loads system message overrides from path. A
// missing file yields no overrides; invalid patterns are rejected here so
// they are never compiled per request.
func LoadSystemMessageOverrides(path string) (SystemMessageOverrides, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return SystemMessageOverrides{}, nil
		}
		return SystemMessageOverrides{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	var yamlData SystemMessageOverridesYAML
	if err := yaml.NewDecoder(file).Decode(&yamlData); err != nil {
		return SystemMessageOverrides{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	overrides := yamlData.SystemMessageOverrides
	for _, pattern := range overrides.RemovePatterns {
		if _, err := regexp.Compile(pattern); err != nil {
			return SystemMessageOverrides{}, fmt.Errorf("invalid removePattern %q: %w", pattern, err)
		}
	}

	logrus.WithFields(logrus.Fields{
		"file":            path,
		"remove_patterns": len(overrides.RemovePatterns),
		"replacements":    len(overrides.Replacements),
		"prepend":         overrides.Prepend != "",
		"append":          overrides.Append != "",
	}).Info("Loaded system message overrides")
	return overrides, nil
}

// ApplySystemMessageOverrides applies removals, then replacements, then
// prepend and append
func ApplySystemMessageOverrides(originalMessage string, overrides SystemMessageOverrides) string {
	if overrides.IsEmpty() {
		return originalMessage
	}
	message := originalMessage

	for _, pattern := range overrides.RemovePatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			continue
		}
		message = re.ReplaceAllString(message, "")
	}

	for _, replacement := range overrides.Replacements {
		if replacement.Find == "" {
			continue
		}
		message = strings.ReplaceAll(message, replacement.Find, replacement.Replace)
	}

	if overrides.Prepend != "" {
		message = overrides.Prepend + message
	}
	if overrides.Append != "" {
		message = message + overrides.Append
	}
	return message
}
