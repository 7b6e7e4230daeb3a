package conf

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/devricklin/notify-reply-bridge/internal/biz/domain"
)

// PoliciesConfig contains the reply policies loaded from YAML
type PoliciesConfig struct {
	DefaultPolicies domain.DefaultPolicies `yaml:"default_policies"`
	Prompt          domain.PromptTemplate  `yaml:"prompt"`
	Keywords        []KeywordSeed          `yaml:"keywords"`

	// Source is the file the config was read from, empty for built-in defaults
	Source string `yaml:"-"`
}

// KeywordSeed is a keyword action created on first start
type KeywordSeed struct {
	Keyword string            `yaml:"keyword"`
	Type    domain.ActionType `yaml:"type"`
	Content string            `yaml:"content"`
}

// LoadPoliciesConfig loads the policies file. An empty path searches the
// usual locations; when nothing is found the built-in defaults apply.
func LoadPoliciesConfig(configPath string) (*PoliciesConfig, error) {
	paths := []string{configPath}
	if configPath == "" {
		paths = []string{
			"configs/policies.yaml",
			"/etc/notify-reply-bridge/policies.yaml",
		}
		if execPath, err := os.Executable(); err == nil {
			paths = append(paths, filepath.Join(filepath.Dir(execPath), "configs", "policies.yaml"))
		}
	}

	var data []byte
	var loadedPath string
	for _, p := range paths {
		b, err := os.ReadFile(p)
		if err == nil {
			data, loadedPath = b, p
			break
		}
		if configPath != "" {
			return nil, fmt.Errorf("failed to read %s: %w", configPath, err)
		}
	}

	if data == nil {
		return DefaultPoliciesConfig(), nil
	}

	var config PoliciesConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", loadedPath, err)
	}
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", loadedPath, err)
	}
	config.fillDefaults()
	config.Source = loadedPath
	return &config, nil
}

// fillDefaults fills in default values for empty fields
func (c *PoliciesConfig) fillDefaults() {
	if c.DefaultPolicies == nil {
		c.DefaultPolicies = domain.BuiltinDefaultPolicies
	}
	if c.Prompt.Template == "" {
		c.Prompt = domain.DefaultPromptTemplate
	}
}

func (c *PoliciesConfig) validate() error {
	for i, p := range c.DefaultPolicies {
		if p.PackageName == "" {
			return &ConfigError{Field: fmt.Sprintf("default_policies[%d].package", i), Message: "required"}
		}
	}
	for i, k := range c.Keywords {
		if k.Keyword == "" {
			return &ConfigError{Field: fmt.Sprintf("keywords[%d].keyword", i), Message: "required"}
		}
		if !k.Type.Valid() {
			return &ConfigError{Field: fmt.Sprintf("keywords[%d].type", i), Message: "must be IMAGE, VIDEO or TEXT"}
		}
	}
	return nil
}

// DefaultPoliciesConfig returns the built-in policies
func DefaultPoliciesConfig() *PoliciesConfig {
	return &PoliciesConfig{
		DefaultPolicies: domain.BuiltinDefaultPolicies,
		Prompt:          domain.DefaultPromptTemplate,
	}
}
