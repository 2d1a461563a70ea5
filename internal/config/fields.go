package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Fields is the FIELDS_FILE overlay. Values support ${VAR} or $VAR
// environment references.
//
//	identity:
//	  name: "NOMBRE Y APELLIDO"
//	  primary: ${PRIMARY_ID_COLUMN}
//	  fallback: OS
type Fields struct {
	Identity struct {
		Name     string `yaml:"name"`
		Primary  string `yaml:"primary"`
		Fallback string `yaml:"fallback"`
	} `yaml:"identity"`
}

// LoadFields reads and parses a fields file, expanding env vars.
func LoadFields(path string) (*Fields, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	f, err := LoadFieldsBytes(raw)
	if err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return f, nil
}

// LoadFieldsBytes parses a fields overlay from bytes.
func LoadFieldsBytes(data []byte) (*Fields, error) {
	var f Fields
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// apply overrides cfg with every non-empty overlay value.
func (f *Fields) apply(cfg *Config) {
	if v := strings.TrimSpace(f.Identity.Name); v != "" {
		cfg.IdentityNameField = v
	}
	if v := strings.TrimSpace(f.Identity.Primary); v != "" {
		cfg.IdentityPrimaryField = v
	}
	if v := strings.TrimSpace(f.Identity.Fallback); v != "" {
		cfg.IdentityFallbackField = v
	}
}

// envVarPattern matches ${VAR_NAME} and $VAR_NAME.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars replaces ${VAR} and $VAR with the corresponding environment
// variable value. Missing vars are replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := strings.TrimPrefix(match, "${")
		name = strings.TrimSuffix(name, "}")
		name = strings.TrimPrefix(name, "$")
		return os.Getenv(name)
	})
}
