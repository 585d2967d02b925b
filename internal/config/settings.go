package config

import (
	"os"
	"path/filepath"

	"github.com/titanous/json5"
)

// Settings are the process-startup values: everything the CLI, the
// environment, and an optional on-disk file can supply before the edge
// ever dials out. Precedence, lowest to highest: on-disk file < env vars
// < CLI flags — the caller (cmd/edge) applies flags last.
type Settings struct {
	APIKey   string `json:"apiKey"`
	APIURL   string `json:"apiUrl"`
	Debug    bool   `json:"debug"`
	AddPath  string `json:"addPath"`
	LogJSON  bool   `json:"logJson"`
}

// DefaultSettings mirrors goclaw's Default() idiom: sane baseline values
// before any overlay is applied.
func DefaultSettings() *Settings {
	return &Settings{
		APIURL: "https://api.todofor.ai",
	}
}

// DefaultSettingsPath is the on-disk file consulted by LoadSettingsFile,
// ~/.todoforai/edge.json5.
func DefaultSettingsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".todoforai", "edge.json5")
}

// LoadSettingsFile reads an optional JSON5 settings file into s, leaving
// fields untouched (and s unchanged) when the file does not exist.
func LoadSettingsFile(s *Settings, path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json5.Unmarshal(data, s)
}

// envKeys lists, per settings field, the preferred TODOFORAI_ name and
// the legacy TODO4AI_ alias, in lookup order.
var envKeys = map[string][2]string{
	"apiKey": {"TODOFORAI_API_KEY", "TODO4AI_API_KEY"},
	"apiUrl": {"TODOFORAI_API_URL", "TODO4AI_API_URL"},
	"debug":  {"TODOFORAI_DEBUG", "TODO4AI_DEBUG"},
}

// lookupEnv returns the first non-empty value across the preferred and
// legacy environment variable names for field.
func lookupEnv(field string) (string, bool) {
	names, ok := envKeys[field]
	if !ok {
		return "", false
	}
	for _, n := range names {
		if v, ok := os.LookupEnv(n); ok && v != "" {
			return v, true
		}
	}
	return "", false
}

// ApplyEnvOverlay overwrites any field in s that has a corresponding
// environment variable set, preferred name first.
func ApplyEnvOverlay(s *Settings) {
	if v, ok := lookupEnv("apiKey"); ok {
		s.APIKey = v
	}
	if v, ok := lookupEnv("apiUrl"); ok {
		s.APIURL = v
	}
	if v, ok := lookupEnv("debug"); ok {
		s.Debug = v == "1" || v == "true"
	}
}

// ToolsDir is the fixed tool-cache tree, <home>/.todoforai/tools/.
func ToolsDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".todoforai", "tools"), nil
}
