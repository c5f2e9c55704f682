package utcp

import (
	"os"
	"path/filepath"

	"github.com/universal-tool-calling-protocol/utcp-go/src/json"
	"github.com/universal-tool-calling-protocol/utcp-go/src/repository"
	"github.com/universal-tool-calling-protocol/utcp-go/src/substitutor"
	"github.com/universal-tool-calling-protocol/utcp-go/src/templates"
)

// ClientConfig is the client's startup state: variables and their loaders,
// manual templates to preload, storage and search choices, and result
// post-processing hooks.
type ClientConfig struct {
	Variables           map[string]string
	LoadVariablesFrom   []substitutor.VariableLoader
	ManualCallTemplates []templates.CallTemplate
	ToolRepository      repository.ToolRepository
	ToolSearchStrategy  ToolSearchStrategy
	PostProcessing      []PostProcessor

	// RootDir anchors relative file paths (text manuals, dotenv files,
	// config files).
	RootDir string
}

// NewClientConfig returns an empty config with defaults applied at client
// construction.
func NewClientConfig() *ClientConfig {
	return &ClientConfig{Variables: map[string]string{}}
}

type rawConfig struct {
	Variables           map[string]string `json:"variables,omitempty"`
	LoadVariablesFrom   []json.RawMessage `json:"load_variables_from,omitempty"`
	ManualCallTemplates []json.RawMessage `json:"manual_call_templates,omitempty"`
	PostProcessing      []json.RawMessage `json:"post_processing,omitempty"`
	RootDir             string            `json:"root_dir,omitempty"`
}

// ParseClientConfig decodes a JSON configuration document. Any decode or
// validation failure is an InvalidConfigError.
func ParseClientConfig(data []byte) (*ClientConfig, error) {
	var raw rawConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &InvalidConfigError{Reason: err.Error()}
	}

	cfg := NewClientConfig()
	if raw.Variables != nil {
		cfg.Variables = raw.Variables
	}
	cfg.RootDir = raw.RootDir

	for _, rawLoader := range raw.LoadVariablesFrom {
		loader, err := parseVariableLoader(rawLoader, cfg.RootDir)
		if err != nil {
			return nil, err
		}
		cfg.LoadVariablesFrom = append(cfg.LoadVariablesFrom, loader)
	}

	for _, rawTpl := range raw.ManualCallTemplates {
		tpl, err := templates.UnmarshalCallTemplate(rawTpl)
		if err != nil {
			return nil, &InvalidConfigError{Reason: "manual call template: " + err.Error()}
		}
		cfg.ManualCallTemplates = append(cfg.ManualCallTemplates, tpl)
	}

	for _, rawProc := range raw.PostProcessing {
		proc, err := parsePostProcessor(rawProc)
		if err != nil {
			return nil, err
		}
		cfg.PostProcessing = append(cfg.PostProcessing, proc)
	}

	return cfg, nil
}

// LoadClientConfig reads and parses a JSON configuration file. Relative
// paths resolve against rootDir when given.
func LoadClientConfig(path, rootDir string) (*ClientConfig, error) {
	if !filepath.IsAbs(path) && rootDir != "" {
		path = filepath.Join(rootDir, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &InvalidConfigError{Reason: err.Error()}
	}
	cfg, err := ParseClientConfig(data)
	if err != nil {
		return nil, err
	}
	if cfg.RootDir == "" {
		cfg.RootDir = rootDir
	}
	return cfg, nil
}

func parseVariableLoader(data json.RawMessage, rootDir string) (substitutor.VariableLoader, error) {
	var head struct {
		Type        string `json:"variable_loader_type"`
		EnvFilePath string `json:"env_file_path"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, &InvalidConfigError{Reason: "variable loader: " + err.Error()}
	}
	switch head.Type {
	case "dotenv":
		if head.EnvFilePath == "" {
			return nil, &InvalidConfigError{Reason: "dotenv loader needs env_file_path"}
		}
		path := head.EnvFilePath
		if !filepath.IsAbs(path) && rootDir != "" {
			path = filepath.Join(rootDir, path)
		}
		return substitutor.NewDotEnvLoader(path), nil
	default:
		return nil, &InvalidConfigError{Reason: "unknown variable loader type " + head.Type}
	}
}

func parsePostProcessor(data json.RawMessage) (PostProcessor, error) {
	var head struct {
		Type string `json:"tool_post_processor_type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, &InvalidConfigError{Reason: "post processor: " + err.Error()}
	}
	switch head.Type {
	case "filter_dict":
		p := &FilterDictPostProcessor{}
		if err := json.Unmarshal(data, p); err != nil {
			return nil, &InvalidConfigError{Reason: "filter_dict post processor: " + err.Error()}
		}
		return p, nil
	case "limit_strings":
		p := &LimitStringsPostProcessor{}
		if err := json.Unmarshal(data, p); err != nil {
			return nil, &InvalidConfigError{Reason: "limit_strings post processor: " + err.Error()}
		}
		return p, nil
	default:
		return nil, &InvalidConfigError{Reason: "unknown post processor type " + head.Type}
	}
}
