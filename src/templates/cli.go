package templates

// CommandStep is one command of a multi-step CLI tool. Earlier step outputs
// are exposed to later steps as CMD_<i>_OUTPUT environment variables.
type CommandStep struct {
	Command string `json:"command"`

	// AppendToFinalOutput controls whether this step's output contributes
	// to the returned payload. Nil means only the last step contributes.
	AppendToFinalOutput *bool `json:"append_to_final_output,omitempty"`
}

// CliCallTemplate configures a local subprocess endpoint.
type CliCallTemplate struct {
	BaseCallTemplate

	// Commands is the modern multi-step form.
	Commands []CommandStep `json:"commands,omitempty"`

	// CommandName is the legacy single-command form.
	CommandName string `json:"command_name,omitempty"`

	EnvVars    map[string]string `json:"env_vars,omitempty"`
	WorkingDir *string           `json:"working_dir,omitempty"`
}

// NewCliCallTemplate constructs a CliCallTemplate from a single command.
func NewCliCallTemplate(name, command string) *CliCallTemplate {
	return &CliCallTemplate{
		BaseCallTemplate: BaseCallTemplate{Name: name, CallTemplateType: TemplateCLI},
		CommandName:      command,
	}
}

// Steps normalizes the legacy single-command form into command steps.
func (t *CliCallTemplate) Steps() []CommandStep {
	if len(t.Commands) > 0 {
		return t.Commands
	}
	if t.CommandName != "" {
		return []CommandStep{{Command: t.CommandName}}
	}
	return nil
}
