package adapter

// ClaudeAdapter targets the "claude" CLI family. It injects an agents flag
// when the team-agents toggle is on and the capability is declared.
type ClaudeAdapter struct {
	command string
}

// NewClaudeAdapter returns a Claude-family adapter invoking command.
func NewClaudeAdapter(command string) *ClaudeAdapter {
	return &ClaudeAdapter{command: command}
}

func (a *ClaudeAdapter) Name() string { return "claude" }

func (a *ClaudeAdapter) Capabilities() Capabilities {
	return Capabilities{ClaudeTeamAgents: true}
}

func (a *ClaudeAdapter) BuildArgv(in BuildArgvInput) []string {
	base := a.command
	if in.Base != "" {
		base = in.Base
	}
	argv := []string{base, "--print"}
	if in.Model != "" {
		argv = append(argv, "--model", in.Model)
	}
	if in.ModelParams != "" {
		argv = append(argv, "--model-params", in.ModelParams)
	}
	if in.ClaudeTeamAgents {
		argv = append(argv, "--agents")
	}
	return argv
}

func (a *ClaudeAdapter) PrepareRuntimeInvocation(argv []string, prompt string) ([]string, string) {
	// claude reads the prompt from stdin.
	return argv, prompt
}

func (a *ClaudeAdapter) NormalizeOutput(raw string) string {
	return stripNoiseLines(raw, "[claude]", "Loading model")
}
