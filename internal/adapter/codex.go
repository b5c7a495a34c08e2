package adapter

// CodexAdapter targets the "codex" CLI family. It injects a multi-agent
// enable flag when toggled.
type CodexAdapter struct {
	command string
}

// NewCodexAdapter returns a Codex-family adapter invoking command.
func NewCodexAdapter(command string) *CodexAdapter {
	return &CodexAdapter{command: command}
}

func (a *CodexAdapter) Name() string { return "codex" }

func (a *CodexAdapter) Capabilities() Capabilities {
	return Capabilities{CodexMultiAgents: true}
}

func (a *CodexAdapter) BuildArgv(in BuildArgvInput) []string {
	base := a.command
	if in.Base != "" {
		base = in.Base
	}
	argv := []string{base, "exec"}
	if in.Model != "" {
		argv = append(argv, "--model", in.Model)
	}
	if in.ModelParams != "" {
		argv = append(argv, "--config", in.ModelParams)
	}
	if in.CodexMultiAgents {
		argv = append(argv, "--enable-multi-agent")
	}
	return argv
}

func (a *CodexAdapter) PrepareRuntimeInvocation(argv []string, prompt string) ([]string, string) {
	// codex requires the prompt as a trailing positional argument, not stdin.
	return append(append([]string{}, argv...), prompt), ""
}

func (a *CodexAdapter) NormalizeOutput(raw string) string {
	return stripNoiseLines(raw, "[codex]", "Spawning sandbox")
}
