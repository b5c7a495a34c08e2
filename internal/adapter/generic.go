package adapter

// GenericAdapter serves user-registered providers with no special-cased
// flag behavior: it passes model/model-params through as plain flags and
// streams the prompt over stdin unmodified.
type GenericAdapter struct {
	name    string
	command string
}

// NewGenericAdapter returns a passthrough adapter for an arbitrary provider
// key and command.
func NewGenericAdapter(name, command string) *GenericAdapter {
	return &GenericAdapter{name: name, command: command}
}

func (a *GenericAdapter) Name() string { return a.name }

func (a *GenericAdapter) Capabilities() Capabilities { return Capabilities{} }

func (a *GenericAdapter) BuildArgv(in BuildArgvInput) []string {
	base := a.command
	if in.Base != "" {
		base = in.Base
	}
	argv := []string{base}
	if in.Model != "" {
		argv = append(argv, "--model", in.Model)
	}
	if in.ModelParams != "" {
		argv = append(argv, "--model-params", in.ModelParams)
	}
	return argv
}

func (a *GenericAdapter) PrepareRuntimeInvocation(argv []string, prompt string) ([]string, string) {
	return argv, prompt
}

func (a *GenericAdapter) NormalizeOutput(raw string) string {
	return raw
}
