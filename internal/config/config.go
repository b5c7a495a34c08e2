// Package config loads engine configuration from (highest to lowest
// priority): command-line flags, environment variables (AGENTFORGE_*),
// project config (.agentforge/config.yaml in cwd), home config
// (~/.agentforge/config.yaml), and built-in defaults.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all engine configuration.
type Config struct {
	// StorageDir is the SQLite database directory (the file itself is
	// StorageDir/agentforge.db).
	StorageDir string `yaml:"storage_dir"`

	// ArtifactRoot is the ArtifactStore root (e.g. ".agentforge/ao").
	ArtifactRoot string `yaml:"artifact_root"`

	// MaxConcurrentRunningTasks bounds the running-capacity gate.
	MaxConcurrentRunningTasks int `yaml:"max_concurrent_running_tasks"`

	// Phases carries default phase timeouts, overridable per task.
	Phases PhaseConfig `yaml:"phases"`

	// Providers maps a provider key to a command override.
	Providers map[string]string `yaml:"providers"`

	// ArchAudit controls the optional architecture-audit stage.
	ArchAudit ArchAuditConfig `yaml:"arch_audit"`

	// Sandbox controls sandbox bootstrap defaults.
	Sandbox SandboxConfig `yaml:"sandbox"`

	// ControlSchemaCompat is loaded from config files and
	// AWE_CONTROL_SCHEMA_COMPAT. The workflow engine and the consensus
	// subprotocol do not read it: they always parse output with legacy
	// VERDICT:/NEXT_ACTION: control lines off.
	ControlSchemaCompat bool `yaml:"control_schema_compat"`
}

// PhaseConfig carries default per-phase timeouts in seconds.
type PhaseConfig struct {
	ProposalSeconds       int `yaml:"proposal_seconds"`
	DiscussionSeconds     int `yaml:"discussion_seconds"`
	ImplementationSeconds int `yaml:"implementation_seconds"`
	ReviewSeconds         int `yaml:"review_seconds"`
	CommandSeconds        int `yaml:"command_seconds"`
}

// Durations converts the configured second counts to time.Duration.
func (p PhaseConfig) Durations() (proposal, discussion, implementation, review, command time.Duration) {
	return time.Duration(p.ProposalSeconds) * time.Second,
		time.Duration(p.DiscussionSeconds) * time.Second,
		time.Duration(p.ImplementationSeconds) * time.Second,
		time.Duration(p.ReviewSeconds) * time.Second,
		time.Duration(p.CommandSeconds) * time.Second
}

// ArchAuditMode is a closed enum for AWE_ARCH_AUDIT_MODE.
type ArchAuditMode string

const (
	ArchAuditOff  ArchAuditMode = "off"
	ArchAuditWarn ArchAuditMode = "warn"
	ArchAuditHard ArchAuditMode = "hard"
)

// ArchAuditConfig controls the architecture-audit workflow stage.
type ArchAuditConfig struct {
	Mode              ArchAuditMode `yaml:"mode"`
	PythonFileLinesMax int          `yaml:"python_file_lines_max"`
}

// SandboxConfig controls sandbox bootstrap defaults.
type SandboxConfig struct {
	BaseDir      string `yaml:"base_dir"`
	UsePublicBase bool  `yaml:"use_public_base"`
}

// Defaults returns the built-in configuration baseline.
func Defaults() Config {
	return Config{
		StorageDir:                ".agentforge",
		ArtifactRoot:              ".agentforge/ao",
		MaxConcurrentRunningTasks: 4,
		Phases: PhaseConfig{
			ProposalSeconds:       600,
			DiscussionSeconds:     900,
			ImplementationSeconds: 1800,
			ReviewSeconds:         600,
			CommandSeconds:        300,
		},
		Providers: map[string]string{
			"claude": "claude",
			"codex":  "codex",
			"gemini": "gemini",
		},
		ArchAudit: ArchAuditConfig{
			Mode:               ArchAuditOff,
			PythonFileLinesMax: 600,
		},
		Sandbox: SandboxConfig{
			BaseDir:       "",
			UsePublicBase: false,
		},
	}
}

// Option mutates a Config during Load, applied after file/env resolution so
// explicit flags always win — mirrors the teacher's functional-options
// precedence idiom.
type Option func(*Config)

// WithStorageDir overrides the storage directory (flag-level override).
func WithStorageDir(dir string) Option {
	return func(c *Config) {
		if dir != "" {
			c.StorageDir = dir
		}
	}
}

// WithMaxConcurrentRunningTasks overrides the concurrency bound.
func WithMaxConcurrentRunningTasks(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.MaxConcurrentRunningTasks = n
		}
	}
}

// Load resolves configuration with precedence: opts (flags) > environment >
// project file > home file > defaults.
func Load(opts ...Option) (Config, error) {
	cfg := Defaults()

	if home, err := os.UserHomeDir(); err == nil {
		applyFile(&cfg, filepath.Join(home, ".agentforge", "config.yaml"))
	}
	applyFile(&cfg, filepath.Join(".agentforge", "config.yaml"))

	applyEnv(&cfg)

	for _, opt := range opts {
		opt(&cfg)
	}

	return cfg, nil
}

func applyFile(cfg *Config, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	var fileCfg Config
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return
	}
	mergeNonZero(cfg, &fileCfg)
}

// mergeNonZero overlays the non-zero-valued fields of src onto dst.
// Phases, ArchAudit and Sandbox are replaced as whole blocks (Phases when
// proposal_seconds is set, ArchAudit when mode is set); Providers entries
// are merged key by key. Config is small and flat enough that an explicit
// field list is clearer than reflection-based merging.
func mergeNonZero(dst, src *Config) {
	if src.StorageDir != "" {
		dst.StorageDir = src.StorageDir
	}
	if src.ArtifactRoot != "" {
		dst.ArtifactRoot = src.ArtifactRoot
	}
	if src.MaxConcurrentRunningTasks > 0 {
		dst.MaxConcurrentRunningTasks = src.MaxConcurrentRunningTasks
	}
	if src.Phases.ProposalSeconds > 0 {
		dst.Phases = src.Phases
	}
	if len(src.Providers) > 0 {
		for k, v := range src.Providers {
			dst.Providers[k] = v
		}
	}
	if src.ArchAudit.Mode != "" {
		dst.ArchAudit = src.ArchAudit
	}
	if src.Sandbox.BaseDir != "" || src.Sandbox.UsePublicBase {
		dst.Sandbox = src.Sandbox
	}
	if src.ControlSchemaCompat {
		dst.ControlSchemaCompat = true
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("AGENTFORGE_STORAGE_DIR"); v != "" {
		cfg.StorageDir = v
	}
	if v := os.Getenv("AGENTFORGE_MAX_CONCURRENT_RUNNING_TASKS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxConcurrentRunningTasks = n
		}
	}
	// AWE_* names are carried over unchanged from the original
	// implementation's environment-variable contract (spec.md §6).
	if v := os.Getenv("AWE_SANDBOX_BASE"); v != "" {
		cfg.Sandbox.BaseDir = v
	}
	if v := os.Getenv("AWE_SANDBOX_USE_PUBLIC_BASE"); v == "1" || v == "true" {
		cfg.Sandbox.UsePublicBase = true
	}
	if v := os.Getenv("AWE_ARCH_AUDIT_MODE"); v != "" {
		cfg.ArchAudit.Mode = ArchAuditMode(v)
	}
	if v := os.Getenv("AWE_ARCH_PYTHON_FILE_LINES_MAX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ArchAudit.PythonFileLinesMax = n
		}
	}
	if v := os.Getenv("AWE_CONTROL_SCHEMA_COMPAT"); v == "1" || v == "true" {
		cfg.ControlSchemaCompat = true
	}
}
