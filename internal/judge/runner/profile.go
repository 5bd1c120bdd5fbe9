package runner

import (
	"fmt"
	"strings"

	"github.com/google/shlex"
)

// LanguageProfile describes how to compile and run one language.
// Command templates are shell-lexed; {src} and {bin} placeholders are
// replaced with the source and binary paths inside the workspace.
type LanguageProfile struct {
	ID             string `yaml:"id"`
	SourceFile     string `yaml:"sourceFile"`
	BinaryFile     string `yaml:"binaryFile"`
	CompileEnabled bool   `yaml:"compileEnabled"`
	CompileCmd     string `yaml:"compileCmd"`
	RunCmd         string `yaml:"runCmd"`

	// CompileTimeLimitMs bounds the compile step; run limits come from the
	// problem, not the profile.
	CompileTimeLimitMs int64 `yaml:"compileTimeLimitMs"`
	CompileMemoryMB    int64 `yaml:"compileMemoryMB"`
}

// ProfileRegistry resolves language ids to profiles.
type ProfileRegistry struct {
	profiles map[string]LanguageProfile
}

// NewProfileRegistry builds a registry from configured profiles. An empty
// list falls back to the built-in defaults.
func NewProfileRegistry(profiles []LanguageProfile) (*ProfileRegistry, error) {
	if len(profiles) == 0 {
		profiles = DefaultProfiles()
	}
	index := make(map[string]LanguageProfile, len(profiles))
	for _, p := range profiles {
		if p.ID == "" {
			return nil, fmt.Errorf("language profile missing id")
		}
		if p.SourceFile == "" {
			return nil, fmt.Errorf("language %s: sourceFile is required", p.ID)
		}
		if p.RunCmd == "" {
			return nil, fmt.Errorf("language %s: runCmd is required", p.ID)
		}
		if p.CompileEnabled && p.CompileCmd == "" {
			return nil, fmt.Errorf("language %s: compileCmd is required when compile is enabled", p.ID)
		}
		if p.CompileTimeLimitMs <= 0 {
			p.CompileTimeLimitMs = 15000
		}
		if p.CompileMemoryMB <= 0 {
			p.CompileMemoryMB = 1024
		}
		index[p.ID] = p
	}
	return &ProfileRegistry{profiles: index}, nil
}

// Get returns the profile for a language id.
func (r *ProfileRegistry) Get(language string) (LanguageProfile, bool) {
	p, ok := r.profiles[language]
	return p, ok
}

// Supported reports whether the language id has a profile.
func (r *ProfileRegistry) Supported(language string) bool {
	_, ok := r.profiles[language]
	return ok
}

// Languages returns the ids of all registered profiles.
func (r *ProfileRegistry) Languages() []string {
	ids := make([]string, 0, len(r.profiles))
	for id := range r.profiles {
		ids = append(ids, id)
	}
	return ids
}

// BuildArgv renders a command template into an argv slice.
func BuildArgv(template, srcPath, binPath string) ([]string, error) {
	rendered := strings.NewReplacer("{src}", srcPath, "{bin}", binPath).Replace(template)
	argv, err := shlex.Split(rendered)
	if err != nil {
		return nil, fmt.Errorf("parse command template %q: %w", template, err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("command template %q produced no arguments", template)
	}
	return argv, nil
}

// DefaultProfiles returns the built-in language set.
func DefaultProfiles() []LanguageProfile {
	return []LanguageProfile{
		{
			ID:             "cpp17",
			SourceFile:     "main.cpp",
			BinaryFile:     "main",
			CompileEnabled: true,
			CompileCmd:     "g++ -O2 -std=c++17 -o {bin} {src}",
			RunCmd:         "{bin}",
		},
		{
			ID:             "c11",
			SourceFile:     "main.c",
			BinaryFile:     "main",
			CompileEnabled: true,
			CompileCmd:     "gcc -O2 -std=c11 -o {bin} {src}",
			RunCmd:         "{bin}",
		},
		{
			ID:         "python3",
			SourceFile: "main.py",
			RunCmd:     "python3 {src}",
		},
		{
			ID:             "go",
			SourceFile:     "main.go",
			BinaryFile:     "main",
			CompileEnabled: true,
			CompileCmd:     "go build -o {bin} {src}",
			RunCmd:         "{bin}",
		},
	}
}
