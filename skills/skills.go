// Package skills loads methodology playbooks that get folded into the
// system prompt. Playbooks are markdown files an operator drops into the
// workspace playbooks directory.
package skills

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Playbook is one methodology note set, e.g. a recon checklist or a
// reporting routine.
type Playbook struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Notes       string   `yaml:"notes"`
	Tags        []string `yaml:"tags,omitempty"`
	Enabled     bool     `yaml:"enabled"`
}

// Registry holds loaded playbooks.
type Registry struct {
	playbooks map[string]*Playbook
}

// NewRegistry creates an empty playbook registry.
func NewRegistry() *Registry {
	return &Registry{
		playbooks: make(map[string]*Playbook),
	}
}

// Register adds a playbook, replacing any existing one with the same name.
func (r *Registry) Register(p *Playbook) {
	r.playbooks[p.Name] = p
}

// Get returns a playbook by name.
func (r *Registry) Get(name string) (*Playbook, bool) {
	p, ok := r.playbooks[name]
	return p, ok
}

// List returns all playbooks sorted by name, so prompt sections are stable
// across runs.
func (r *Registry) List() []*Playbook {
	playbooks := make([]*Playbook, 0, len(r.playbooks))
	for _, p := range r.playbooks {
		playbooks = append(playbooks, p)
	}
	sort.Slice(playbooks, func(i, j int) bool { return playbooks[i].Name < playbooks[j].Name })
	return playbooks
}

// Enabled returns all enabled playbooks sorted by name.
func (r *Registry) Enabled() []*Playbook {
	var enabled []*Playbook
	for _, p := range r.List() {
		if p.Enabled {
			enabled = append(enabled, p)
		}
	}
	return enabled
}

// Names returns the names of all registered playbooks, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.playbooks))
	for name := range r.playbooks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoadFromDirectory merges all playbooks from a directory into the registry.
// A missing directory is not an error. Supports .yaml/.yml files and .md
// files with optional YAML frontmatter.
func (r *Registry) LoadFromDirectory(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		var (
			playbook *Playbook
			loadErr  error
		)
		switch strings.ToLower(filepath.Ext(name)) {
		case ".yaml", ".yml":
			playbook, loadErr = loadYAMLPlaybook(filepath.Join(dir, name))
		case ".md":
			playbook, loadErr = loadMarkdownPlaybook(filepath.Join(dir, name))
		default:
			continue
		}
		if loadErr != nil {
			return fmt.Errorf("failed to load playbook %s: %w", name, loadErr)
		}
		if playbook != nil {
			r.Register(playbook)
		}
	}

	return nil
}

// ReloadFromDirectory rebuilds the registry from the builtins plus the
// directory contents, so edits and deletions on disk take effect between
// turns. Operator files override builtins of the same name.
func (r *Registry) ReloadFromDirectory(dir string) error {
	r.playbooks = make(map[string]*Playbook)
	r.RegisterBuiltins()
	return r.LoadFromDirectory(dir)
}

func loadYAMLPlaybook(path string) (*Playbook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var p Playbook
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	if p.Name == "" {
		p.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return &p, nil
}

// loadMarkdownPlaybook loads a playbook from a markdown file. An optional
// YAML frontmatter block supplies metadata:
//
//	---
//	name: web-enum
//	description: Web service enumeration routine
//	enabled: true
//	---
//	methodology notes...
//
// Without frontmatter the first '# ' heading names the playbook and the
// rest of the file becomes its notes.
func loadMarkdownPlaybook(path string) (*Playbook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	content := string(data)
	if !strings.HasPrefix(content, "---") {
		name, notes := splitHeading(content)
		if name == "" {
			name = strings.TrimSuffix(filepath.Base(path), ".md")
		}
		return &Playbook{
			Name:    name,
			Notes:   notes,
			Enabled: true,
		}, nil
	}

	parts := strings.SplitN(content[3:], "---", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid frontmatter format")
	}

	var p Playbook
	if err := yaml.Unmarshal([]byte(parts[0]), &p); err != nil {
		return nil, fmt.Errorf("invalid YAML frontmatter: %w", err)
	}
	p.Notes = strings.TrimSpace(parts[1])
	if p.Name == "" {
		p.Name = strings.TrimSuffix(filepath.Base(path), ".md")
	}
	return &p, nil
}

// splitHeading pulls a leading '# ' heading out of markdown content,
// returning the heading text and the remaining body.
func splitHeading(content string) (name, body string) {
	trimmed := strings.TrimLeft(content, "\n \t")
	if !strings.HasPrefix(trimmed, "# ") {
		return "", strings.TrimSpace(content)
	}
	line, rest, _ := strings.Cut(trimmed, "\n")
	return strings.TrimSpace(strings.TrimPrefix(line, "# ")), strings.TrimSpace(rest)
}

// BuildPromptSection renders the enabled playbooks as a prompt section.
// Returns "" when nothing is enabled.
func (r *Registry) BuildPromptSection() string {
	enabled := r.Enabled()
	if len(enabled) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("## Playbooks\n\n")
	sb.WriteString("Apply these methodology playbooks when they match the current engagement:\n\n")
	for _, p := range enabled {
		sb.WriteString(fmt.Sprintf("### %s\n", p.Name))
		if p.Description != "" {
			sb.WriteString(fmt.Sprintf("%s\n\n", p.Description))
		}
		sb.WriteString(p.Notes)
		sb.WriteString("\n\n")
	}
	return sb.String()
}

// RegisterBuiltins registers the playbooks every installation starts with.
// Operator files with the same names override them.
func (r *Registry) RegisterBuiltins() {
	r.Register(&Playbook{
		Name:        "engagement-scope",
		Description: "Stay inside the authorized engagement",
		Notes: `Before any active testing:
1. Confirm the target is part of the authorized scope the user stated
2. Ask for the scope if none has been given yet
3. Prefer the least intrusive technique that answers the question
4. If a finding points outside the scope, report it and stop there
5. Record commands and results so the engagement can be reconstructed`,
		Tags:    []string{"process"},
		Enabled: true,
	})

	r.Register(&Playbook{
		Name:        "staged-recon",
		Description: "Work from passive to active in stages",
		Notes: `When mapping a target:
1. Start with passive sources before touching the host
2. Use focused scans first and widen only when needed
3. Enumerate one service at a time and keep notes per service
4. Verify findings with a second method before reporting them
5. Watch long-running scans with the wait tool instead of re-running them`,
		Tags:    []string{"recon"},
		Enabled: true,
	})

	r.Register(&Playbook{
		Name:        "findings-report",
		Description: "Document findings as you go",
		Notes: `For every confirmed finding:
1. Capture the exact command and the relevant output
2. State the affected host, service, and version
3. Rate the impact and the confidence separately
4. Suggest a remediation the system owner can act on
5. Keep raw evidence out of the summary; reference it instead`,
		Tags:    []string{"reporting"},
		Enabled: true,
	})
}
