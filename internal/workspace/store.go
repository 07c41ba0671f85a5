package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Store is the filesystem half of an agent: a per-agent directory holding
// SOUL.md, MEMORY.md and CONTEXT.md, plus the shared roster document.
type Store struct {
	root        string
	projectName string
	roster      *Roster

	nowFn func() time.Time
}

type Option func(*Store)

func WithClock(nowFn func() time.Time) Option {
	return func(s *Store) {
		if nowFn != nil {
			s.nowFn = nowFn
		}
	}
}

func NewStore(root, projectName string, opts ...Option) *Store {
	s := &Store{
		root:        root,
		projectName: projectName,
		roster:      NewRoster(filepath.Join(root, "clawncil.json")),
		nowFn:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *Store) Root() string    { return s.root }
func (s *Store) Roster() *Roster { return s.roster }

// EnsureRoot creates the workspace root and an empty roster document if they
// do not exist. An existing root is left untouched.
func (s *Store) EnsureRoot() error {
	info, err := os.Stat(s.root)
	if err == nil && !info.IsDir() {
		return fmt.Errorf("%s exists and is not a directory", s.root)
	}
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.MkdirAll(filepath.Join(s.root, "workspace"), 0o755); err != nil {
		return err
	}
	return s.roster.Initialize()
}

func (s *Store) AgentDir(agentID string) string {
	return filepath.Join(s.root, "workspace", agentID)
}

// Exists reports whether the artifact set for agentID has been provisioned.
func (s *Store) Exists(agentID string) bool {
	_, err := os.Stat(filepath.Join(s.AgentDir(agentID), "SOUL.md"))
	return err == nil
}

// Provision creates the agent directory and its three documents, and registers
// the agent in the roster. Safe to call again for the same agent: the
// directory and roster entry are reused and an existing memory log is kept.
func (s *Store) Provision(agentID, name, model, systemPrompt, parentID string) error {
	dir := s.AgentDir(agentID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create agent dir: %w", err)
	}

	err := s.roster.Mutate(func(r *RosterDoc) error {
		for _, a := range r.Agents {
			if a.ID == agentID {
				return nil
			}
		}
		r.Agents = append(r.Agents, RosterAgent{
			ID:           agentID,
			Name:         name,
			Workspace:    dir,
			Model:        model,
			SystemPrompt: systemPrompt,
			ParentID:     parentID,
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("register agent in roster: %w", err)
	}

	now := s.nowFn().UTC()
	parent := parentID
	if parent == "" {
		parent = "None"
	}
	soul := fmt.Sprintf(`# %s - SOUL

## Identity
%s

## Purpose
Agent in the %s for project management and execution.

## Capabilities
- Task execution
- Collaboration with other agents
- Communication via chat

## Notes
Created: %s
Model: %s
Parent: %s
`, name, systemPrompt, s.projectName, now.Format(time.RFC3339), model, parent)
	if err := os.WriteFile(filepath.Join(dir, "SOUL.md"), []byte(soul), 0o644); err != nil {
		return fmt.Errorf("write SOUL.md: %w", err)
	}

	memoryPath := filepath.Join(dir, "MEMORY.md")
	if _, err := os.Stat(memoryPath); os.IsNotExist(err) {
		if err := os.WriteFile(memoryPath, []byte("# Memory\n\n"), 0o644); err != nil {
			return fmt.Errorf("write MEMORY.md: %w", err)
		}
	}

	decisions := []string{
		fmt.Sprintf("Agent %s created", name),
		fmt.Sprintf("Model: %s", model),
	}
	if err := s.CreateContext(agentID, decisions); err != nil {
		return err
	}
	return nil
}

// UpdateSoul overwrites SOUL.md with a bio/prompt block and syncs the roster
// entry's system prompt. The two writes are not atomic with each other; a
// roster failure is returned so callers can see the desync, with SOUL.md
// already rewritten.
func (s *Store) UpdateSoul(agentID, bio, systemPrompt string) error {
	dir := s.AgentDir(agentID)
	now := s.nowFn().UTC()
	soul := fmt.Sprintf(`# %s - SOUL

## Bio
%s

## System Prompt
%s

## Notes
Updated: %s
`, agentID, bio, systemPrompt, now.Format(time.RFC3339))
	if err := os.WriteFile(filepath.Join(dir, "SOUL.md"), []byte(soul), 0o644); err != nil {
		return fmt.Errorf("write SOUL.md: %w", err)
	}

	err := s.roster.Mutate(func(r *RosterDoc) error {
		for i := range r.Agents {
			if r.Agents[i].ID == agentID {
				r.Agents[i].SystemPrompt = systemPrompt
				break
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("sync roster: %w", err)
	}
	return nil
}

// AppendMemory appends a timestamped block to the agent's memory log. The log
// is append-only and unbounded.
func (s *Store) AppendMemory(agentID, entry string) error {
	path := filepath.Join(s.AgentDir(agentID), "MEMORY.md")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open memory log: %w", err)
	}
	defer f.Close()

	block := fmt.Sprintf("\n## %s\n%s\n", s.nowFn().UTC().Format(time.RFC3339), entry)
	if _, err := f.WriteString(block); err != nil {
		return fmt.Errorf("append memory: %w", err)
	}
	return nil
}
