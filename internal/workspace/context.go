package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const contextTemplate = `# CONTEXT.md - Active Projects & Recent Decisions

## Current Sprint
- **Project:** {{PROJECT_NAME}}
- **Status:** {{STATUS}}
- **Started:** {{DATE}}
- **Blockers:** None

## Recent Decisions
- {{DATE}}: {{DECISION}}

## Active Agents
{{AGENTS}}

## Open Questions
- {{QUESTION}}

## Notes
- Updated: {{TIMESTAMP}}
`

var (
	statusLine  = regexp.MustCompile(`Status:\*\* \w+`)
	updatedLine = regexp.MustCompile(`Updated: .*`)
)

type ContextUpdate struct {
	Decision string
	Status   string
	Question string
}

// CreateContext writes a fresh CONTEXT.md from the template.
func (s *Store) CreateContext(agentID string, decisions []string) error {
	now := s.nowFn().UTC()
	decision := "Initial setup"
	if len(decisions) > 0 {
		decision = decisions[0]
	}

	replacer := strings.NewReplacer(
		"{{PROJECT_NAME}}", s.projectName,
		"{{STATUS}}", "Active",
		"{{DATE}}", now.Format("2006-01-02"),
		"{{DECISION}}", decision,
		"{{AGENTS}}", "- Agent swarm initialized",
		"{{QUESTION}}", "None",
		"{{TIMESTAMP}}", now.Format(time.RFC3339),
	)
	content := replacer.Replace(contextTemplate)

	path := filepath.Join(s.AgentDir(agentID), "CONTEXT.md")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write CONTEXT.md: %w", err)
	}
	return nil
}

// UpdateContext rewrites the mutable parts of CONTEXT.md: new decisions are
// prepended under the Recent Decisions heading, the sprint status and updated
// timestamp lines are replaced in place. A missing document is recreated from
// the template.
func (s *Store) UpdateContext(agentID string, update ContextUpdate) error {
	path := filepath.Join(s.AgentDir(agentID), "CONTEXT.md")
	raw, err := os.ReadFile(path)
	if err != nil {
		var decisions []string
		if update.Decision != "" {
			decisions = []string{update.Decision}
		}
		return s.CreateContext(agentID, decisions)
	}

	now := s.nowFn().UTC()
	content := string(raw)

	if update.Decision != "" {
		entry := fmt.Sprintf("## Recent Decisions\n- %s: %s", now.Format("2006-01-02"), update.Decision)
		content = strings.Replace(content, "## Recent Decisions", entry, 1)
	}
	if update.Status != "" {
		content = statusLine.ReplaceAllString(content, "Status:** "+update.Status)
	}
	content = updatedLine.ReplaceAllString(content, "Updated: "+now.Format(time.RFC3339))

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write CONTEXT.md: %w", err)
	}
	return nil
}
