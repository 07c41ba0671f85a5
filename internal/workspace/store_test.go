package workspace_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/clawncil/clawncil/internal/workspace"
)

func newTestStore(t *testing.T) *workspace.Store {
	t.Helper()
	store := workspace.NewStore(t.TempDir(), "Clawncil Swarm")
	if err := store.EnsureRoot(); err != nil {
		t.Fatalf("ensure root: %v", err)
	}
	return store
}

func readArtifact(t *testing.T, store *workspace.Store, agentID, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(store.AgentDir(agentID), name))
	if err != nil {
		t.Fatalf("read %s: %v", name, err)
	}
	return string(data)
}

func TestProvisionCreatesArtifactSet(t *testing.T) {
	store := newTestStore(t)

	if err := store.Provision("ceo-agent", "CEO Agent", "m1", "lead the company", ""); err != nil {
		t.Fatalf("provision: %v", err)
	}
	if !store.Exists("ceo-agent") {
		t.Fatalf("expected artifact set to exist")
	}

	soul := readArtifact(t, store, "ceo-agent", "SOUL.md")
	if !strings.Contains(soul, "# CEO Agent - SOUL") || !strings.Contains(soul, "lead the company") {
		t.Fatalf("unexpected SOUL.md:\n%s", soul)
	}
	if !strings.Contains(soul, "Parent: None") {
		t.Fatalf("expected Parent: None in SOUL.md")
	}

	memory := readArtifact(t, store, "ceo-agent", "MEMORY.md")
	if memory != "# Memory\n\n" {
		t.Fatalf("unexpected MEMORY.md: %q", memory)
	}

	contextDoc := readArtifact(t, store, "ceo-agent", "CONTEXT.md")
	if !strings.Contains(contextDoc, "**Project:** Clawncil Swarm") {
		t.Fatalf("project name not substituted:\n%s", contextDoc)
	}
	if !strings.Contains(contextDoc, "Agent CEO Agent created") {
		t.Fatalf("decision not substituted:\n%s", contextDoc)
	}

	doc, err := store.Roster().Read()
	if err != nil {
		t.Fatalf("read roster: %v", err)
	}
	if len(doc.Agents) != 1 || doc.Agents[0].ID != "ceo-agent" {
		t.Fatalf("agent not in roster: %+v", doc.Agents)
	}
}

func TestProvisionIdempotentKeepsMemory(t *testing.T) {
	store := newTestStore(t)

	if err := store.Provision("ops", "Ops", "m1", "run ops", ""); err != nil {
		t.Fatalf("provision: %v", err)
	}
	if err := store.AppendMemory("ops", "first exchange"); err != nil {
		t.Fatalf("append memory: %v", err)
	}

	if err := store.Provision("ops", "Ops", "m1", "run ops", ""); err != nil {
		t.Fatalf("re-provision: %v", err)
	}

	memory := readArtifact(t, store, "ops", "MEMORY.md")
	if !strings.Contains(memory, "first exchange") {
		t.Fatalf("re-provision clobbered memory: %q", memory)
	}

	doc, err := store.Roster().Read()
	if err != nil {
		t.Fatalf("read roster: %v", err)
	}
	if len(doc.Agents) != 1 {
		t.Fatalf("expected single roster entry, got %d", len(doc.Agents))
	}
}

func TestAppendMemoryOrder(t *testing.T) {
	store := newTestStore(t)

	if err := store.Provision("ops", "Ops", "m1", "run ops", ""); err != nil {
		t.Fatalf("provision: %v", err)
	}
	if err := store.AppendMemory("ops", "entry one"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.AppendMemory("ops", "entry two"); err != nil {
		t.Fatalf("append: %v", err)
	}

	memory := readArtifact(t, store, "ops", "MEMORY.md")
	first := strings.Index(memory, "entry one")
	second := strings.Index(memory, "entry two")
	if first < 0 || second < 0 || first > second {
		t.Fatalf("entries out of order:\n%s", memory)
	}
	if !strings.HasPrefix(memory, "# Memory\n") {
		t.Fatalf("header rewritten:\n%s", memory)
	}
}

func TestUpdateSoulRewritesAndSyncsRoster(t *testing.T) {
	store := newTestStore(t)

	if err := store.Provision("ops", "Ops", "m1", "run ops", ""); err != nil {
		t.Fatalf("provision: %v", err)
	}
	if err := store.UpdateSoul("ops", "keeps the lights on", "run ops carefully"); err != nil {
		t.Fatalf("update soul: %v", err)
	}

	soul := readArtifact(t, store, "ops", "SOUL.md")
	if !strings.Contains(soul, "## Bio\nkeeps the lights on") {
		t.Fatalf("bio missing:\n%s", soul)
	}
	if !strings.Contains(soul, "## System Prompt\nrun ops carefully") {
		t.Fatalf("prompt missing:\n%s", soul)
	}

	doc, err := store.Roster().Read()
	if err != nil {
		t.Fatalf("read roster: %v", err)
	}
	if doc.Agents[0].SystemPrompt != "run ops carefully" {
		t.Fatalf("roster prompt not synced: %q", doc.Agents[0].SystemPrompt)
	}
}

func TestUpdateSoulReportsRosterFailure(t *testing.T) {
	root := t.TempDir()
	store := workspace.NewStore(root, "Clawncil Swarm")
	if err := store.EnsureRoot(); err != nil {
		t.Fatalf("ensure root: %v", err)
	}
	if err := store.Provision("ops", "Ops", "m1", "run ops", ""); err != nil {
		t.Fatalf("provision: %v", err)
	}

	if err := os.WriteFile(filepath.Join(root, "clawncil.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("corrupt roster: %v", err)
	}

	err := store.UpdateSoul("ops", "bio", "new prompt")
	if err == nil {
		t.Fatalf("expected error when roster sync fails")
	}
	if !strings.Contains(err.Error(), "sync roster") {
		t.Fatalf("unexpected error: %v", err)
	}

	// SOUL.md is still rewritten; only the roster half failed.
	soul := readArtifact(t, store, "ops", "SOUL.md")
	if !strings.Contains(soul, "new prompt") {
		t.Fatalf("SOUL.md not rewritten:\n%s", soul)
	}
}

func TestUpdateContext(t *testing.T) {
	store := newTestStore(t)

	if err := store.Provision("ops", "Ops", "m1", "run ops", ""); err != nil {
		t.Fatalf("provision: %v", err)
	}
	err := store.UpdateContext("ops", workspace.ContextUpdate{
		Decision: "Adopted weekly reviews",
		Status:   "Paused",
	})
	if err != nil {
		t.Fatalf("update context: %v", err)
	}

	contextDoc := readArtifact(t, store, "ops", "CONTEXT.md")
	if !strings.Contains(contextDoc, "Adopted weekly reviews") {
		t.Fatalf("decision not prepended:\n%s", contextDoc)
	}
	if !strings.Contains(contextDoc, "Status:** Paused") {
		t.Fatalf("status not replaced:\n%s", contextDoc)
	}
}

func TestRosterVersionStamp(t *testing.T) {
	store := newTestStore(t)

	doc, err := store.Roster().Read()
	if err != nil {
		t.Fatalf("read roster: %v", err)
	}
	before := doc.Version

	err = store.Roster().Mutate(func(r *workspace.RosterDoc) error {
		r.Gateway.Port = 18789
		return nil
	})
	if err != nil {
		t.Fatalf("mutate roster: %v", err)
	}

	doc, err = store.Roster().Read()
	if err != nil {
		t.Fatalf("read roster: %v", err)
	}
	if doc.Version != before+1 {
		t.Fatalf("version not bumped: %d -> %d", before, doc.Version)
	}
	if doc.Gateway.Port != 18789 {
		t.Fatalf("gateway settings not persisted: %+v", doc.Gateway)
	}
}
