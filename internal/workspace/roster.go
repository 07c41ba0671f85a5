package workspace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// RosterAgent is one entry in the roster document.
type RosterAgent struct {
	ID           string `json:"id"`
	Name         string `json:"name,omitempty"`
	Workspace    string `json:"workspace"`
	Model        string `json:"model"`
	SystemPrompt string `json:"systemPrompt,omitempty"`
	ParentID     string `json:"parentId,omitempty"`
}

type GatewaySettings struct {
	Port  int    `json:"port"`
	Token string `json:"token,omitempty"`
}

// RosterDoc is the full roster document: agent list plus gateway settings.
// Version increases on every successful write, so a reader can tell whether
// the document changed underneath it.
type RosterDoc struct {
	Version int             `json:"version"`
	Agents  []RosterAgent   `json:"agents"`
	Gateway GatewaySettings `json:"gateway"`
}

// Roster persists a RosterDoc as a single JSON file. Every read and write
// takes a flock on a sibling lock file, and writes go through a temp file
// plus rename, so concurrent writers serialize instead of clobbering.
type Roster struct {
	path     string
	lockPath string
}

func NewRoster(path string) *Roster {
	return &Roster{
		path:     path,
		lockPath: path + ".lock",
	}
}

// Initialize creates an empty roster document if none exists.
func (r *Roster) Initialize() error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("create roster dir: %w", err)
	}
	if _, err := os.Stat(r.path); err == nil {
		return nil
	}
	return r.write(&RosterDoc{Agents: []RosterAgent{}})
}

// Read returns the current document under a shared lock.
func (r *Roster) Read() (*RosterDoc, error) {
	lock, err := r.acquireLock(syscall.LOCK_SH)
	if err != nil {
		return nil, err
	}
	defer r.releaseLock(lock)

	return r.read()
}

// Mutate applies fn to the document under an exclusive lock and persists the
// result atomically with a bumped version stamp.
func (r *Roster) Mutate(fn func(*RosterDoc) error) error {
	lock, err := r.acquireLock(syscall.LOCK_EX)
	if err != nil {
		return err
	}
	defer r.releaseLock(lock)

	doc, err := r.read()
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}
	doc.Version++
	return r.write(doc)
}

func (r *Roster) acquireLock(lockType int) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(r.lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}

	lock, err := os.OpenFile(r.lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := syscall.Flock(int(lock.Fd()), lockType); err != nil {
		_ = lock.Close()
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	return lock, nil
}

func (r *Roster) releaseLock(lock *os.File) {
	_ = syscall.Flock(int(lock.Fd()), syscall.LOCK_UN)
	_ = lock.Close()
}

func (r *Roster) read() (*RosterDoc, error) {
	content, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &RosterDoc{Agents: []RosterAgent{}}, nil
		}
		return nil, fmt.Errorf("read roster: %w", err)
	}

	var doc RosterDoc
	if err := json.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("parse roster: %w", err)
	}
	if doc.Agents == nil {
		doc.Agents = []RosterAgent{}
	}
	return &doc, nil
}

func (r *Roster) write(doc *RosterDoc) error {
	content, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal roster: %w", err)
	}

	tmpPath := r.path + ".tmp"
	if err := os.WriteFile(tmpPath, content, 0o600); err != nil {
		return fmt.Errorf("write temp roster: %w", err)
	}
	if err := os.Rename(tmpPath, r.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp roster: %w", err)
	}
	return nil
}
