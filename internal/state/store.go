package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/clawncil/clawncil/internal/idgen"
)

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const (
	StatusIdle    = "idle"
	StatusBusy    = "busy"
	StatusOffline = "offline"

	ProvisionPending = "pending"
	ProvisionReady   = "ready"
)

type Agent struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Bio            string    `json:"bio"`
	SystemPrompt   string    `json:"system_prompt"`
	Model          string    `json:"model"`
	ParentID       string    `json:"parent_id,omitempty"`
	Status         string    `json:"status"`
	ProvisionState string    `json:"provision_state"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type AgentFields struct {
	ID           string
	Name         string
	Bio          string
	SystemPrompt string
	Model        string
	ParentID     string
}

// AgentPatch carries a partial agent update. Nil fields are left unchanged.
type AgentPatch struct {
	Bio          *string
	SystemPrompt *string
	Model        *string
	Status       *string
}

type Project struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Message struct {
	ID         string    `json:"id"`
	RoomID     string    `json:"room_id"`
	SenderID   string    `json:"sender_id"`
	SenderType string    `json:"sender_type"`
	Content    string    `json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

// CreateAgent inserts a new agent row in provision_state "pending". The store
// owns slug uniqueness: on collision the id is suffixed with -2, -3, ... until
// the insert succeeds, and the final id is reported in the returned Agent.
func (s *Store) CreateAgent(ctx context.Context, fields AgentFields) (Agent, error) {
	if strings.TrimSpace(fields.Name) == "" {
		return Agent{}, &ValidationError{Field: "name"}
	}
	if strings.TrimSpace(fields.Model) == "" {
		return Agent{}, &ValidationError{Field: "model"}
	}
	base := fields.ID
	if base == "" {
		base = idgen.Slug(fields.Name)
	}
	if err := idgen.ValidateSlug(base); err != nil {
		return Agent{}, &ValidationError{Field: "id"}
	}

	now := time.Now().UTC()
	status := StatusIdle
	for attempt := 1; attempt <= 50; attempt++ {
		id := base
		if attempt > 1 {
			id = fmt.Sprintf("%s-%d", base, attempt)
		}
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO agents (id, name, bio, system_prompt, model, parent_id, status, provision_state, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, id, fields.Name, fields.Bio, fields.SystemPrompt, fields.Model, nullString(fields.ParentID),
			status, ProvisionPending, now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
		if err != nil {
			if isUniqueViolation(err) {
				continue
			}
			return Agent{}, fmt.Errorf("insert agent: %w", err)
		}
		return Agent{
			ID:             id,
			Name:           fields.Name,
			Bio:            fields.Bio,
			SystemPrompt:   fields.SystemPrompt,
			Model:          fields.Model,
			ParentID:       fields.ParentID,
			Status:         status,
			ProvisionState: ProvisionPending,
			CreatedAt:      now,
			UpdatedAt:      now,
		}, nil
	}
	return Agent{}, fmt.Errorf("allocate agent id for %q: %w", base, ErrConflict)
}

func (s *Store) GetAgent(ctx context.Context, id string) (Agent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, bio, system_prompt, model, parent_id, status, provision_state, created_at, updated_at
		FROM agents WHERE id = ?
	`, id)
	agent, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Agent{}, fmt.Errorf("agent %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Agent{}, fmt.Errorf("load agent: %w", err)
	}
	return agent, nil
}

// ListAgents returns all agents in creation order.
func (s *Store) ListAgents(ctx context.Context) ([]Agent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, bio, system_prompt, model, parent_id, status, provision_state, created_at, updated_at
		FROM agents ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var out []Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		out = append(out, agent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agents: %w", err)
	}
	return out, nil
}

func (s *Store) UpdateAgent(ctx context.Context, id string, patch AgentPatch) (Agent, error) {
	if patch.Status != nil {
		switch *patch.Status {
		case StatusIdle, StatusBusy, StatusOffline:
		default:
			return Agent{}, &ValidationError{Field: "status"}
		}
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE agents SET
			bio = COALESCE(?, bio),
			system_prompt = COALESCE(?, system_prompt),
			model = COALESCE(?, model),
			status = COALESCE(?, status),
			updated_at = ?
		WHERE id = ?
	`, nullStringPtr(patch.Bio), nullStringPtr(patch.SystemPrompt), nullStringPtr(patch.Model),
		nullStringPtr(patch.Status), now.Format(time.RFC3339Nano), id)
	if err != nil {
		return Agent{}, fmt.Errorf("update agent: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return Agent{}, fmt.Errorf("update agent: %w", err)
	}
	if affected == 0 {
		return Agent{}, fmt.Errorf("agent %s: %w", id, ErrNotFound)
	}
	return s.GetAgent(ctx, id)
}

func (s *Store) MarkAgentReady(ctx context.Context, id string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `UPDATE agents SET provision_state = ?, updated_at = ? WHERE id = ?`,
		ProvisionReady, now.Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("mark agent ready: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark agent ready: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("agent %s: %w", id, ErrNotFound)
	}
	return nil
}

// ListPendingAgents returns agents whose workspace provisioning never
// committed, in creation order.
func (s *Store) ListPendingAgents(ctx context.Context) ([]Agent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, bio, system_prompt, model, parent_id, status, provision_state, created_at, updated_at
		FROM agents WHERE provision_state = ? ORDER BY created_at ASC, id ASC
	`, ProvisionPending)
	if err != nil {
		return nil, fmt.Errorf("list pending agents: %w", err)
	}
	defer rows.Close()

	var out []Agent
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		out = append(out, agent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agents: %w", err)
	}
	return out, nil
}

func (s *Store) CreateProject(ctx context.Context, name, description string) (Project, error) {
	if strings.TrimSpace(name) == "" {
		return Project{}, &ValidationError{Field: "name"}
	}
	id := idgen.New()
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, id, name, nullString(description), now.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	if err != nil {
		return Project{}, fmt.Errorf("insert project: %w", err)
	}
	return Project{ID: id, Name: name, Description: description, CreatedAt: now, UpdatedAt: now}, nil
}

func (s *Store) ListProjects(ctx context.Context) ([]Project, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, created_at, updated_at
		FROM projects ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var out []Project
	for rows.Next() {
		var p Project
		var description sql.NullString
		var createdAtStr, updatedAtStr string
		if err := rows.Scan(&p.ID, &p.Name, &description, &createdAtStr, &updatedAtStr); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		p.Description = description.String
		p.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAtStr)
		p.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAtStr)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return out, nil
}

func (s *Store) InsertMessage(ctx context.Context, roomID, senderID, senderType, content string) (Message, error) {
	if strings.TrimSpace(roomID) == "" {
		return Message{}, &ValidationError{Field: "room_id"}
	}
	if strings.TrimSpace(content) == "" {
		return Message{}, &ValidationError{Field: "content"}
	}
	switch senderType {
	case "user", "agent":
	default:
		return Message{}, &ValidationError{Field: "sender_type"}
	}
	id := idgen.New()
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, room_id, sender_id, sender_type, content, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, roomID, senderID, senderType, content, now.Format(time.RFC3339Nano))
	if err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}
	return Message{ID: id, RoomID: roomID, SenderID: senderID, SenderType: senderType, Content: content, CreatedAt: now}, nil
}

func (s *Store) ListMessages(ctx context.Context, roomID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, room_id, sender_id, sender_type, content, created_at
		FROM messages WHERE room_id = ? ORDER BY created_at ASC, id ASC LIMIT ?
	`, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var createdAtStr string
		if err := rows.Scan(&m.ID, &m.RoomID, &m.SenderID, &m.SenderType, &m.Content, &createdAtStr); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAtStr)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return out, nil
}

type agentScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row agentScanner) (Agent, error) {
	var agent Agent
	var bio, systemPrompt, parentID sql.NullString
	var createdAtStr, updatedAtStr string
	err := row.Scan(&agent.ID, &agent.Name, &bio, &systemPrompt, &agent.Model, &parentID,
		&agent.Status, &agent.ProvisionState, &createdAtStr, &updatedAtStr)
	if err != nil {
		return Agent{}, err
	}
	agent.Bio = bio.String
	agent.SystemPrompt = systemPrompt.String
	agent.ParentID = parentID.String
	agent.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAtStr)
	agent.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAtStr)
	return agent, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
