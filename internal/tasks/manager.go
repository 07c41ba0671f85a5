package tasks

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/clawncil/clawncil/internal/eventbus"
	"github.com/clawncil/clawncil/internal/idgen"
)

type Status string

const (
	StatusTodo      Status = "todo"
	StatusQueued    Status = "queued"
	StatusProgress  Status = "progress"
	StatusReview    Status = "review"
	StatusCompleted Status = "completed"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

var ErrNotFound = errors.New("task not found")

type Task struct {
	ID          string    `json:"id"`
	ProjectID   string    `json:"project_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Status      Status    `json:"status"`
	Priority    Priority  `json:"priority"`
	Assignee    string    `json:"assignee,omitempty"`
	Tags        []string  `json:"tags"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Spec struct {
	ProjectID   string   `json:"project_id"`
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Status      Status   `json:"status,omitempty"`
	Priority    Priority `json:"priority,omitempty"`
	Assignee    string   `json:"assignee,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// Patch carries a partial task update. Nil fields are left unchanged; tags and
// project_id are not updatable at all.
type Patch struct {
	Title       *string   `json:"title,omitempty"`
	Description *string   `json:"description,omitempty"`
	Status      *Status   `json:"status,omitempty"`
	Priority    *Priority `json:"priority,omitempty"`
	Assignee    *string   `json:"assignee,omitempty"`
}

type ListFilter struct {
	ProjectID string
	Status    Status
	Limit     int
}

type Manager struct {
	db  *sql.DB
	bus *eventbus.Bus

	nowFn   func() time.Time
	newIDFn func() string
}

type Option func(*Manager)

func WithClock(nowFn func() time.Time) Option {
	return func(m *Manager) {
		if nowFn != nil {
			m.nowFn = nowFn
		}
	}
}

func WithIDGenerator(newIDFn func() string) Option {
	return func(m *Manager) {
		if newIDFn != nil {
			m.newIDFn = newIDFn
		}
	}
}

func NewManager(db *sql.DB, bus *eventbus.Bus, opts ...Option) *Manager {
	m := &Manager{
		db:      db,
		bus:     bus,
		nowFn:   func() time.Time { return time.Now().UTC() },
		newIDFn: idgen.New,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

func (m *Manager) now() time.Time {
	return m.nowFn().UTC()
}

func ValidStatus(s Status) bool {
	switch s {
	case StatusTodo, StatusQueued, StatusProgress, StatusReview, StatusCompleted:
		return true
	}
	return false
}

func ValidPriority(p Priority) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

func (m *Manager) Create(ctx context.Context, spec Spec) (Task, error) {
	if strings.TrimSpace(spec.Title) == "" {
		return Task{}, fmt.Errorf("task title is required")
	}
	if strings.TrimSpace(spec.ProjectID) == "" {
		return Task{}, fmt.Errorf("project id is required")
	}
	status := spec.Status
	if status == "" {
		status = StatusTodo
	}
	if !ValidStatus(status) {
		return Task{}, fmt.Errorf("invalid task status %q", status)
	}
	priority := spec.Priority
	if priority == "" {
		priority = PriorityMedium
	}
	if !ValidPriority(priority) {
		return Task{}, fmt.Errorf("invalid task priority %q", priority)
	}
	tags := spec.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return Task{}, fmt.Errorf("encode tags: %w", err)
	}

	id := m.newIDFn()
	createdAt := m.now()
	_, err = m.db.ExecContext(ctx, `
		INSERT INTO tasks (id, project_id, title, description, status, priority, assignee, tags, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, spec.ProjectID, spec.Title, nullString(spec.Description), status, priority,
		nullString(spec.Assignee), string(tagsJSON), createdAt.Format(time.RFC3339Nano), createdAt.Format(time.RFC3339Nano))
	if err != nil {
		return Task{}, fmt.Errorf("insert task: %w", err)
	}

	task := Task{
		ID:          id,
		ProjectID:   spec.ProjectID,
		Title:       spec.Title,
		Description: spec.Description,
		Status:      status,
		Priority:    priority,
		Assignee:    spec.Assignee,
		Tags:        tags,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}
	m.notify(ctx, task, "created")
	return task, nil
}

func (m *Manager) Get(ctx context.Context, taskID string) (Task, error) {
	row := m.db.QueryRowContext(ctx, `
		SELECT id, project_id, title, description, status, priority, assignee, tags, created_at, updated_at
		FROM tasks WHERE id = ?
	`, taskID)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	if err != nil {
		return Task{}, fmt.Errorf("load task: %w", err)
	}
	return task, nil
}

func (m *Manager) List(ctx context.Context, filter ListFilter) ([]Task, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	where := "WHERE 1=1"
	args := []any{}
	if filter.ProjectID != "" {
		where += " AND project_id = ?"
		args = append(args, filter.ProjectID)
	}
	if filter.Status != "" {
		if !ValidStatus(filter.Status) {
			return nil, fmt.Errorf("invalid task status %q", filter.Status)
		}
		where += " AND status = ?"
		args = append(args, filter.Status)
	}
	args = append(args, limit)

	rows, err := m.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, project_id, title, description, status, priority, assignee, tags, created_at, updated_at
		FROM tasks %s ORDER BY created_at DESC, id DESC LIMIT ?
	`, where), args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return out, nil
}

// Update applies a partial update. Omitted fields keep their stored values;
// tags and project_id are never written by this path.
func (m *Manager) Update(ctx context.Context, taskID string, patch Patch) (Task, error) {
	if patch.Status != nil && !ValidStatus(*patch.Status) {
		return Task{}, fmt.Errorf("invalid task status %q", *patch.Status)
	}
	if patch.Priority != nil && !ValidPriority(*patch.Priority) {
		return Task{}, fmt.Errorf("invalid task priority %q", *patch.Priority)
	}
	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		return Task{}, fmt.Errorf("task title is required")
	}

	now := m.now()
	res, err := m.db.ExecContext(ctx, `
		UPDATE tasks SET
			title = COALESCE(?, title),
			description = COALESCE(?, description),
			status = COALESCE(?, status),
			priority = COALESCE(?, priority),
			assignee = COALESCE(?, assignee),
			updated_at = ?
		WHERE id = ?
	`, nullStringPtr(patch.Title), nullStringPtr(patch.Description), nullStatusPtr(patch.Status),
		nullPriorityPtr(patch.Priority), nullStringPtr(patch.Assignee), now.Format(time.RFC3339Nano), taskID)
	if err != nil {
		return Task{}, fmt.Errorf("update task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return Task{}, fmt.Errorf("update task: %w", err)
	}
	if affected == 0 {
		return Task{}, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}

	task, err := m.Get(ctx, taskID)
	if err != nil {
		return Task{}, err
	}
	m.notify(ctx, task, "updated")
	return task, nil
}

func (m *Manager) Delete(ctx context.Context, taskID string) error {
	res, err := m.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, taskID)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	return nil
}

func (m *Manager) notify(ctx context.Context, task Task, action string) {
	if m.bus == nil {
		return
	}
	_, _ = m.bus.Push(ctx, eventbus.EventInput{
		Stream:    eventbus.StreamTaskUpdates,
		ScopeType: "project",
		ScopeID:   task.ProjectID,
		Subject:   task.Title,
		Body:      fmt.Sprintf("task %s %s", task.ID, action),
		Metadata: map[string]any{
			"task_id": task.ID,
			"status":  string(task.Status),
			"action":  action,
		},
	})
}

type taskScanner interface {
	Scan(dest ...any) error
}

func scanTask(row taskScanner) (Task, error) {
	var task Task
	var description, assignee, tagsStr sql.NullString
	var createdAtStr, updatedAtStr string
	err := row.Scan(&task.ID, &task.ProjectID, &task.Title, &description, &task.Status,
		&task.Priority, &assignee, &tagsStr, &createdAtStr, &updatedAtStr)
	if err != nil {
		return Task{}, err
	}
	task.Description = description.String
	task.Assignee = assignee.String
	task.Tags = decodeTags(tagsStr.String)
	task.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAtStr)
	task.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAtStr)
	return task, nil
}

func decodeTags(v string) []string {
	if v == "" {
		return []string{}
	}
	var out []string
	if err := json.Unmarshal([]byte(v), &out); err != nil {
		return []string{}
	}
	return out
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullStatusPtr(v *Status) any {
	if v == nil {
		return nil
	}
	return string(*v)
}

func nullPriorityPtr(v *Priority) any {
	if v == nil {
		return nil
	}
	return string(*v)
}
