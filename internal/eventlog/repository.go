// Package eventlog persists camera session events to SQLite and serves
// them back in pages, newest first.
package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-camera/internal/camera"
)

// Page size bounds for List.
const (
	DefaultLimit = 50
	MaxLimit     = 200
)

// timeLayout is fixed width so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// Entry is one stored camera event.
type Entry struct {
	ID            string           `json:"id"`
	Type          camera.EventType `json:"type"`
	CameraIndex   int              `json:"camera_index"`
	State         camera.State     `json:"state"`
	Detail        map[string]any   `json:"detail,omitempty"`
	Error         string           `json:"error,omitempty"`
	SnapshotBytes *int             `json:"snapshot_bytes,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}

// FromEvent converts a session event into a storable entry.
func FromEvent(e camera.Event) *Entry {
	entry := &Entry{
		ID:          e.ID,
		Type:        e.Type,
		CameraIndex: e.CameraIndex,
		State:       e.State,
		Detail:      e.Detail,
		Error:       e.Err,
		CreatedAt:   e.Time,
	}
	if e.Snapshot != nil {
		n := len(e.Snapshot.JPEG)
		entry.SnapshotBytes = &n
	}
	return entry
}

// Filter controls which events List returns.
type Filter struct {
	Type   string // optional: one of camera.AllEventTypes
	Limit  int    // default 50, max 200
	Offset int
}

// ListResult contains one page of events.
type ListResult struct {
	Events []Entry `json:"events"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

// Repository defines the event log operations.
type Repository interface {
	Create(ctx context.Context, entry *Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository stores events in the camera_events table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new event log repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts an entry. CreatedAt defaults to now.
func (r *SQLiteRepository) Create(ctx context.Context, entry *Entry) error {
	if entry.ID == "" {
		return ErrMissingID
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	var detailJSON *string
	if entry.Detail != nil {
		b, err := json.Marshal(entry.Detail)
		if err != nil {
			return fmt.Errorf("marshalling event detail: %w", err)
		}
		s := string(b)
		detailJSON = &s
	}

	var snapshotBytes any
	if entry.SnapshotBytes != nil {
		snapshotBytes = *entry.SnapshotBytes
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO camera_events (id, type, camera_index, state, detail, error, snapshot_bytes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, string(entry.Type), entry.CameraIndex, string(entry.State),
		detailJSON, nullableString(entry.Error), snapshotBytes,
		entry.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting camera event: %w", err)
	}

	return nil
}

// nullableString maps "" to SQL NULL.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// normalize clamps the page bounds and validates the type filter.
func (f *Filter) normalize() error {
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	if f.Type == "" {
		return nil
	}
	for _, t := range camera.AllEventTypes {
		if string(t) == f.Type {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownType, f.Type)
}

// List returns events matching the filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if err := filter.normalize(); err != nil {
		return nil, err
	}

	var conditions []string
	var args []any
	if filter.Type != "" {
		conditions = append(conditions, "type = ?")
		args = append(args, filter.Type)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM camera_events %s", where) //nolint:gosec // WHERE built from parameterised conditions, not user input
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting camera events: %w", err)
	}

	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions, not user input
		`SELECT id, type, camera_index, state, detail, error, snapshot_bytes, created_at
		 FROM camera_events %s ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`,
		where,
	)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying camera events: %w", err)
	}
	defer rows.Close()

	events := []Entry{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating camera events: %w", err)
	}

	return &ListResult{
		Events: events,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}, nil
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var (
		entry         Entry
		typ, state    string
		detailJSON    sql.NullString
		errText       sql.NullString
		snapshotBytes sql.NullInt64
		createdAt     string
	)

	if err := rows.Scan(&entry.ID, &typ, &entry.CameraIndex, &state,
		&detailJSON, &errText, &snapshotBytes, &createdAt); err != nil {
		return Entry{}, fmt.Errorf("scanning camera event: %w", err)
	}

	entry.Type = camera.EventType(typ)
	entry.State = camera.State(state)
	if errText.Valid {
		entry.Error = errText.String
	}
	if snapshotBytes.Valid {
		n := int(snapshotBytes.Int64)
		entry.SnapshotBytes = &n
	}
	if detailJSON.Valid && detailJSON.String != "" {
		var detail map[string]any
		if json.Unmarshal([]byte(detailJSON.String), &detail) == nil {
			entry.Detail = detail
		}
	}

	t, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		t, err = time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return Entry{}, fmt.Errorf("parsing camera event timestamp %q: %w", createdAt, err)
		}
	}
	entry.CreatedAt = t

	return entry, nil
}
