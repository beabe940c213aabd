package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	alerts "beacon-guard/internal/alerts/domain"
	"beacon-guard/internal/storage"
)

const (
	defaultAlertsTable  = "alerts"
	defaultDevicesTable = "devices"
	defaultListLimit    = 100
	maxListLimit        = 5000
)

// AlertRepository is the SQL alert log. Rows are only ever inserted.
type AlertRepository struct {
	db      storage.DBTX
	dialect storage.Dialect
	table   string
}

// NewAlertRepository constructs a repository.
func NewAlertRepository(db storage.DBTX, dialect storage.Dialect) *AlertRepository {
	if dialect == "" {
		dialect = storage.DialectPostgres
	}
	return &AlertRepository{db: db, dialect: dialect, table: defaultAlertsTable}
}

// AppendAlert inserts an alert event, assigning an id when missing.
func (r *AlertRepository) AppendAlert(ctx context.Context, event alerts.Event) error {
	if r == nil || r.db == nil {
		return errors.New("alert repo: nil db")
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	if err := event.Validate(); err != nil {
		return err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, device_id, kind, message, created_at)
VALUES ($1, $2, $3, $4, $5)`, r.table)
	_, err := r.db.ExecContext(ctx, r.dialect.Rebind(query),
		event.ID,
		event.DeviceID,
		string(event.Kind),
		event.Message,
		event.CreatedAt.UTC(),
	)
	return err
}

// ListRecent returns the newest alerts first, joined with the device mac.
func (r *AlertRepository) ListRecent(ctx context.Context, limit int) ([]alerts.Event, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	query := fmt.Sprintf(`
SELECT a.id, a.device_id, COALESCE(d.mac, ''), a.kind, a.message, a.created_at
FROM %s a
LEFT JOIN %s d ON d.id = a.device_id
ORDER BY a.created_at DESC, a.id DESC
LIMIT $1`, r.table, defaultDevicesTable)

	rows, err := r.db.QueryContext(ctx, r.dialect.Rebind(query), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []alerts.Event
	for rows.Next() {
		var (
			event alerts.Event
			kind  string
		)
		if err := rows.Scan(&event.ID, &event.DeviceID, &event.MAC, &kind, &event.Message, &event.CreatedAt); err != nil {
			return nil, err
		}
		event.Kind = alerts.Kind(kind)
		event.CreatedAt = event.CreatedAt.UTC()
		result = append(result, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Count returns the number of persisted alerts.
func (r *AlertRepository) Count(ctx context.Context) (int64, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("alert repo: nil db")
	}
	var count int64
	err := r.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", r.table)).Scan(&count)
	return count, err
}
