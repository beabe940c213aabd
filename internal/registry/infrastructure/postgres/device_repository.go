package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	registry "beacon-guard/internal/registry/domain"
	"beacon-guard/internal/storage"
)

const defaultDevicesTable = "devices"

// DeviceRepository is the SQL device registry. It serves postgres and sqlite.
type DeviceRepository struct {
	db      storage.DBTX
	dialect storage.Dialect
	table   string
}

// DeviceOption configures the repository.
type DeviceOption func(*DeviceRepository)

// WithDeviceTable overrides the default table name.
func WithDeviceTable(table string) DeviceOption {
	return func(repo *DeviceRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// WithDialect selects the placeholder dialect.
func WithDialect(dialect storage.Dialect) DeviceOption {
	return func(repo *DeviceRepository) {
		if dialect != "" {
			repo.dialect = dialect
		}
	}
}

// NewDeviceRepository constructs a repository.
func NewDeviceRepository(db storage.DBTX, opts ...DeviceOption) *DeviceRepository {
	repo := &DeviceRepository{db: db, dialect: storage.DialectPostgres, table: defaultDevicesTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// ListEnabledDevices loads every enabled device.
func (r *DeviceRepository) ListEnabledDevices(ctx context.Context) ([]registry.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT id, mac, name, enabled, saved_x, saved_y, status, created_at, updated_at
FROM %s
WHERE enabled = $1
ORDER BY id ASC`, r.table)
	return r.list(ctx, query, true)
}

// ListDevices loads all devices including disabled ones.
func (r *DeviceRepository) ListDevices(ctx context.Context) ([]registry.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT id, mac, name, enabled, saved_x, saved_y, status, created_at, updated_at
FROM %s
ORDER BY id ASC`, r.table)
	return r.list(ctx, query)
}

// GetByMAC loads a device by mac. Missing devices return ErrNotFound.
func (r *DeviceRepository) GetByMAC(ctx context.Context, mac string) (*registry.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}
	mac = registry.NormalizeMAC(mac)
	if mac == "" {
		return nil, errors.New("device repo: empty mac")
	}
	query := fmt.Sprintf(`
SELECT id, mac, name, enabled, saved_x, saved_y, status, created_at, updated_at
FROM %s
WHERE mac = $1
LIMIT 1`, r.table)
	device, err := scanDevice(r.db.QueryRowContext(ctx, r.dialect.Rebind(query), mac))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, registry.ErrNotFound
		}
		return nil, err
	}
	return device, nil
}

// UpdateDeviceStatus sets the status for a mac.
func (r *DeviceRepository) UpdateDeviceStatus(ctx context.Context, mac string, status registry.Status) error {
	if r == nil || r.db == nil {
		return errors.New("device repo: nil db")
	}
	if !status.Valid() {
		return errors.New("device repo: invalid status")
	}
	query := fmt.Sprintf(`
UPDATE %s
SET status = $1, updated_at = $2
WHERE mac = $3`, r.table)
	res, err := r.db.ExecContext(ctx, r.dialect.Rebind(query), string(status), time.Now().UTC(), registry.NormalizeMAC(mac))
	if err != nil {
		return err
	}
	return requireRow(res)
}

// UpdateSavedPosition persists the expected position for a mac.
func (r *DeviceRepository) UpdateSavedPosition(ctx context.Context, mac string, pos registry.Position) error {
	if r == nil || r.db == nil {
		return errors.New("device repo: nil db")
	}
	if !pos.Finite() {
		return errors.New("device repo: position not finite")
	}
	query := fmt.Sprintf(`
UPDATE %s
SET saved_x = $1, saved_y = $2, updated_at = $3
WHERE mac = $4`, r.table)
	res, err := r.db.ExecContext(ctx, r.dialect.Rebind(query), pos.X, pos.Y, time.Now().UTC(), registry.NormalizeMAC(mac))
	if err != nil {
		return err
	}
	return requireRow(res)
}

// Save upserts a device by mac and fills its id.
func (r *DeviceRepository) Save(ctx context.Context, device *registry.Device) error {
	if r == nil || r.db == nil {
		return errors.New("device repo: nil db")
	}
	if device == nil {
		return errors.New("device repo: nil device")
	}
	if err := device.Validate(); err != nil {
		return err
	}
	device.MAC = registry.NormalizeMAC(device.MAC)
	if device.Status == "" {
		device.Status = registry.StatusUnknown
	}
	now := time.Now().UTC()
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	device.UpdatedAt = now

	var savedX, savedY sql.NullFloat64
	if device.SavedPosition != nil {
		savedX = sql.NullFloat64{Float64: device.SavedPosition.X, Valid: true}
		savedY = sql.NullFloat64{Float64: device.SavedPosition.Y, Valid: true}
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	mac,
	name,
	enabled,
	saved_x,
	saved_y,
	status,
	created_at,
	updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8
)
ON CONFLICT (mac)
DO UPDATE SET
	name = EXCLUDED.name,
	enabled = EXCLUDED.enabled,
	saved_x = EXCLUDED.saved_x,
	saved_y = EXCLUDED.saved_y,
	status = EXCLUDED.status,
	updated_at = EXCLUDED.updated_at
RETURNING id`, r.table)

	return r.db.QueryRowContext(
		ctx,
		r.dialect.Rebind(query),
		device.MAC,
		device.Name,
		device.Enabled,
		savedX,
		savedY,
		string(device.Status),
		device.CreatedAt,
		device.UpdatedAt,
	).Scan(&device.ID)
}

func (r *DeviceRepository) list(ctx context.Context, query string, args ...any) ([]registry.Device, error) {
	rows, err := r.db.QueryContext(ctx, r.dialect.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []registry.Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *device)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDevice(row rowScanner) (*registry.Device, error) {
	var (
		device registry.Device
		savedX sql.NullFloat64
		savedY sql.NullFloat64
		status string
	)
	if err := row.Scan(
		&device.ID,
		&device.MAC,
		&device.Name,
		&device.Enabled,
		&savedX,
		&savedY,
		&status,
		&device.CreatedAt,
		&device.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if savedX.Valid && savedY.Valid {
		device.SavedPosition = &registry.Position{X: savedX.Float64, Y: savedY.Float64}
	}
	device.MAC = registry.NormalizeMAC(device.MAC)
	device.Status = registry.Status(status)
	device.CreatedAt = device.CreatedAt.UTC()
	device.UpdatedAt = device.UpdatedAt.UTC()
	return &device, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return registry.ErrNotFound
	}
	return nil
}
