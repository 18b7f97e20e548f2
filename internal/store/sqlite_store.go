package store

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/devrev/paracore/internal/model"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS objects (
	tenant_id TEXT NOT NULL,
	id        TEXT NOT NULL,
	type      TEXT NOT NULL,
	version   INTEGER NOT NULL DEFAULT 0,
	created   INTEGER NOT NULL,
	updated   INTEGER NOT NULL,
	data      TEXT NOT NULL,
	PRIMARY KEY (tenant_id, id)
);
CREATE INDEX IF NOT EXISTS idx_objects_tenant_type ON objects (tenant_id, type);
`

// sqlExecer is satisfied by both *sql.DB and *sql.Tx
type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// SQLiteStore implements Store on an embedded SQLite database.
// Objects are kept as JSON documents next to the columns needed for scans and locking.
type SQLiteStore struct {
	db     *sql.DB
	now    func() time.Time
	logger *zap.Logger
}

// OpenSQLite opens and migrates a SQLite store at path
func OpenSQLite(path string, logger *zap.Logger) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// a single writer connection avoids SQLITE_BUSY under concurrent batches
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sqlite db: %w", err)
	}

	logger.Info("SQLite store opened", zap.String("path", path))
	return &SQLiteStore{db: db, now: time.Now, logger: logger}, nil
}

// Name returns the backend name
func (s *SQLiteStore) Name() string {
	return "sqlite"
}

// Ping checks the database connection
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the database handle
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Create inserts an object; with locking enabled an existing record causes a version conflict
func (s *SQLiteStore) Create(ctx context.Context, tenantID string, obj *model.Object) (string, error) {
	if err := requireID(obj); err != nil {
		return "", err
	}
	if err := s.create(ctx, s.db, tenantID, obj); err != nil {
		return "", err
	}
	return obj.ID, nil
}

func (s *SQLiteStore) create(ctx context.Context, ex sqlExecer, tenantID string, obj *model.Object) error {
	locking := obj.LockingEnabled()
	prepareCreate(obj, s.now().UnixMilli())
	data, err := encodeObject(obj)
	if err != nil {
		return err
	}

	query := `INSERT INTO objects (tenant_id, id, type, version, created, updated, data)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, id) DO UPDATE SET
			type = excluded.type, version = excluded.version, created = excluded.created,
			updated = excluded.updated, data = excluded.data`
	if locking {
		query = `INSERT INTO objects (tenant_id, id, type, version, created, updated, data)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, id) DO NOTHING`
	}

	res, err := ex.ExecContext(ctx, query, tenantID, obj.ID, obj.Type, obj.Version, obj.Timestamp, obj.Updated, string(data))
	if err != nil {
		return fmt.Errorf("insert object %s: %w", obj.ID, err)
	}
	if locking {
		if n, _ := res.RowsAffected(); n == 0 {
			obj.Version = model.VersionConflict
		}
	}
	return nil
}

// Read returns the object or nil when absent
func (s *SQLiteStore) Read(ctx context.Context, tenantID, id string) (*model.Object, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM objects WHERE tenant_id = ? AND id = ?`, tenantID, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read object %s: %w", id, err)
	}
	return decodeObject([]byte(data))
}

// Update writes an object, applying optimistic locking when enabled
func (s *SQLiteStore) Update(ctx context.Context, tenantID string, obj *model.Object) error {
	if err := requireID(obj); err != nil {
		return err
	}
	return s.update(ctx, s.db, tenantID, obj)
}

func (s *SQLiteStore) update(ctx context.Context, ex sqlExecer, tenantID string, obj *model.Object) error {
	obj.Updated = s.now().UnixMilli()
	if obj.Timestamp == 0 {
		obj.Timestamp = obj.Updated
	}

	if !obj.LockingEnabled() {
		data, err := encodeObject(obj)
		if err != nil {
			return err
		}
		_, err = ex.ExecContext(ctx,
			`INSERT INTO objects (tenant_id, id, type, version, created, updated, data)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (tenant_id, id) DO UPDATE SET
				type = excluded.type, version = excluded.version,
				updated = excluded.updated, data = excluded.data`,
			tenantID, obj.ID, obj.Type, obj.Version, obj.Timestamp, obj.Updated, string(data))
		if err != nil {
			return fmt.Errorf("update object %s: %w", obj.ID, err)
		}
		return nil
	}

	expected := obj.Version
	obj.Version++
	data, err := encodeObject(obj)
	if err != nil {
		obj.Version = expected
		return err
	}
	res, err := ex.ExecContext(ctx,
		`UPDATE objects SET type = ?, version = ?, updated = ?, data = ?
		WHERE tenant_id = ? AND id = ? AND version = ?`,
		obj.Type, obj.Version, obj.Updated, string(data), tenantID, obj.ID, expected)
	if err != nil {
		obj.Version = expected
		return fmt.Errorf("update object %s: %w", obj.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		s.logger.Debug("Version mismatch on update",
			zap.String("tenant_id", tenantID),
			zap.String("id", obj.ID),
			zap.Int64("expected_version", expected))
		obj.Version = model.VersionConflict
	}
	return nil
}

// Delete removes an object
func (s *SQLiteStore) Delete(ctx context.Context, tenantID string, obj *model.Object) error {
	if obj == nil {
		return nil
	}
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM objects WHERE tenant_id = ? AND id = ?`, tenantID, obj.ID); err != nil {
		return fmt.Errorf("delete object %s: %w", obj.ID, err)
	}
	return nil
}

// CreateAll inserts a batch of objects in one transaction
func (s *SQLiteStore) CreateAll(ctx context.Context, tenantID string, objs []*model.Object) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, obj := range objs {
			if requireID(obj) != nil {
				continue
			}
			if err := s.create(ctx, tx, tenantID, obj); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReadAll returns every found object keyed by id
func (s *SQLiteStore) ReadAll(ctx context.Context, tenantID string, ids []string) (map[string]*model.Object, error) {
	result := make(map[string]*model.Object, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	args := make([]any, 0, len(ids)+1)
	args = append(args, tenantID)
	for _, id := range ids {
		args = append(args, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")

	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM objects WHERE tenant_id = ? AND id IN (`+placeholders+`)`, args...)
	if err != nil {
		return result, fmt.Errorf("read objects: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return result, fmt.Errorf("scan object: %w", err)
		}
		obj, err := decodeObject([]byte(data))
		if err != nil {
			return result, err
		}
		result[obj.ID] = obj
	}
	return result, rows.Err()
}

// UpdateAll updates a batch of objects in one transaction
func (s *SQLiteStore) UpdateAll(ctx context.Context, tenantID string, objs []*model.Object) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, obj := range objs {
			if requireID(obj) != nil {
				continue
			}
			if err := s.update(ctx, tx, tenantID, obj); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteAll removes a batch of objects in one transaction
func (s *SQLiteStore) DeleteAll(ctx context.Context, tenantID string, objs []*model.Object) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, obj := range objs {
			if obj == nil {
				continue
			}
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM objects WHERE tenant_id = ? AND id = ?`, tenantID, obj.ID); err != nil {
				return fmt.Errorf("delete object %s: %w", obj.ID, err)
			}
		}
		return nil
	})
}

// ReadPage scans the tenant in id order starting after pager.LastKey
func (s *SQLiteStore) ReadPage(ctx context.Context, tenantID string, pager *model.Pager) ([]*model.Object, error) {
	if pager == nil {
		pager = model.NewPager(0)
	}
	limit := pager.EffectiveLimit()

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM objects WHERE tenant_id = ?`, tenantID).Scan(&pager.Count); err != nil {
		return nil, fmt.Errorf("count objects: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM objects WHERE tenant_id = ? AND id > ? ORDER BY id LIMIT ?`,
		tenantID, pager.LastKey, limit)
	if err != nil {
		return nil, fmt.Errorf("scan objects: %w", err)
	}
	defer rows.Close()

	page := make([]*model.Object, 0, limit)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan object: %w", err)
		}
		obj, err := decodeObject([]byte(data))
		if err != nil {
			return nil, err
		}
		page = append(page, obj)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(page) > 0 {
		pager.LastKey = page[len(page)-1].ID
	}
	return page, nil
}

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
