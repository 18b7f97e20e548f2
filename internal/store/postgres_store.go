package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/devrev/paracore/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS objects (
	tenant_id TEXT NOT NULL,
	id        TEXT NOT NULL,
	type      TEXT NOT NULL,
	version   BIGINT NOT NULL DEFAULT 0,
	created   BIGINT NOT NULL,
	updated   BIGINT NOT NULL,
	data      JSONB NOT NULL,
	PRIMARY KEY (tenant_id, id)
);
CREATE INDEX IF NOT EXISTS idx_objects_tenant_type ON objects (tenant_id, type);
`

// pgExecer is satisfied by both *pgxpool.Pool and pgx.Tx
type pgExecer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore implements Store for PostgreSQL
type PostgresStore struct {
	pool   *pgxpool.Pool
	now    func() time.Time
	logger *zap.Logger
}

// NewPostgresStore connects to PostgreSQL and ensures the objects table exists
func NewPostgresStore(ctx context.Context, dsn string, maxConns, minConns int32, logger *zap.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if maxConns > 0 {
		config.MaxConns = maxConns
	}
	if minConns > 0 {
		config.MinConns = minConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	logger.Info("PostgreSQL store connected",
		zap.Int32("max_conns", config.MaxConns))

	return &PostgresStore{pool: pool, now: time.Now, logger: logger}, nil
}

// Name returns the backend name
func (s *PostgresStore) Name() string {
	return "postgres"
}

// Ping checks the pool
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Create inserts an object; with locking enabled an existing record causes a version conflict
func (s *PostgresStore) Create(ctx context.Context, tenantID string, obj *model.Object) (string, error) {
	if err := requireID(obj); err != nil {
		return "", err
	}
	if err := s.create(ctx, s.pool, tenantID, obj); err != nil {
		return "", err
	}
	return obj.ID, nil
}

func (s *PostgresStore) create(ctx context.Context, ex pgExecer, tenantID string, obj *model.Object) error {
	locking := obj.LockingEnabled()
	prepareCreate(obj, s.now().UnixMilli())
	data, err := encodeObject(obj)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO objects (tenant_id, id, type, version, created, updated, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant_id, id) DO UPDATE SET
			type = EXCLUDED.type, version = EXCLUDED.version, created = EXCLUDED.created,
			updated = EXCLUDED.updated, data = EXCLUDED.data
	`
	if locking {
		query = `
			INSERT INTO objects (tenant_id, id, type, version, created, updated, data)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (tenant_id, id) DO NOTHING
		`
	}

	tag, err := ex.Exec(ctx, query, tenantID, obj.ID, obj.Type, obj.Version, obj.Timestamp, obj.Updated, data)
	if err != nil {
		return fmt.Errorf("failed to insert object: %w", err)
	}
	if locking && tag.RowsAffected() == 0 {
		obj.Version = model.VersionConflict
	}
	return nil
}

// Read returns the object or nil when absent
func (s *PostgresStore) Read(ctx context.Context, tenantID, id string) (*model.Object, error) {
	var data []byte
	err := s.pool.QueryRow(ctx,
		`SELECT data FROM objects WHERE tenant_id = $1 AND id = $2`, tenantID, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read object: %w", err)
	}
	return decodeObject(data)
}

// Update writes an object, applying optimistic locking when enabled
func (s *PostgresStore) Update(ctx context.Context, tenantID string, obj *model.Object) error {
	if err := requireID(obj); err != nil {
		return err
	}
	return s.update(ctx, s.pool, tenantID, obj)
}

func (s *PostgresStore) update(ctx context.Context, ex pgExecer, tenantID string, obj *model.Object) error {
	obj.Updated = s.now().UnixMilli()
	if obj.Timestamp == 0 {
		obj.Timestamp = obj.Updated
	}

	if !obj.LockingEnabled() {
		data, err := encodeObject(obj)
		if err != nil {
			return err
		}
		query := `
			INSERT INTO objects (tenant_id, id, type, version, created, updated, data)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (tenant_id, id) DO UPDATE SET
				type = EXCLUDED.type, version = EXCLUDED.version,
				updated = EXCLUDED.updated, data = EXCLUDED.data
		`
		if _, err := ex.Exec(ctx, query, tenantID, obj.ID, obj.Type, obj.Version, obj.Timestamp, obj.Updated, data); err != nil {
			return fmt.Errorf("failed to update object: %w", err)
		}
		return nil
	}

	// Optimistic locking: only update if the stored version matches
	expected := obj.Version
	obj.Version++
	data, err := encodeObject(obj)
	if err != nil {
		obj.Version = expected
		return err
	}
	query := `
		UPDATE objects
		SET type = $1, version = $2, updated = $3, data = $4
		WHERE tenant_id = $5 AND id = $6 AND version = $7
	`
	tag, err := ex.Exec(ctx, query, obj.Type, obj.Version, obj.Updated, data, tenantID, obj.ID, expected)
	if err != nil {
		obj.Version = expected
		return fmt.Errorf("failed to update object: %w", err)
	}
	if tag.RowsAffected() == 0 {
		s.logger.Debug("Version mismatch on update",
			zap.String("tenant_id", tenantID),
			zap.String("id", obj.ID),
			zap.Int64("expected_version", expected))
		obj.Version = model.VersionConflict
	}
	return nil
}

// Delete removes an object
func (s *PostgresStore) Delete(ctx context.Context, tenantID string, obj *model.Object) error {
	if obj == nil {
		return nil
	}
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM objects WHERE tenant_id = $1 AND id = $2`, tenantID, obj.ID); err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// CreateAll inserts a batch of objects in one transaction
func (s *PostgresStore) CreateAll(ctx context.Context, tenantID string, objs []*model.Object) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
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
func (s *PostgresStore) ReadAll(ctx context.Context, tenantID string, ids []string) (map[string]*model.Object, error) {
	result := make(map[string]*model.Object, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT data FROM objects WHERE tenant_id = $1 AND id = ANY($2)`, tenantID, ids)
	if err != nil {
		return result, fmt.Errorf("failed to read objects: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return result, fmt.Errorf("failed to scan object: %w", err)
		}
		obj, err := decodeObject(data)
		if err != nil {
			return result, err
		}
		result[obj.ID] = obj
	}
	return result, rows.Err()
}

// UpdateAll updates a batch of objects in one transaction
func (s *PostgresStore) UpdateAll(ctx context.Context, tenantID string, objs []*model.Object) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
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

// DeleteAll removes a batch of objects
func (s *PostgresStore) DeleteAll(ctx context.Context, tenantID string, objs []*model.Object) error {
	ids := model.IDs(objs)
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.pool.Exec(ctx,
		`DELETE FROM objects WHERE tenant_id = $1 AND id = ANY($2)`, tenantID, ids); err != nil {
		return fmt.Errorf("failed to delete objects: %w", err)
	}
	return nil
}

// ReadPage scans the tenant in id order starting after pager.LastKey
func (s *PostgresStore) ReadPage(ctx context.Context, tenantID string, pager *model.Pager) ([]*model.Object, error) {
	if pager == nil {
		pager = model.NewPager(0)
	}
	limit := pager.EffectiveLimit()

	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM objects WHERE tenant_id = $1`, tenantID).Scan(&pager.Count); err != nil {
		return nil, fmt.Errorf("failed to count objects: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT data FROM objects WHERE tenant_id = $1 AND id > $2 ORDER BY id LIMIT $3`,
		tenantID, pager.LastKey, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to scan objects: %w", err)
	}
	defer rows.Close()

	page := make([]*model.Object, 0, limit)
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan object: %w", err)
		}
		obj, err := decodeObject(data)
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
