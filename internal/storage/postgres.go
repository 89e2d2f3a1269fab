package storage

import (
	"context"
	"embed"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/domain"
	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/errors"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// PostgresStore persists instances and audit entries in postgres.
// Structured fields are stored as JSONB.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects, runs pending migrations, and returns the
// store. The dsn is a postgres:// URL.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if err := runMigrations(dsn); err != nil {
		return nil, err
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeStorageConnectionFailed, "cannot create connection pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, errors.CodeStorageConnectionFailed, "cannot reach database")
	}
	return &PostgresStore{pool: pool}, nil
}

// migrateDSN rewrites the URL scheme for golang-migrate, which resolves
// its database driver from the scheme. The pgx/v5 driver registers as
// pgx5, not postgres.
func migrateDSN(dsn string) string {
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if rest, ok := strings.CutPrefix(dsn, scheme); ok {
			return "pgx5://" + rest
		}
	}
	return dsn
}

func runMigrations(dsn string) error {
	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return errors.Wrap(err, errors.CodeMigrationFailed, "cannot open embedded migrations")
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, migrateDSN(dsn))
	if err != nil {
		return errors.Wrap(err, errors.CodeMigrationFailed, "cannot initialize migrations")
	}
	defer m.Close()
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return errors.Wrap(err, errors.CodeMigrationFailed, "cannot apply migrations")
	}
	return nil
}

const instanceColumns = `instance_id, service_id, plan_id, organization_guid, space_guid,
	parameters, status, created_at, updated_at, runtime_provider, runtime_config,
	connection_info, error_message`

func scanInstance(row pgx.Row) (*domain.ServiceInstance, error) {
	var (
		instance       domain.ServiceInstance
		parameters     []byte
		runtimeConfig  []byte
		connectionInfo []byte
		provider       string
	)
	err := row.Scan(
		&instance.InstanceID, &instance.ServiceID, &instance.PlanID,
		&instance.OrganizationGUID, &instance.SpaceGUID,
		&parameters, &instance.Status, &instance.CreatedAt, &instance.UpdatedAt,
		&provider, &runtimeConfig, &connectionInfo, &instance.ErrorMessage,
	)
	if err != nil {
		return nil, err
	}
	instance.RuntimeProvider = domain.ProviderKind(provider)
	if err := json.Unmarshal(parameters, &instance.Parameters); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(runtimeConfig, &instance.RuntimeConfig); err != nil {
		return nil, err
	}
	if len(connectionInfo) > 0 {
		instance.ConnectionInfo = &domain.ConnectionInfo{}
		if err := json.Unmarshal(connectionInfo, instance.ConnectionInfo); err != nil {
			return nil, err
		}
	}
	return &instance, nil
}

func instanceArgs(instance *domain.ServiceInstance) ([]interface{}, error) {
	parameters, err := json.Marshal(instance.Parameters)
	if err != nil {
		return nil, err
	}
	runtimeConfig, err := json.Marshal(instance.RuntimeConfig)
	if err != nil {
		return nil, err
	}
	var connectionInfo []byte
	if instance.ConnectionInfo != nil {
		if connectionInfo, err = json.Marshal(instance.ConnectionInfo); err != nil {
			return nil, err
		}
	}
	return []interface{}{
		instance.InstanceID, instance.ServiceID, instance.PlanID,
		instance.OrganizationGUID, instance.SpaceGUID,
		parameters, string(instance.Status), instance.CreatedAt, instance.UpdatedAt,
		string(instance.RuntimeProvider), runtimeConfig, connectionInfo,
		instance.ErrorMessage,
	}, nil
}

func (s *PostgresStore) Create(ctx context.Context, instance *domain.ServiceInstance) error {
	exists, err := s.Exists(ctx, instance.InstanceID)
	if err != nil {
		return err
	}
	if exists {
		return errors.Newf(errors.CodeInstanceAlreadyExists, "instance %s already exists", instance.InstanceID)
	}
	args, err := instanceArgs(instance)
	if err != nil {
		return errors.Wrap(err, errors.CodeStorageOperationFailed, "cannot serialize instance")
	}
	_, err = s.pool.Exec(ctx, `INSERT INTO service_instances (`+instanceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`, args...)
	if err != nil {
		return errors.Wrapf(err, errors.CodeStorageOperationFailed, "cannot insert instance %s", instance.InstanceID)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, instanceID string) (*domain.ServiceInstance, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+instanceColumns+` FROM service_instances WHERE instance_id = $1`, instanceID)
	instance, err := scanInstance(row)
	if err == pgx.ErrNoRows {
		return nil, errors.Newf(errors.CodeInstanceNotFound, "instance %s not found", instanceID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeStorageOperationFailed, "cannot load instance %s", instanceID)
	}
	return instance, nil
}

func (s *PostgresStore) Update(ctx context.Context, instance *domain.ServiceInstance) error {
	args, err := instanceArgs(instance)
	if err != nil {
		return errors.Wrap(err, errors.CodeStorageOperationFailed, "cannot serialize instance")
	}
	tag, err := s.pool.Exec(ctx, `UPDATE service_instances SET
		service_id = $2, plan_id = $3, organization_guid = $4, space_guid = $5,
		parameters = $6, status = $7, created_at = $8, updated_at = $9,
		runtime_provider = $10, runtime_config = $11, connection_info = $12,
		error_message = $13
		WHERE instance_id = $1`, args...)
	if err != nil {
		return errors.Wrapf(err, errors.CodeStorageOperationFailed, "cannot update instance %s", instance.InstanceID)
	}
	if tag.RowsAffected() == 0 {
		return errors.Newf(errors.CodeInstanceNotFound, "instance %s not found", instance.InstanceID)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, instanceID string) error {
	// Audit rows cascade with the instance.
	tag, err := s.pool.Exec(ctx, `DELETE FROM service_instances WHERE instance_id = $1`, instanceID)
	if err != nil {
		return errors.Wrapf(err, errors.CodeStorageOperationFailed, "cannot delete instance %s", instanceID)
	}
	if tag.RowsAffected() == 0 {
		return errors.Newf(errors.CodeInstanceNotFound, "instance %s not found", instanceID)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, filters InstanceFilters) ([]*domain.ServiceInstance, error) {
	query := `SELECT ` + instanceColumns + ` FROM service_instances WHERE TRUE`
	var args []interface{}
	if filters.Status != "" {
		args = append(args, string(filters.Status))
		query += ` AND status = $` + strconv.Itoa(len(args))
	}
	if filters.PlanID != "" {
		args = append(args, filters.PlanID)
		query += ` AND plan_id = $` + strconv.Itoa(len(args))
	}
	if filters.Provider != "" {
		args = append(args, string(filters.Provider))
		query += ` AND runtime_provider = $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeStorageOperationFailed, "cannot list instances")
	}
	defer rows.Close()

	var out []*domain.ServiceInstance
	for rows.Next() {
		instance, err := scanInstance(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeStorageOperationFailed, "cannot scan instance row")
		}
		out = append(out, instance)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CodeStorageOperationFailed, "cannot list instances")
	}
	return out, nil
}

func (s *PostgresStore) Exists(ctx context.Context, instanceID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM service_instances WHERE instance_id = $1)`, instanceID).Scan(&exists)
	if err != nil {
		return false, errors.Wrapf(err, errors.CodeStorageOperationFailed, "cannot check instance %s", instanceID)
	}
	return exists, nil
}

func (s *PostgresStore) ListByStatus(ctx context.Context, status domain.InstanceStatus) ([]*domain.ServiceInstance, error) {
	return s.List(ctx, InstanceFilters{Status: status})
}

func (s *PostgresStore) Log(ctx context.Context, instanceID, operation, userID string, details map[string]interface{}) error {
	var detailsJSON []byte
	if details != nil {
		var err error
		if detailsJSON, err = json.Marshal(details); err != nil {
			return errors.Wrap(err, errors.CodeStorageOperationFailed, "cannot serialize audit details")
		}
	}
	var instanceRef interface{}
	if instanceID != "" {
		instanceRef = instanceID
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO audit_logs (instance_id, operation, user_id, details, timestamp)
		VALUES ($1, $2, $3, $4, $5)`, instanceRef, operation, userID, detailsJSON, time.Now().UTC())
	if err != nil {
		return errors.Wrap(err, errors.CodeStorageOperationFailed, "cannot append audit entry")
	}
	return nil
}

func (s *PostgresStore) Query(ctx context.Context, instanceID, operation string, limit int) ([]*domain.AuditEntry, error) {
	query := `SELECT id, COALESCE(instance_id, ''), operation, user_id, details, timestamp
		FROM audit_logs WHERE TRUE`
	var args []interface{}
	if instanceID != "" {
		args = append(args, instanceID)
		query += ` AND instance_id = $` + strconv.Itoa(len(args))
	}
	if operation != "" {
		args = append(args, operation)
		query += ` AND operation = $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY timestamp DESC, id DESC`
	if limit > 0 {
		args = append(args, limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeStorageOperationFailed, "cannot query audit log")
	}
	defer rows.Close()

	var out []*domain.AuditEntry
	for rows.Next() {
		var (
			entry   domain.AuditEntry
			details []byte
		)
		if err := rows.Scan(&entry.ID, &entry.InstanceID, &entry.Operation, &entry.UserID, &details, &entry.Timestamp); err != nil {
			return nil, errors.Wrap(err, errors.CodeStorageOperationFailed, "cannot scan audit row")
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &entry.Details); err != nil {
				return nil, errors.Wrap(err, errors.CodeStorageOperationFailed, "cannot decode audit details")
			}
		}
		out = append(out, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CodeStorageOperationFailed, "cannot query audit log")
	}
	return out, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
