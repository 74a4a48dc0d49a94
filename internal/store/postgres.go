package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/magicliang/distributed-sequence/internal/model"
)

// PostgresStore implements Store against a PostgreSQL segments/nodes
// schema via a pgx connection pool.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// PostgresConfig carries the connection parameters for NewPostgresStore.
type PostgresConfig struct {
	Host            string
	Port            int
	Database        string
	User            string
	Password        string
	MaxConnections  int
	MinConnections  int
	ConnMaxLifetime time.Duration
}

// NewPostgresStore opens and pings a connection pool against the
// segments/nodes schema described in SPEC_FULL.md §3.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig, logger *zap.Logger) (*PostgresStore, error) {
	connString := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s pool_max_conns=%d pool_min_conns=%d",
		cfg.Host, cfg.Port, cfg.Database, cfg.User, cfg.Password, cfg.MaxConnections, cfg.MinConnections,
	)

	poolCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{pool: pool, logger: logger}, nil
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// GetSegment retrieves a segment record, if one exists.
func (s *PostgresStore) GetSegment(ctx context.Context, business, timeKey string, role model.Role) (*model.Segment, error) {
	query := `
		SELECT business_type, time_key, role, max_value, step_size, updated_at
		FROM segments
		WHERE business_type = $1 AND time_key = $2 AND role = $3
	`

	var seg model.Segment
	err := s.pool.QueryRow(ctx, query, business, timeKey, int16(role)).Scan(
		&seg.BusinessType, &seg.TimeKey, &seg.Role, &seg.MaxValue, &seg.StepSize, &seg.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get segment: %w", err)
	}

	return &seg, nil
}

// CreateSegment inserts the first segment record for a (business, time,
// role) triple. Idempotent under the unique (business_type, time_key, role)
// index: a conflicting insert is a no-op rather than an error, since the
// caller only needs the row to exist after the call returns.
func (s *PostgresStore) CreateSegment(ctx context.Context, business, timeKey string, role model.Role, initialMax int64, step int32) error {
	query := `
		INSERT INTO segments (business_type, time_key, role, max_value, step_size, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (business_type, time_key, role) DO NOTHING
	`

	_, err := s.pool.Exec(ctx, query, business, timeKey, int16(role), initialMax, step)
	if err != nil {
		return fmt.Errorf("failed to create segment: %w", err)
	}
	return nil
}

// SetMaxValue unconditionally stores a new max_value for a segment.
func (s *PostgresStore) SetMaxValue(ctx context.Context, business, timeKey string, role model.Role, newMax int64) (int64, error) {
	query := `
		UPDATE segments
		SET max_value = $4, updated_at = now()
		WHERE business_type = $1 AND time_key = $2 AND role = $3
	`

	result, err := s.pool.Exec(ctx, query, business, timeKey, int16(role), newMax)
	if err != nil {
		return 0, fmt.Errorf("failed to set max_value: %w", err)
	}
	return result.RowsAffected(), nil
}

// SetMaxValueAndStep atomically stores both a new max_value and a new
// step_size in one row update, used by the step-size change protocol.
func (s *PostgresStore) SetMaxValueAndStep(ctx context.Context, business, timeKey string, role model.Role, newMax int64, newStep int32) (int64, error) {
	query := `
		UPDATE segments
		SET max_value = $4, step_size = $5, updated_at = now()
		WHERE business_type = $1 AND time_key = $2 AND role = $3
	`

	result, err := s.pool.Exec(ctx, query, business, timeKey, int16(role), newMax, newStep)
	if err != nil {
		return 0, fmt.Errorf("failed to set max_value and step_size: %w", err)
	}
	return result.RowsAffected(), nil
}

// ListSegments lists segments for a business type, optionally filtered by
// a specific time key.
func (s *PostgresStore) ListSegments(ctx context.Context, business string, timeKey *string) ([]*model.Segment, error) {
	var rows pgx.Rows
	var err error

	if timeKey != nil {
		rows, err = s.pool.Query(ctx, `
			SELECT business_type, time_key, role, max_value, step_size, updated_at
			FROM segments WHERE business_type = $1 AND time_key = $2
			ORDER BY role`, business, *timeKey)
	} else {
		rows, err = s.pool.Query(ctx, `
			SELECT business_type, time_key, role, max_value, step_size, updated_at
			FROM segments WHERE business_type = $1
			ORDER BY time_key, role`, business)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list segments: %w", err)
	}
	defer rows.Close()

	return scanSegments(rows)
}

// ListRoles lists every segment owned by a given role, across all
// business types and time keys.
func (s *PostgresStore) ListRoles(ctx context.Context, role model.Role) ([]*model.Segment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT business_type, time_key, role, max_value, step_size, updated_at
		FROM segments WHERE role = $1
		ORDER BY business_type, time_key`, int16(role))
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	return scanSegments(rows)
}

// ListDistinctBusinessTypes lists every business_type with at least one
// segment record.
func (s *PostgresStore) ListDistinctBusinessTypes(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT business_type FROM segments ORDER BY business_type`)
	if err != nil {
		return nil, fmt.Errorf("failed to list business types: %w", err)
	}
	defer rows.Close()

	var types []string
	for rows.Next() {
		var bt string
		if err := rows.Scan(&bt); err != nil {
			return nil, fmt.Errorf("failed to scan business type: %w", err)
		}
		types = append(types, bt)
	}
	return types, rows.Err()
}

// DeleteWhereTimeKeyLT deletes every segment whose time_key sorts below
// cutoff (used by the expired-segment admin operation).
func (s *PostgresStore) DeleteWhereTimeKeyLT(ctx context.Context, cutoff string) (int64, error) {
	result, err := s.pool.Exec(ctx, `DELETE FROM segments WHERE time_key < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired segments: %w", err)
	}
	return result.RowsAffected(), nil
}

// SumMaxValue sums max_value across every segment owned by a role; a
// coarse cluster-wide load signal used as a tiebreak in role selection.
func (s *PostgresStore) SumMaxValue(ctx context.Context, role model.Role) (int64, error) {
	var sum int64
	err := s.pool.QueryRow(ctx, `SELECT COALESCE(SUM(max_value), 0) FROM segments WHERE role = $1`, int16(role)).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("failed to sum max_value: %w", err)
	}
	return sum, nil
}

// Register upserts a node record as Online, stamping its heartbeat.
func (s *PostgresStore) Register(ctx context.Context, nodeID string, role model.Role) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO nodes (node_id, role, status, last_heartbeat)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (node_id) DO UPDATE SET role = $2, status = $3, last_heartbeat = now()
	`, nodeID, int16(role), model.NodeOnline)
	if err != nil {
		return fmt.Errorf("failed to register node: %w", err)
	}
	return nil
}

// Beat stamps a node's last_heartbeat and flips it back Online.
func (s *PostgresStore) Beat(ctx context.Context, nodeID string) error {
	result, err := s.pool.Exec(ctx, `
		UPDATE nodes SET last_heartbeat = now(), status = $2 WHERE node_id = $1
	`, nodeID, model.NodeOnline)
	if err != nil {
		return fmt.Errorf("failed to record heartbeat: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetNode retrieves a node record.
func (s *PostgresStore) GetNode(ctx context.Context, nodeID string) (*model.Node, error) {
	var n model.Node
	err := s.pool.QueryRow(ctx, `
		SELECT node_id, role, status, last_heartbeat FROM nodes WHERE node_id = $1
	`, nodeID).Scan(&n.NodeID, &n.Role, &n.Status, &n.LastHeartbeat)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get node: %w", err)
	}
	return &n, nil
}

// PeerOnline reports whether at least one node record with the given role
// is currently Online.
func (s *PostgresStore) PeerOnline(ctx context.Context, peerRole model.Role) (bool, error) {
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM nodes WHERE role = $1 AND status = $2
	`, int16(peerRole), model.NodeOnline).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check peer liveness: %w", err)
	}
	return count > 0, nil
}

// SweepStale marks every node whose heartbeat is older than threshold as
// Offline.
func (s *PostgresStore) SweepStale(ctx context.Context, threshold time.Duration) (int64, error) {
	result, err := s.pool.Exec(ctx, `
		UPDATE nodes SET status = $1
		WHERE status = $2 AND last_heartbeat < now() - $3::interval
	`, model.NodeOffline, model.NodeOnline, fmt.Sprintf("%d seconds", int64(threshold.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("failed to sweep stale nodes: %w", err)
	}
	return result.RowsAffected(), nil
}

func scanSegments(rows pgx.Rows) ([]*model.Segment, error) {
	segments := make([]*model.Segment, 0)
	for rows.Next() {
		var seg model.Segment
		if err := rows.Scan(&seg.BusinessType, &seg.TimeKey, &seg.Role, &seg.MaxValue, &seg.StepSize, &seg.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan segment: %w", err)
		}
		segments = append(segments, &seg)
	}
	return segments, rows.Err()
}
