package persist

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/l1jgo/spawnpool/internal/pool"
)

// SnapshotRow is one prefab's pool counters at shutdown.
type SnapshotRow struct {
	PrefabID   pool.PrefabID
	PrefabName string
	Stats      pool.Stats
}

// SnapshotRepo writes pool snapshots.
type SnapshotRepo struct {
	db *DB
}

func NewSnapshotRepo(db *DB) *SnapshotRepo {
	return &SnapshotRepo{db: db}
}

// Save writes all rows of one snapshot in a single transaction.
func (r *SnapshotRepo) Save(ctx context.Context, session string, rows []SnapshotRow) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("snapshot begin: %w", err)
	}
	defer tx.Rollback(ctx)

	takenAt := time.Now().UTC()
	batch := &pgx.Batch{}
	for _, row := range rows {
		s := row.Stats
		batch.Queue(
			`INSERT INTO pool_snapshots
			   (session, taken_at, prefab_id, prefab_name, created, adopted, free, active, acquires, misses, reclaims)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			session, takenAt, int64(row.PrefabID), row.PrefabName,
			s.Created, s.Adopted, s.Free, s.Active,
			int64(s.Acquires), int64(s.Misses), int64(s.Reclaims),
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("snapshot insert: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("snapshot commit: %w", err)
	}
	r.db.log.Debug("pool snapshot written", zap.String("session", session), zap.Int("rows", len(rows)))
	return nil
}

// Latest returns the most recent snapshot written for session, ordered by
// prefab id.
func (r *SnapshotRepo) Latest(ctx context.Context, session string) ([]SnapshotRow, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT prefab_id, prefab_name, created, adopted, free, active, acquires, misses, reclaims
		 FROM pool_snapshots
		 WHERE session = $1
		   AND taken_at = (SELECT max(taken_at) FROM pool_snapshots WHERE session = $1)
		 ORDER BY prefab_id`, session)
	if err != nil {
		return nil, fmt.Errorf("query snapshot: %w", err)
	}
	defer rows.Close()
	return scanSnapshots(rows)
}

func scanSnapshots(rows pgx.Rows) ([]SnapshotRow, error) {
	var out []SnapshotRow
	for rows.Next() {
		var (
			row                        SnapshotRow
			id, acquires, misses, recl int64
		)
		s := &row.Stats
		if err := rows.Scan(&id, &row.PrefabName, &s.Created, &s.Adopted, &s.Free, &s.Active,
			&acquires, &misses, &recl); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		row.PrefabID = pool.PrefabID(id)
		s.Acquires, s.Misses, s.Reclaims = uint64(acquires), uint64(misses), uint64(recl)
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return out, nil
}

// Collect builds snapshot rows from pools. names maps prefab ids to display
// names and may be nil.
func Collect(each func(func(pool.PrefabID, *pool.InstancePool)), names map[pool.PrefabID]string) []SnapshotRow {
	var rows []SnapshotRow
	each(func(id pool.PrefabID, p *pool.InstancePool) {
		rows = append(rows, SnapshotRow{PrefabID: id, PrefabName: names[id], Stats: p.Stats()})
	})
	return rows
}
