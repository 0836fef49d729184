package voxeldb

import (
	"database/sql"
	_ "embed"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/volumetric.map/internal/monitoring"
	"github.com/banshee-data/volumetric.map/internal/timeutil"
)

// Snapshot is one persisted map snapshot row. The blob is opaque to this
// package.
type Snapshot struct {
	SnapshotID     string
	SensorID       string
	TakenUnixNanos int64
	Resolution     float64
	VoxelCount     int
	Reason         string
	Blob           []byte
}

// Store provides snapshot persistence over SQLite. The clock stamps
// inserted rows and is swappable for tests.
type Store struct {
	db    *sql.DB
	clock timeutil.Clock
}

//go:embed schema.sql
var schemaSQL string

// Open opens (creating if needed) the snapshot database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot db: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply snapshot schema: %w", err)
	}
	return &Store{db: db, clock: timeutil.RealClock{}}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// InsertSnapshot stores one snapshot blob and returns its generated ID.
// Implements voxel.SnapshotStore.
func (s *Store) InsertSnapshot(sensorID string, resolution float64, voxelCount int, reason string, blob []byte) (string, error) {
	id := uuid.New().String()
	err := retryOnBusy(s.clock, func() error {
		_, err := s.db.Exec(`
			INSERT INTO map_snapshots (
				snapshot_id, sensor_id, taken_unix_nanos, resolution,
				voxel_count, snapshot_reason, map_blob
			) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, sensorID, s.clock.Now().UnixNano(), resolution, voxelCount, reason, blob)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("insert snapshot: %w", err)
	}
	return id, nil
}

// LatestSnapshot returns the most recent snapshot for a sensor, or
// sql.ErrNoRows when none exists.
func (s *Store) LatestSnapshot(sensorID string) (*Snapshot, error) {
	row := s.db.QueryRow(`
		SELECT snapshot_id, sensor_id, taken_unix_nanos, resolution,
		       voxel_count, snapshot_reason, map_blob
		FROM map_snapshots
		WHERE sensor_id = ?
		ORDER BY taken_unix_nanos DESC
		LIMIT 1`, sensorID)
	var snap Snapshot
	if err := row.Scan(&snap.SnapshotID, &snap.SensorID, &snap.TakenUnixNanos,
		&snap.Resolution, &snap.VoxelCount, &snap.Reason, &snap.Blob); err != nil {
		return nil, err
	}
	return &snap, nil
}

// ListSnapshots returns snapshot metadata for a sensor, newest first,
// without loading the blobs.
func (s *Store) ListSnapshots(sensorID string) ([]*Snapshot, error) {
	rows, err := s.db.Query(`
		SELECT snapshot_id, sensor_id, taken_unix_nanos, resolution,
		       voxel_count, snapshot_reason
		FROM map_snapshots
		WHERE sensor_id = ?
		ORDER BY taken_unix_nanos DESC`, sensorID)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []*Snapshot
	for rows.Next() {
		var snap Snapshot
		if err := rows.Scan(&snap.SnapshotID, &snap.SensorID, &snap.TakenUnixNanos,
			&snap.Resolution, &snap.VoxelCount, &snap.Reason); err != nil {
			return nil, err
		}
		out = append(out, &snap)
	}
	return out, rows.Err()
}

// DeleteOlderThan removes snapshots for a sensor taken before the cutoff
// and returns the number deleted.
func (s *Store) DeleteOlderThan(sensorID string, cutoffUnixNanos int64) (int64, error) {
	var deleted int64
	err := retryOnBusy(s.clock, func() error {
		res, err := s.db.Exec(`
			DELETE FROM map_snapshots
			WHERE sensor_id = ? AND taken_unix_nanos < ?`, sensorID, cutoffUnixNanos)
		if err != nil {
			return err
		}
		deleted, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("delete snapshots: %w", err)
	}
	return deleted, nil
}

// StartRetentionSweep deletes snapshots older than maxAge, for every
// sensor, once per interval. The sweep runs on its own goroutine until
// the returned stop function is called; stop must be called exactly
// once.
func (s *Store) StartRetentionSweep(interval, maxAge time.Duration) (stop func()) {
	ticker := s.clock.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C():
				cutoff := s.clock.Now().Add(-maxAge).UnixNano()
				n, err := s.pruneOlderThan(cutoff)
				switch {
				case err != nil:
					monitoring.Logf("[VoxelDB] retention sweep: %v", err)
				case n > 0:
					monitoring.Logf("[VoxelDB] retention sweep removed %d snapshots", n)
				}
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}

// pruneOlderThan removes snapshots taken before the cutoff regardless of
// sensor and returns the number deleted.
func (s *Store) pruneOlderThan(cutoffUnixNanos int64) (int64, error) {
	var deleted int64
	err := retryOnBusy(s.clock, func() error {
		res, err := s.db.Exec(`
			DELETE FROM map_snapshots
			WHERE taken_unix_nanos < ?`, cutoffUnixNanos)
		if err != nil {
			return err
		}
		deleted, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}
	return deleted, nil
}

// retryOnBusy retries short transient SQLITE_BUSY/locked failures with a
// small backoff. Non-busy errors return immediately.
func retryOnBusy(clock timeutil.Clock, fn func() error) error {
	const attempts = 5
	backoff := 10 * time.Millisecond
	var err error
	for i := 0; i < attempts; i++ {
		err = fn()
		if err == nil || !isBusyErr(err) {
			return err
		}
		clock.Sleep(backoff)
		backoff *= 2
	}
	return err
}

func isBusyErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}
