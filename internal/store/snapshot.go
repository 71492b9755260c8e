package store

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/symspace/internal/codec"
)

// SnapshotInfo describes a stored snapshot without decoding it.
type SnapshotInfo struct {
	Name    string `json:"name"`
	RunID   string `json:"run_id,omitempty"`
	Objects int    `json:"objects"`
	Size    int    `json:"size"`
}

// SaveSnapshot stores snap under name, replacing any snapshot already
// there. runID links the snapshot to the run that produced it and may be
// empty.
func (s *Store) SaveSnapshot(ctx context.Context, name, runID string, snap *codec.Snapshot) error {
	var buf bytes.Buffer
	if err := codec.EncodeSnapshot(&buf, snap); err != nil {
		return fmt.Errorf("save snapshot %q: %w", name, err)
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO snapshots (name, run_id, objects, data)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			run_id = excluded.run_id,
			objects = excluded.objects,
			data = excluded.data
	`, name, runID, len(snap.Objects), buf.Bytes())
	if err != nil {
		return fmt.Errorf("save snapshot %q: %w", name, err)
	}
	return nil
}

// LoadSnapshot decodes the snapshot stored under name.
// Returns sql.ErrNoRows if not found.
func (s *Store) LoadSnapshot(ctx context.Context, name string) (*codec.Snapshot, error) {
	var data []byte
	err := s.q.QueryRowContext(ctx, `
		SELECT data FROM snapshots WHERE name = ?
	`, name).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot %q: %w", name, err)
	}
	snap, err := codec.DecodeSnapshot(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("load snapshot %q: %w", name, err)
	}
	return snap, nil
}

// ListSnapshots returns stored snapshots ordered by name.
// Returns an empty slice (not nil) if there are none.
func (s *Store) ListSnapshots(ctx context.Context) ([]SnapshotInfo, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT name, run_id, objects, length(data)
		FROM snapshots
		ORDER BY name COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	infos := []SnapshotInfo{}
	for rows.Next() {
		var info SnapshotInfo
		if err := rows.Scan(&info.Name, &info.RunID, &info.Objects, &info.Size); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return infos, nil
}
