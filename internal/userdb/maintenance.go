package userdb

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"userstore/internal/platform/sqlite"
	"userstore/internal/shared"
)

// CheckpointResult reports one WAL checkpoint. Outside WAL mode LogFrames and
// Checkpointed are -1.
type CheckpointResult struct {
	Busy         bool
	LogFrames    int
	Checkpointed int
}

// Checkpoint copies committed WAL frames into the main file and truncates the
// log. Busy is set when concurrent connections kept it from completing; that
// is not an error.
func (db *DB) Checkpoint(ctx context.Context) (CheckpointResult, error) {
	if err := db.ready(); err != nil {
		return CheckpointResult{}, err
	}

	cur, err := db.exec.Execute(ctx, sqlite.MustQuery("PRAGMA wal_checkpoint(TRUNCATE)"))
	if err != nil {
		return CheckpointResult{}, db.fail("checkpoint", err)
	}
	defer func() { _ = cur.Close() }()

	if !cur.HasRow() || cur.Columns() < 3 {
		return CheckpointResult{}, db.fail("checkpoint", fmt.Errorf("userdb: checkpoint returned no status (%s)", cur.Code()))
	}

	var res CheckpointResult
	fields := []*int{nil, &res.LogFrames, &res.Checkpointed}
	for i, dst := range fields {
		n, err := strconv.Atoi(cur.Text(i))
		if err != nil {
			return CheckpointResult{}, db.fail("checkpoint", fmt.Errorf("userdb: checkpoint column %d: %w", i, err))
		}
		if dst == nil {
			res.Busy = n != 0
			continue
		}
		*dst = n
	}

	db.log.Debug("checkpoint",
		slog.Bool("busy", res.Busy),
		slog.Int("log_frames", res.LogFrames),
		slog.Int("checkpointed", res.Checkpointed))
	return res, nil
}

// StorageSize returns the size of the backing file plus its WAL.
func (db *DB) StorageSize() (int64, error) {
	size, err := sqlite.StorageSize(db.path)
	if err != nil {
		return 0, shared.MarkKind(err, shared.KindInternal)
	}
	return size, nil
}
