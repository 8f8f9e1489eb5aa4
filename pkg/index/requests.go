package index

import (
	"fmt"

	"github.com/radiocosmology/alpenhorn/pkg/alptypes"
)

// PendingImportRequests returns up to limit incomplete ImportRequests
// targeting node, oldest first, for the per-tick import batch (§4.8 step 2).
func (idx *Index) PendingImportRequests(node string, limit int) ([]alptypes.ImportRequest, error) {
	q, args, err := idx.sb.Select(
		"id", "path", "node_fk", "recurse", "register_new", "timestamp",
	).From("importrequest").
		Where("node_fk = ? AND completed = 0", node).
		OrderBy("timestamp ASC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := idx.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("index: PendingImportRequests: %w", err)
	}
	defer rows.Close()

	var reqs []alptypes.ImportRequest
	for rows.Next() {
		var r alptypes.ImportRequest
		if err := rows.Scan(&r.ID, &r.Path, &r.NodeName, &r.Recurse, &r.RegisterNew, &r.Timestamp); err != nil {
			return nil, err
		}
		reqs = append(reqs, r)
	}
	return reqs, rows.Err()
}

// PendingCopyRequests returns up to limit incomplete, uncancelled
// CopyRequests whose destination is destGroup, oldest first (§4.8 step 3).
func (idx *Index) PendingCopyRequests(destGroup string, limit int) ([]alptypes.CopyRequest, error) {
	q, args, err := idx.sb.Select(
		"id", "file_fk", "node_from_fk", "group_to_fk", "timestamp", "n_requests",
	).From("copyrequest").
		Where("group_to_fk = ? AND completed = 0 AND cancelled = 0", destGroup).
		OrderBy("timestamp ASC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := idx.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("index: PendingCopyRequests: %w", err)
	}
	defer rows.Close()

	var reqs []alptypes.CopyRequest
	for rows.Next() {
		var r alptypes.CopyRequest
		if err := rows.Scan(&r.ID, &r.FileID, &r.SourceNode, &r.DestGroup, &r.Timestamp, &r.NRequests); err != nil {
			return nil, err
		}
		reqs = append(reqs, r)
	}
	return reqs, rows.Err()
}

// CreateImportRequest inserts a new ImportRequest row - the Index-producing
// effect of the CLI's "node scan"/"file import" commands (§6).
func (idx *Index) CreateImportRequest(req alptypes.ImportRequest) (int64, error) {
	var id int64
	err := withRetry(defaultMaxRetryAttempts, func() error {
		res, err := idx.db.Exec(`
			INSERT INTO importrequest (path, node_fk, recurse, register_new, completed, timestamp)
			VALUES (?, ?, ?, ?, 0, NOW())
		`, req.Path, req.NodeName, req.Recurse, req.RegisterNew)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// CreateCopyRequest inserts a new CopyRequest row - the Index-producing
// effect of "file sync" / "node sync" (§6).
func (idx *Index) CreateCopyRequest(req alptypes.CopyRequest) (int64, error) {
	var id int64
	err := withRetry(defaultMaxRetryAttempts, func() error {
		res, err := idx.db.Exec(`
			INSERT INTO copyrequest (file_fk, node_from_fk, group_to_fk, completed, cancelled, timestamp, n_requests)
			VALUES (?, ?, ?, 0, 0, NOW(), 1)
		`, req.FileID, req.SourceNode, req.DestGroup)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// IncrementCopyRequestAttempts bumps n_requests after a failed pull
// attempt, so the daemon loop's give-up threshold (§4.7 step 6) survives a
// restart instead of resetting to the in-memory count from the last tick.
func (idx *Index) IncrementCopyRequestAttempts(id int64) error {
	return withRetry(defaultMaxRetryAttempts, func() error {
		_, err := idx.db.Exec(`UPDATE copyrequest SET n_requests = n_requests + 1 WHERE id = ?`, id)
		return err
	})
}

// CompleteRequest marks either an ImportRequest or a CopyRequest completed.
// Requests are append-only (§3): this flips a flag, never deletes a row.
func (idx *Index) CompleteRequest(kind RequestKind, id int64) error {
	table := tableFor(kind)
	return withRetry(defaultMaxRetryAttempts, func() error {
		_, err := idx.db.Exec(fmt.Sprintf(`UPDATE %s SET completed = 1 WHERE id = ?`, table), id)
		return err
	})
}

// CancelRequest marks a CopyRequest cancelled. Only CopyRequests carry a
// cancelled flag in the schema (§6); cancelling an ImportRequest is not a
// modeled operation.
func (idx *Index) CancelRequest(id int64) error {
	return withRetry(defaultMaxRetryAttempts, func() error {
		_, err := idx.db.Exec(`UPDATE copyrequest SET cancelled = 1 WHERE id = ?`, id)
		return err
	})
}

// RequestKind distinguishes the two append-only request tables.
type RequestKind int

const (
	ImportRequestKind RequestKind = iota
	CopyRequestKind
)

func tableFor(kind RequestKind) string {
	if kind == CopyRequestKind {
		return "copyrequest"
	}
	return "importrequest"
}

// MarkTransferStarted, MarkTransferCompleted record the two timestamps the schema
// carries for observability of in-flight transfers (§6 copyrequest
// columns); the transfer engine calls these around the subprocess run.
func (idx *Index) MarkTransferStarted(id int64) error {
	return withRetry(defaultMaxRetryAttempts, func() error {
		_, err := idx.db.Exec(`UPDATE copyrequest SET transfer_started = NOW() WHERE id = ?`, id)
		return err
	})
}

func (idx *Index) MarkTransferCompleted(id int64) error {
	return withRetry(defaultMaxRetryAttempts, func() error {
		_, err := idx.db.Exec(`UPDATE copyrequest SET transfer_completed = NOW() WHERE id = ?`, id)
		return err
	})
}
