package index

import (
	"database/sql"
	"fmt"

	"github.com/radiocosmology/alpenhorn/pkg/alptypes"
)

// SetCopyState upserts the FileCopy row for (fileID, node) into newState,
// recording observedSize. The (file, node) tuple is unique (§3); a second
// call for the same tuple updates in place rather than creating a second
// row.
func (idx *Index) SetCopyState(fileID int64, node string, newState alptypes.CopyState, observedSize int64) error {
	return withRetry(defaultMaxRetryAttempts, func() error {
		_, err := idx.db.Exec(`
			INSERT INTO filecopy (file_fk, node_fk, state, has_file, size_b, last_update, last_check)
			VALUES (?, ?, ?, ?, ?, NOW(), NOW())
			ON DUPLICATE KEY UPDATE
				state = VALUES(state),
				has_file = VALUES(has_file),
				size_b = VALUES(size_b),
				last_update = NOW(),
				last_check = NOW()
		`, fileID, node, newState.DBChar(), newState != alptypes.CopyRemoved, observedSize)
		return err
	})
}

// MarkSuspect flags the copy as Suspect with a zeroed last-check timestamp,
// which is how verification requests are encoded in the Index (§3
// "implicit verification").
func (idx *Index) MarkSuspect(fileID int64, node string) error {
	return withRetry(defaultMaxRetryAttempts, func() error {
		_, err := idx.db.Exec(`
			UPDATE filecopy SET state = ?, last_check = 0
			WHERE file_fk = ? AND node_fk = ?
		`, alptypes.CopySuspect.DBChar(), fileID, node)
		return err
	})
}

// ArchiveCopyCount returns the number of OTHER nodes of storage_type 'A'
// holding a Healthy copy of fileID - the quantity the delete-guard
// invariant compares against 2 (§3, §8 property 1).
func (idx *Index) ArchiveCopyCount(fileID int64, excludingNode string) (int, error) {
	row := idx.db.QueryRow(`
		SELECT COUNT(*)
		FROM filecopy fc
		JOIN storage_node n ON n.name = fc.node_fk
		WHERE fc.file_fk = ?
		  AND fc.node_fk != ?
		  AND fc.state = ?
		  AND n.storage_type = 'A'
	`, fileID, excludingNode, alptypes.CopyHealthy.DBChar())

	var count int
	err := row.Scan(&count)
	return count, err
}

// SuspectCopies returns up to limit FileCopies in the Suspect state on
// node, for the per-tick verify-task batch (§4.8 step 2).
func (idx *Index) SuspectCopies(node string, limit int) ([]alptypes.FileCopy, error) {
	return idx.copiesInState(node, alptypes.CopySuspect, limit)
}

// ReleasedCopies returns up to limit FileCopies in the Released state on
// node, for the per-tick delete-task batch (§4.8 step 2).
func (idx *Index) ReleasedCopies(node string, limit int) ([]alptypes.FileCopy, error) {
	return idx.copiesInState(node, alptypes.CopyReleased, limit)
}

// MissingCopies returns up to limit FileCopies in the Missing state on
// node. tidy_up() reconciles these against what's actually on disk (§4.4):
// a Missing copy that reappears is put back to Healthy without re-hashing,
// since Missing only ever means "not where the Index expected it," not
// "content unverified." Suspect copies are deliberately excluded here - they
// stay Suspect until the real verify task hashes them.
func (idx *Index) MissingCopies(node string, limit int) ([]alptypes.FileCopy, error) {
	return idx.copiesInState(node, alptypes.CopyMissing, limit)
}

func (idx *Index) copiesInState(node string, state alptypes.CopyState, limit int) ([]alptypes.FileCopy, error) {
	rows, err := idx.db.Query(`
		SELECT id, file_fk, node_fk, state, has_file, size_b, last_update, last_check
		FROM filecopy
		WHERE node_fk = ? AND state = ?
		ORDER BY id
		LIMIT ?
	`, node, state.DBChar(), limit)
	if err != nil {
		return nil, fmt.Errorf("index: copiesInState: %w", err)
	}
	defer rows.Close()

	var copies []alptypes.FileCopy
	for rows.Next() {
		fc, err := scanFileCopy(rows)
		if err != nil {
			return nil, err
		}
		copies = append(copies, fc)
	}
	return copies, rows.Err()
}

func scanFileCopy(rows *sql.Rows) (alptypes.FileCopy, error) {
	var fc alptypes.FileCopy
	var stateChar string
	var lastCheck sql.NullTime

	if err := rows.Scan(&fc.ID, &fc.FileID, &fc.NodeName, &stateChar, &fc.HasFile,
		&fc.SizeOnNode, &fc.LastUpdate, &lastCheck); err != nil {
		return alptypes.FileCopy{}, err
	}

	fc.State = alptypes.CopyStateFromDBChar(stateChar)
	if lastCheck.Valid {
		fc.LastCheck = lastCheck.Time
	}

	return fc, nil
}

// HealthyCopyExists reports whether fileID already has a Healthy copy on
// any node in group - the transfer engine's pre-pull dedup check (§4.7
// step 1).
func (idx *Index) HealthyCopyExists(fileID int64, group string) (bool, error) {
	row := idx.db.QueryRow(`
		SELECT COUNT(*)
		FROM filecopy fc
		JOIN storage_node n ON n.name = fc.node_fk
		WHERE fc.file_fk = ? AND n.group_fk = ? AND fc.state = ?
	`, fileID, group, alptypes.CopyHealthy.DBChar())

	var count int
	if err := row.Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}
