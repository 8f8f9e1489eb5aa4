package index

import (
	"database/sql"
	"fmt"

	"github.com/radiocosmology/alpenhorn/pkg/alptypes"
)

// UpsertAcquisition creates acq if it does not already exist. Acquisitions
// are immutable once created (§3), so an existing row with the same name
// is simply returned as a no-op rather than updated.
func (idx *Index) UpsertAcquisition(name string, typeName string) error {
	return withRetry(defaultMaxRetryAttempts, func() error {
		_, err := idx.db.Exec(
			`INSERT INTO acq (name, type_name) VALUES (?, ?)`,
			name, typeName)
		if err != nil && isDuplicateKey(err) {
			return nil
		}
		return err
	})
}

// UpsertFile registers a File under acq, returning its ID. If a file of
// the same (acq, name) already exists, its size and hash must match
// exactly; a mismatch is ErrFileMismatch and the existing registration is
// left untouched (§4.6 step 4 - never overwrite).
func (idx *Index) UpsertFile(acq, name string, size int64, md5 [16]byte) (int64, error) {
	var id int64

	err := withRetry(defaultMaxRetryAttempts, func() error {
		res, err := idx.db.Exec(
			`INSERT INTO file (acq_fk, name, size_b, md5sum, registered)
			 VALUES (?, ?, ?, ?, NOW())`,
			acq, name, size, md5[:])
		if err == nil {
			id, err = res.LastInsertId()
			return err
		}

		if !isDuplicateKey(err) {
			return err
		}

		existing, ferr := idx.fileByAcqName(acq, name)
		if ferr != nil {
			return ferr
		}

		if existing.SizeBytes != size || existing.MD5 != md5 {
			return fmt.Errorf("%w: %s/%s: have size=%d md5=%x, got size=%d md5=%x",
				alptypes.ErrFileMismatch, acq, name,
				existing.SizeBytes, existing.MD5, size, md5)
		}

		id = existing.ID
		return nil
	})

	return id, err
}

// AcquisitionExists reports whether name has already been registered -
// the Import algorithm's register_new=false guard (§4.6 step 4): a path
// under a brand-new acquisition is skipped rather than auto-registered
// when the caller opted out.
func (idx *Index) AcquisitionExists(name string) (bool, error) {
	row := idx.db.QueryRow(`SELECT COUNT(*) FROM acq WHERE name = ?`, name)
	var count int
	if err := row.Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

func (idx *Index) fileByAcqName(acq, name string) (alptypes.File, error) {
	row := idx.db.QueryRow(`
		SELECT id, size_b, md5sum
		FROM file
		WHERE acq_fk = ? AND name = ?
	`, acq, name)

	var f alptypes.File
	var md5 []byte
	if err := row.Scan(&f.ID, &f.SizeBytes, &md5); err != nil {
		return alptypes.File{}, err
	}
	copy(f.MD5[:], md5)
	f.AcqName = acq
	f.Name = name
	return f, nil
}

// FileByID fetches a File by its primary key.
func (idx *Index) FileByID(id int64) (alptypes.File, error) {
	row := idx.db.QueryRow(`
		SELECT f.id, a.name, f.name, f.size_b, f.md5sum, f.registered
		FROM file f JOIN acq a ON a.name = f.acq_fk
		WHERE f.id = ?
	`, id)

	var f alptypes.File
	var md5 []byte
	if err := row.Scan(&f.ID, &f.AcqName, &f.Name, &f.SizeBytes, &md5, &f.Registered); err != nil {
		if err == sql.ErrNoRows {
			return alptypes.File{}, fmt.Errorf("index: file %d: %w", id, sql.ErrNoRows)
		}
		return alptypes.File{}, err
	}
	copy(f.MD5[:], md5)
	return f, nil
}
