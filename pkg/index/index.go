// Package index is the Data Index client: typed accessors over the shared
// relational schema, with row-level updates that retry on deadlock. Every
// exported method is its own short transaction - there is no long-running
// transaction anywhere in this package, so crash recovery is always
// bounded by the last row that successfully committed (§4.1).
package index

import (
	"database/sql"
	"fmt"
	"math/rand"
	"time"

	"github.com/Masterminds/squirrel"
	_ "github.com/go-sql-driver/mysql"

	"github.com/radiocosmology/alpenhorn/pkg/errtag"
)

// SchemaVersion is the dataindex_version row value this build expects.
// A mismatch at startup is fatal (exit code 4, §6).
const SchemaVersion = 1

type Index struct {
	db *sql.DB
	sb squirrel.StatementBuilderType
}

// Open connects to MySQL at dsn and configures pool limits sized for a
// long-lived daemon holding many short transactions rather than a few
// long ones.
func Open(dsn string) (*Index, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, errtag.Config(fmt.Errorf("index: open: %w", err))
	}

	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, errtag.Transient(fmt.Errorf("index: ping: %w", err))
	}

	return &Index{
		db: db,
		sb: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
	}, nil
}

func (idx *Index) Close() error { return idx.db.Close() }

// CheckSchemaVersion reads dataindex_version and compares it to
// SchemaVersion. A missing table or a mismatched version is both fatal.
func (idx *Index) CheckSchemaVersion() error {
	row := idx.db.QueryRow(`SELECT ver FROM dataindex_version LIMIT 1`)

	var ver int
	if err := row.Scan(&ver); err != nil {
		return errtag.Schema(fmt.Errorf("index: reading schema version: %w", err))
	}

	if ver != SchemaVersion {
		return errtag.Schema(fmt.Errorf("index: schema version %d, daemon expects %d", ver, SchemaVersion))
	}

	return nil
}

// withRetry runs fn, retrying with a randomized 50-500ms backoff if fn
// returns a deadlock or lock-wait-timeout error, up to maxAttempts total
// tries. Any other error is returned as-is; exhaustion of attempts returns
// the last error wrapped and tagged errtag.Transient, for the caller to log
// and re-surface at the next update tick (§4.1, §7).
func withRetry(maxAttempts int, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt < maxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		lastErr = err

		if !isRetryable(err) {
			return err
		}

		backoff := 50*time.Millisecond + time.Duration(rand.Intn(450))*time.Millisecond
		time.Sleep(backoff)
	}

	return errtag.Transient(fmt.Errorf("index: giving up after %d attempts: %w", maxAttempts, lastErr))
}

const defaultMaxRetryAttempts = 4
