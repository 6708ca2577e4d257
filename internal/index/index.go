// Package index is a SQLite-backed query cache over snapshot records,
// adapted from daemon/manager/persistence.go's schema-versioned
// database/sql + modernc.org/sqlite PersistentStore. This index is never
// the source of truth: metadata.json is, and this cache is always fully
// rebuildable from it (Rebuild), exercised by the `list` command for
// filtered/paginated queries.
package index

import (
	"database/sql"
	"time"

	_ "modernc.org/sqlite"

	"github.com/vaultline/backup/internal/engerr"
	"github.com/vaultline/backup/internal/manifest"
)

// Index wraps a SQLite connection holding a denormalized copy of every
// snapshot record.
type Index struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL);

CREATE TABLE IF NOT EXISTS snapshots (
	id              TEXT PRIMARY KEY,
	created_at      TEXT NOT NULL,
	label           TEXT NOT NULL,
	merkle_root     TEXT NOT NULL,
	prev_root       TEXT NOT NULL,
	prev_chain_hash TEXT NOT NULL,
	chain_hash      TEXT NOT NULL,
	manifest_hash   TEXT NOT NULL,
	total_files     INTEGER NOT NULL,
	total_chunks    INTEGER NOT NULL,
	sequence        INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_snapshots_created_at ON snapshots(created_at);
CREATE INDEX IF NOT EXISTS idx_snapshots_sequence ON snapshots(sequence);
`

const currentSchemaVersion = 1

// Open opens (creating if absent) the SQLite index database at path and
// ensures its schema exists.
func Open(path string) (*Index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, engerr.Wrap(engerr.IoError, err, "open snapshot index %s", path)
	}
	db.SetMaxOpenConns(1) // single-process, single-writer engine
	db.SetConnMaxLifetime(time.Hour)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, engerr.Wrap(engerr.IoError, err, "initialize snapshot index schema")
	}
	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&count); err != nil {
		db.Close()
		return nil, engerr.Wrap(engerr.IoError, err, "read schema_version")
	}
	if count == 0 {
		if _, err := db.Exec("INSERT INTO schema_version (version) VALUES (?)", currentSchemaVersion); err != nil {
			db.Close()
			return nil, engerr.Wrap(engerr.IoError, err, "seed schema_version")
		}
	}
	return &Index{db: db}, nil
}

// Close releases the SQLite handle.
func (i *Index) Close() error {
	return i.db.Close()
}

// Rebuild replaces the entire snapshots table with records, used at process
// start (after WAL recovery) to bring the cache back in sync with
// metadata.json, the durable source of truth.
func (i *Index) Rebuild(records []manifest.SnapshotRecord) error {
	tx, err := i.db.Begin()
	if err != nil {
		return engerr.Wrap(engerr.IoError, err, "begin index rebuild transaction")
	}
	if _, err := tx.Exec("DELETE FROM snapshots"); err != nil {
		tx.Rollback()
		return engerr.Wrap(engerr.IoError, err, "clear snapshot index")
	}
	stmt, err := tx.Prepare(`INSERT INTO snapshots
		(id, created_at, label, merkle_root, prev_root, prev_chain_hash, chain_hash, manifest_hash, total_files, total_chunks, sequence)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return engerr.Wrap(engerr.IoError, err, "prepare snapshot insert")
	}
	defer stmt.Close()
	for _, r := range records {
		if _, err := stmt.Exec(r.ID, r.CreatedAt, r.Label, r.MerkleRoot, r.PrevRoot, r.PrevChainHash, r.ChainHash, r.ManifestHash, r.TotalFiles, r.TotalChunks, r.Sequence); err != nil {
			tx.Rollback()
			return engerr.Wrap(engerr.IoError, err, "insert snapshot %s into index", r.ID)
		}
	}
	if err := tx.Commit(); err != nil {
		return engerr.Wrap(engerr.IoError, err, "commit snapshot index rebuild")
	}
	return nil
}

// List returns snapshot records newest-first by created_at, honoring limit
// (0 means unlimited) and offset, for the `list` command's paginated view.
// offset is applied only when limit > 0.
func (i *Index) List(limit, offset int) ([]manifest.SnapshotRecord, error) {
	query := "SELECT id, created_at, label, merkle_root, prev_root, prev_chain_hash, chain_hash, manifest_hash, total_files, total_chunks, sequence FROM snapshots ORDER BY created_at DESC"
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, offset)
	}
	rows, err := i.db.Query(query, args...)
	if err != nil {
		return nil, engerr.Wrap(engerr.IoError, err, "query snapshot index")
	}
	defer rows.Close()

	var out []manifest.SnapshotRecord
	for rows.Next() {
		var r manifest.SnapshotRecord
		if err := rows.Scan(&r.ID, &r.CreatedAt, &r.Label, &r.MerkleRoot, &r.PrevRoot, &r.PrevChainHash, &r.ChainHash, &r.ManifestHash, &r.TotalFiles, &r.TotalChunks, &r.Sequence); err != nil {
			return nil, engerr.Wrap(engerr.IoError, err, "scan snapshot row")
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, engerr.Wrap(engerr.IoError, err, "iterate snapshot rows")
	}
	return out, nil
}

// Get returns a single snapshot record by id, or nil if not indexed.
func (i *Index) Get(id string) (*manifest.SnapshotRecord, error) {
	var r manifest.SnapshotRecord
	row := i.db.QueryRow("SELECT id, created_at, label, merkle_root, prev_root, prev_chain_hash, chain_hash, manifest_hash, total_files, total_chunks, sequence FROM snapshots WHERE id = ?", id)
	err := row.Scan(&r.ID, &r.CreatedAt, &r.Label, &r.MerkleRoot, &r.PrevRoot, &r.PrevChainHash, &r.ChainHash, &r.ManifestHash, &r.TotalFiles, &r.TotalChunks, &r.Sequence)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, engerr.Wrap(engerr.IoError, err, "get snapshot %s from index", id)
	}
	return &r, nil
}

// LastCommittedSequence returns the highest sequence number present, or -1
// if the index is empty. Called by control.Open next to wal.LastCommitted
// after recovery.
func (i *Index) LastCommittedSequence() (int64, error) {
	var seq sql.NullInt64
	if err := i.db.QueryRow("SELECT MAX(sequence) FROM snapshots").Scan(&seq); err != nil {
		return -1, engerr.Wrap(engerr.IoError, err, "read max sequence from index")
	}
	if !seq.Valid {
		return -1, nil
	}
	return seq.Int64, nil
}
