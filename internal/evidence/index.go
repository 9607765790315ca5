package evidence

import (
	"database/sql"
	"time"

	_ "modernc.org/sqlite"

	"github.com/corvidlabs/corvid-core/internal/errs"
)

// SQLiteIndex is a queryable secondary index over evidence items, packages,
// and audit entries (SPEC_FULL §2 component Q). The JSON vault remains the
// source of truth; this index is rebuildable from it via RebuildFromVault.
type SQLiteIndex struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS items (
	id TEXT PRIMARY KEY,
	investigation_id TEXT,
	kind TEXT,
	hash TEXT,
	verified INTEGER,
	sealed INTEGER
);
CREATE TABLE IF NOT EXISTS packages (
	id TEXT PRIMARY KEY,
	name TEXT,
	investigation_id TEXT,
	case_id TEXT,
	hash TEXT,
	sealed INTEGER
);
CREATE TABLE IF NOT EXISTS audit (
	id TEXT PRIMARY KEY,
	investigation_id TEXT,
	action TEXT,
	actor TEXT,
	timestamp TEXT,
	details TEXT
);
CREATE INDEX IF NOT EXISTS idx_items_investigation ON items(investigation_id);
CREATE INDEX IF NOT EXISTS idx_audit_investigation ON audit(investigation_id);
`

// NewSQLiteIndex opens (creating if absent) the index database at dsn, e.g.
// "<basePath>/index.db".
func NewSQLiteIndex(dsn string) (*SQLiteIndex, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errs.Wrap(errs.IllegalState, "evidence: sqlite open failed", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, errs.Wrap(errs.IllegalState, "evidence: sqlite schema init failed", err)
	}
	return &SQLiteIndex{db: db}, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// IndexItem upserts one item's summary row.
func (idx *SQLiteIndex) IndexItem(it Item) error {
	_, err := idx.db.Exec(
		`INSERT INTO items (id, investigation_id, kind, hash, verified, sealed) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET kind=excluded.kind, hash=excluded.hash, verified=excluded.verified, sealed=excluded.sealed`,
		it.ID, it.InvestigationID, it.Kind, it.Hash, boolToInt(it.Verified), boolToInt(it.Sealed),
	)
	if err != nil {
		return errs.Wrap(errs.IllegalState, "evidence: index item failed", err)
	}
	return nil
}

// IndexPackage upserts one package's summary row.
func (idx *SQLiteIndex) IndexPackage(pk Package) error {
	_, err := idx.db.Exec(
		`INSERT INTO packages (id, name, investigation_id, case_id, hash, sealed) VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, hash=excluded.hash, sealed=excluded.sealed`,
		pk.ID, pk.Name, pk.InvestigationID, pk.CaseID, pk.Hash, boolToInt(pk.Sealed),
	)
	if err != nil {
		return errs.Wrap(errs.IllegalState, "evidence: index package failed", err)
	}
	return nil
}

// IndexAudit inserts one audit entry row.
func (idx *SQLiteIndex) IndexAudit(e AuditEntry) error {
	_, err := idx.db.Exec(
		`INSERT OR IGNORE INTO audit (id, investigation_id, action, actor, timestamp, details) VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.InvestigationID, e.Action, e.Actor, e.Timestamp.UTC().Format(time.RFC3339Nano), e.Details,
	)
	if err != nil {
		return errs.Wrap(errs.IllegalState, "evidence: index audit failed", err)
	}
	return nil
}

// QueryItemsByInvestigation returns item ids indexed under an investigation.
func (idx *SQLiteIndex) QueryItemsByInvestigation(investigationID string) ([]string, error) {
	rows, err := idx.db.Query(`SELECT id FROM items WHERE investigation_id = ?`, investigationID)
	if err != nil {
		return nil, errs.Wrap(errs.IllegalState, "evidence: query failed", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errs.Wrap(errs.IllegalState, "evidence: scan failed", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// RebuildFromVault re-derives the item rows from the JSON vault. Nothing in
// the startup path calls it; the index is not rebuilt automatically.
func (idx *SQLiteIndex) RebuildFromVault(v *Vault) error {
	ids, err := v.ListItemIDs()
	if err != nil {
		return err
	}
	for _, id := range ids {
		item, err := v.ReadItem(id)
		if err != nil {
			continue
		}
		if err := idx.IndexItem(*item); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (idx *SQLiteIndex) Close() error {
	return idx.db.Close()
}
