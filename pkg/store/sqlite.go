package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/xhad/rolerag/internal/models"
	"github.com/xhad/rolerag/internal/types"
	"github.com/xhad/rolerag/pkg/errs"
	"github.com/xhad/rolerag/pkg/role"
)

func init() {
	sqlite_vec.Auto()
}

// SQLite keeps documents in a local database file and scores them with
// sqlite-vec's vec_distance_cosine. Role membership lives in a join table
// constrained to the role enumeration.
type SQLite struct {
	db     *sql.DB
	dim    int
	logger *zap.Logger
}

// NewSQLite opens (or creates) the database at path for vectors of length dim.
func NewSQLite(ctx context.Context, path string, dim int, logger *zap.Logger) (*SQLite, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeStoreUnavailable, "opening sqlite db")
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errs.Wrap(err, errs.CodeStoreUnavailable, "pinging sqlite db")
	}

	s := &SQLite{db: db, dim: dim, logger: logger.With(zap.String("store", "sqlite"))}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) migrate(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS store_meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS documents (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			content   TEXT NOT NULL CHECK (content <> ''),
			metadata  TEXT NOT NULL DEFAULT '{}',
			embedding BLOB NOT NULL
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS document_roles (
			document_id INTEGER NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			role        TEXT NOT NULL CHECK (role IN (%s)),
			PRIMARY KEY (document_id, role)
		)`, roleInList()),
		`CREATE INDEX IF NOT EXISTS document_roles_role_idx ON document_roles(role, document_id)`,
	}
	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errs.Wrap(err, errs.CodeStoreUnavailable, "migrating sqlite schema")
		}
	}

	var stored string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM store_meta WHERE key = 'dimension'`).Scan(&stored)
	switch {
	case err == sql.ErrNoRows:
		if _, err := s.db.ExecContext(ctx, `INSERT INTO store_meta(key, value) VALUES ('dimension', ?)`,
			strconv.Itoa(s.dim)); err != nil {
			return errs.Wrap(err, errs.CodeStoreUnavailable, "recording dimension")
		}
	case err != nil:
		return errs.Wrap(err, errs.CodeStoreUnavailable, "reading dimension")
	case stored != strconv.Itoa(s.dim):
		return errs.New(errs.CodeDimensionMismatch, "existing database has a different embedding dimension",
			errs.Field("want", s.dim), errs.Field("got", stored))
	}
	return nil
}

func (s *SQLite) Dimension() int {
	return s.dim
}

func (s *SQLite) Insert(ctx context.Context, docs []models.Document) error {
	if err := checkDocuments(docs, s.dim); err != nil {
		return err
	}
	return s.write(ctx, docs, false)
}

func (s *SQLite) Replace(ctx context.Context, docs []models.Document) error {
	if err := checkDocuments(docs, s.dim); err != nil {
		return err
	}
	return s.write(ctx, docs, true)
}

func (s *SQLite) Clear(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Wrap(err, errs.CodeStoreUnavailable, "beginning transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if err := clearTx(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return errs.Wrap(err, errs.CodeStoreUnavailable, "committing clear")
	}
	return nil
}

func clearTx(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM document_roles`); err != nil {
		return errs.Wrap(err, errs.CodeStoreUnavailable, "clearing document roles")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents`); err != nil {
		return errs.Wrap(err, errs.CodeStoreUnavailable, "clearing documents")
	}
	return nil
}

func (s *SQLite) write(ctx context.Context, docs []models.Document, replace bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Wrap(err, errs.CodeStoreUnavailable, "beginning transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if replace {
		if err := clearTx(ctx, tx); err != nil {
			return err
		}
	}

	for _, doc := range docs {
		blob, err := sqlite_vec.SerializeFloat32(doc.Embedding)
		if err != nil {
			return errs.Wrap(err, errs.CodeInvalidDocument, "serializing embedding")
		}

		metaJSON := []byte("{}")
		if len(doc.Metadata) > 0 {
			metaJSON, err = json.Marshal(doc.Metadata)
			if err != nil {
				return errs.Wrap(err, errs.CodeInvalidDocument, "marshalling metadata")
			}
		}

		res, err := tx.ExecContext(ctx,
			`INSERT INTO documents(content, metadata, embedding) VALUES (?, ?, ?)`,
			sanitizeUTF8(doc.Content), string(metaJSON), blob)
		if err != nil {
			return errs.Wrap(err, errs.CodeStoreUnavailable, "inserting document")
		}
		id, err := res.LastInsertId()
		if err != nil {
			return errs.Wrap(err, errs.CodeStoreUnavailable, "reading document id")
		}

		for _, r := range dedupeRoles(doc.AllowedRoles) {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO document_roles(document_id, role) VALUES (?, ?)`, id, string(r)); err != nil {
				return errs.Wrap(err, errs.CodeStoreUnavailable, "inserting document role")
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return errs.Wrap(err, errs.CodeStoreUnavailable, "committing documents")
	}

	s.logger.Debug("documents written", zap.Int("count", len(docs)), zap.Bool("replaced", replace))
	return nil
}

// matchQuery applies role membership, scoring, threshold, ordering and limit
// in one statement; only rows whose role set contains the caller's role are
// ever returned or counted toward the limit.
const matchQuery = `
SELECT id, content, metadata, roles, similarity FROM (
	SELECT d.id, d.content, d.metadata,
		(SELECT group_concat(r.role, ',') FROM document_roles r WHERE r.document_id = d.id) AS roles,
		1.0 - vec_distance_cosine(d.embedding, ?) AS similarity
	FROM documents d
	WHERE EXISTS (
		SELECT 1 FROM document_roles r WHERE r.document_id = d.id AND r.role = ?
	)
)
WHERE similarity >= ?
ORDER BY similarity DESC, id ASC
LIMIT ?`

func (s *SQLite) Match(ctx context.Context, q types.MatchQuery) ([]models.SearchResult, error) {
	if err := checkQuery(q, s.dim); err != nil {
		return nil, err
	}

	blob, err := sqlite_vec.SerializeFloat32(q.Embedding)
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeInvalidArgument, "serializing query vector")
	}

	rows, err := s.db.QueryContext(ctx, matchQuery, blob, string(q.Role),
		q.Threshold-types.SimilarityTolerance, q.Limit)
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeStoreUnavailable, "searching documents")
	}
	defer func() { _ = rows.Close() }()

	results := make([]models.SearchResult, 0, q.Limit)
	for rows.Next() {
		var (
			res      models.SearchResult
			metaStr  string
			rolesStr string
		)
		if err := rows.Scan(&res.ID, &res.Content, &metaStr, &rolesStr, &res.Similarity); err != nil {
			return nil, errs.Wrap(err, errs.CodeStoreUnavailable, "scanning search result")
		}

		res.Metadata = map[string]interface{}{}
		if metaStr != "" && metaStr != "{}" {
			if err := json.Unmarshal([]byte(metaStr), &res.Metadata); err != nil {
				return nil, errs.Wrap(err, errs.CodeIntegrity, "unmarshalling document metadata")
			}
		}
		res.AllowedRoles = rolesFromStrings(strings.Split(rolesStr, ","))
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(err, errs.CodeStoreUnavailable, "iterating search results")
	}

	return results, nil
}

func (s *SQLite) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM documents`).Scan(&n); err != nil {
		return 0, errs.Wrap(err, errs.CodeStoreUnavailable, "counting documents")
	}
	return n, nil
}

func (s *SQLite) Close() {
	if err := s.db.Close(); err != nil {
		s.logger.Warn("closing sqlite db", zap.Error(err))
	}
}

func roleInList() string {
	quoted := make([]string, 0, 4)
	for _, name := range role.Names() {
		quoted = append(quoted, "'"+name+"'")
	}
	return strings.Join(quoted, ", ")
}
