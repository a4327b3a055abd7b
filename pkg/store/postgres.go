package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/xhad/rolerag/internal/models"
	"github.com/xhad/rolerag/internal/types"
	"github.com/xhad/rolerag/pkg/errs"
	"github.com/xhad/rolerag/pkg/role"
)

type PostgresConfig struct {
	ConnString string
	TableName  string
	VectorDim  int
	BatchSize  int
	Logger     *zap.Logger
}

// Postgres stores documents in a pgvector table and answers Match through a
// SQL function that applies the role filter, threshold, ordering and limit
// inside the database.
type Postgres struct {
	config PostgresConfig
	pool   *pgxpool.Pool
	table  string
	fn     string
	logger *zap.Logger
}

func NewPostgres(ctx context.Context, config PostgresConfig) (*Postgres, error) {
	if config.TableName == "" {
		config.TableName = "documents"
	}
	if config.VectorDim == 0 {
		config.VectorDim = 1536 // Default for OpenAI text-embedding-3-small
	}
	if config.BatchSize == 0 {
		config.BatchSize = 100
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeStoreUnavailable, "failed to connect to database")
	}

	ps := &Postgres{
		config: config,
		pool:   pool,
		table:  pgx.Identifier{config.TableName}.Sanitize(),
		fn:     pgx.Identifier{"match_" + config.TableName}.Sanitize(),
		logger: config.Logger.With(zap.String("store", "postgres"), zap.String("table", config.TableName)),
	}

	if err := ps.initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return ps, nil
}

func (ps *Postgres) initialize(ctx context.Context) error {
	if _, err := ps.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return errs.Wrap(err, errs.CodeStoreUnavailable, "failed to create vector extension")
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			content TEXT NOT NULL CHECK (content <> ''),
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			allowed_roles TEXT[] NOT NULL CHECK (
				cardinality(allowed_roles) > 0 AND allowed_roles <@ %s
			),
			embedding vector(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, ps.table, roleArrayLiteral(), ps.config.VectorDim)

	if _, err := ps.pool.Exec(ctx, createTable); err != nil {
		return errs.Wrap(err, errs.CodeStoreUnavailable, "failed to create table")
	}

	if err := ps.checkDimension(ctx); err != nil {
		return err
	}

	// No ANN index: an approximate index post-filters its candidate list and
	// could drop authorized matches.
	createFunction := fmt.Sprintf(`
		CREATE OR REPLACE FUNCTION %[1]s(
			query_embedding vector(%[2]d),
			match_threshold double precision,
			match_count integer,
			user_role text
		)
		RETURNS TABLE (
			id bigint,
			content text,
			metadata jsonb,
			allowed_roles text[],
			similarity double precision
		)
		LANGUAGE sql STABLE
		AS $$
			SELECT d.id, d.content, d.metadata, d.allowed_roles,
				1 - (d.embedding <=> query_embedding) AS similarity
			FROM %[3]s d
			WHERE user_role = ANY(d.allowed_roles)
				AND 1 - (d.embedding <=> query_embedding) >= match_threshold
			ORDER BY similarity DESC, d.id ASC
			LIMIT match_count
		$$`, ps.fn, ps.config.VectorDim, ps.table)

	if _, err := ps.pool.Exec(ctx, createFunction); err != nil {
		return errs.Wrap(err, errs.CodeStoreUnavailable, "failed to create match function")
	}

	return nil
}

// checkDimension refuses to open a table created for a different vector length.
func (ps *Postgres) checkDimension(ctx context.Context) error {
	var typmod int
	err := ps.pool.QueryRow(ctx, `
		SELECT atttypmod FROM pg_attribute
		WHERE attrelid = to_regclass($1) AND attname = 'embedding'`,
		ps.table).Scan(&typmod)
	if err != nil {
		return errs.Wrap(err, errs.CodeStoreUnavailable, "failed to inspect embedding column")
	}
	if typmod != ps.config.VectorDim {
		return errs.New(errs.CodeDimensionMismatch, "existing table has a different embedding dimension",
			errs.Field("want", ps.config.VectorDim), errs.Field("got", typmod))
	}
	return nil
}

func (ps *Postgres) Dimension() int {
	return ps.config.VectorDim
}

func (ps *Postgres) Insert(ctx context.Context, docs []models.Document) error {
	if err := checkDocuments(docs, ps.config.VectorDim); err != nil {
		return err
	}
	return ps.write(ctx, docs, false)
}

func (ps *Postgres) Replace(ctx context.Context, docs []models.Document) error {
	if err := checkDocuments(docs, ps.config.VectorDim); err != nil {
		return err
	}
	return ps.write(ctx, docs, true)
}

func (ps *Postgres) Clear(ctx context.Context) error {
	if _, err := ps.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s", ps.table)); err != nil {
		return errs.Wrap(err, errs.CodeStoreUnavailable, "failed to clear documents")
	}
	return nil
}

// write inserts docs in batches inside one transaction, optionally clearing
// the table first, so readers never see a partially replaced store.
func (ps *Postgres) write(ctx context.Context, docs []models.Document, replace bool) error {
	start := time.Now()

	tx, err := ps.pool.Begin(ctx)
	if err != nil {
		return errs.Wrap(err, errs.CodeStoreUnavailable, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	if replace {
		if _, err := tx.Exec(ctx, fmt.Sprintf("DELETE FROM %s", ps.table)); err != nil {
			return errs.Wrap(err, errs.CodeStoreUnavailable, "failed to clear documents")
		}
	}

	stmt := fmt.Sprintf(`
		INSERT INTO %s (content, metadata, allowed_roles, embedding)
		VALUES ($1, $2, $3, $4)`, ps.table)

	for i := 0; i < len(docs); i += ps.config.BatchSize {
		end := i + ps.config.BatchSize
		if end > len(docs) {
			end = len(docs)
		}

		batch := &pgx.Batch{}
		for _, doc := range docs[i:end] {
			metadata := doc.Metadata
			if metadata == nil {
				metadata = map[string]interface{}{}
			}
			batch.Queue(stmt,
				sanitizeUTF8(doc.Content),
				metadata,
				role.Strings(dedupeRoles(doc.AllowedRoles)),
				pgvector.NewVector(doc.Embedding),
			)
		}

		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return errs.Wrap(err, errs.CodeStoreUnavailable, "failed to insert documents")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return errs.Wrap(err, errs.CodeStoreUnavailable, "failed to commit transaction")
	}

	ps.logger.Debug("documents written",
		zap.Int("count", len(docs)),
		zap.Bool("replaced", replace),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

func (ps *Postgres) Match(ctx context.Context, q types.MatchQuery) ([]models.SearchResult, error) {
	if err := checkQuery(q, ps.config.VectorDim); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT id, content, metadata, allowed_roles, similarity
		FROM %s($1, $2, $3, $4)`, ps.fn)

	rows, err := ps.pool.Query(ctx, query,
		pgvector.NewVector(q.Embedding),
		q.Threshold-types.SimilarityTolerance,
		q.Limit,
		string(q.Role),
	)
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeStoreUnavailable, "failed to query documents")
	}
	defer rows.Close()

	results := make([]models.SearchResult, 0, q.Limit)
	for rows.Next() {
		var (
			res   models.SearchResult
			roles []string
		)
		if err := rows.Scan(&res.ID, &res.Content, &res.Metadata, &roles, &res.Similarity); err != nil {
			return nil, errs.Wrap(err, errs.CodeStoreUnavailable, "failed to scan row")
		}
		res.AllowedRoles = rolesFromStrings(roles)
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(err, errs.CodeStoreUnavailable, "failed to read rows")
	}

	return results, nil
}

func (ps *Postgres) Count(ctx context.Context) (int, error) {
	var n int
	if err := ps.pool.QueryRow(ctx, fmt.Sprintf("SELECT count(*) FROM %s", ps.table)).Scan(&n); err != nil {
		return 0, errs.Wrap(err, errs.CodeStoreUnavailable, "failed to count documents")
	}
	return n, nil
}

func (ps *Postgres) Close() {
	if ps.pool != nil {
		ps.pool.Close()
	}
}

func roleArrayLiteral() string {
	quoted := make([]string, 0, len(role.All()))
	for _, name := range role.Names() {
		quoted = append(quoted, "'"+name+"'")
	}
	return "ARRAY[" + strings.Join(quoted, ",") + "]::text[]"
}
