package warehouse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/sales-warehouse/internal/db"
	"github.com/sells-group/sales-warehouse/internal/model"
)

const (
	pgSchema       = "sales"
	stagingTable   = "staging_sales"
	factTable      = "sales_fact"
	provenanceTbl  = "processed_files"
	uniqueViolated = "23505"
)

// PostgresStore implements Warehouse on a pgx pool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `mapstructure:"max_conns"`
	MinConns int32 `mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. The caller owns its lifecycle.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	return migrate(ctx, s.pool)
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func pgTable(table string) string {
	return db.SanitizeTable(pgSchema + "." + table)
}

func pgIdent(col string) string {
	return pgx.Identifier{col}.Sanitize()
}

// --- Provenance ---

func (s *PostgresStore) ProcessedFiles(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT file_name FROM `+pgTable(provenanceTbl))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query processed files")
	}
	defer rows.Close()

	files := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "postgres: scan processed file")
		}
		files[name] = struct{}{}
	}
	return files, eris.Wrap(rows.Err(), "postgres: iterate processed files")
}

func (s *PostgresStore) MarkProcessed(ctx context.Context, entry model.ProvenanceEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+pgTable(provenanceTbl)+` (file_name, ingested_at) VALUES ($1, $2)`,
		entry.FileName, entry.IngestedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: mark processed %s", entry.FileName)
}

// --- Staging ---

func (s *PostgresStore) AppendStaging(ctx context.Context, records []model.StagingRecord) error {
	if len(records) == 0 {
		return nil
	}

	rows := make([][]any, len(records))
	for i := range records {
		r := &records[i]
		row := make([]any, 0, len(model.SourceColumns)+3)
		for _, f := range r.Fields() {
			row = append(row, nullIfEmpty(*f))
		}
		rows[i] = append(row, r.FileName, r.IngestedAt.UTC(), int32(r.SourceRow))
	}

	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := db.CopyFromSchema(ctx, tx, pgSchema, stagingTable, model.StagingColumns(), rows)
		return err
	})
}

func (s *PostgresStore) DiscardStaging(ctx context.Context, fileName string, ingestedAt time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM `+pgTable(stagingTable)+` WHERE file_name = $1 AND ingested_at = $2`,
		fileName, ingestedAt.UTC(),
	)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: discard staging %s", fileName)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) StagingSince(ctx context.Context, after *time.Time) ([]model.StagingRecord, error) {
	cols := make([]string, 0, len(model.SourceColumns)+3)
	for _, c := range model.SourceColumns {
		cols = append(cols, fmt.Sprintf("COALESCE(%s, '')", pgIdent(c)))
	}
	cols = append(cols, "file_name", "ingested_at", "source_row")

	query := `SELECT ` + strings.Join(cols, ", ") + ` FROM ` + pgTable(stagingTable)
	order := ` ORDER BY ingested_at, file_name, source_row`

	var (
		rows pgx.Rows
		err  error
	)
	if after == nil {
		rows, err = s.pool.Query(ctx, query+order)
	} else {
		rows, err = s.pool.Query(ctx, query+` WHERE ingested_at > $1`+order, after.UTC())
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query staging")
	}
	defer rows.Close()

	var out []model.StagingRecord
	for rows.Next() {
		var r model.StagingRecord
		var sourceRow int32
		dest := make([]any, 0, len(cols))
		for _, f := range r.Fields() {
			dest = append(dest, f)
		}
		dest = append(dest, &r.FileName, &r.IngestedAt, &sourceRow)
		if err := rows.Scan(dest...); err != nil {
			return nil, eris.Wrap(err, "postgres: scan staging row")
		}
		r.IngestedAt = r.IngestedAt.UTC()
		r.SourceRow = int(sourceRow)
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate staging")
}

// --- Dimensions ---

// pgText renders a column as text. Dates use a fixed format so the result
// does not depend on the session DateStyle.
func pgText(col string, kind model.AttrKind) string {
	if kind == model.KindDate {
		return fmt.Sprintf("to_char(%s, 'YYYY-MM-DD')", pgIdent(col))
	}
	return pgIdent(col) + "::text"
}

func pgVersionQuery(dim model.Dimension, where string) string {
	cols := []string{pgIdent(dim.SurrogateColumn), pgText(dim.KeyColumn, dim.KeyKind)}
	for _, a := range dim.Attributes {
		cols = append(cols, fmt.Sprintf("COALESCE(%s, '')", pgText(a.Column, a.Kind)))
	}
	cols = append(cols, "start_date", "end_date", "is_active")
	return `SELECT ` + strings.Join(cols, ", ") + ` FROM ` + pgTable(dim.Table) + ` WHERE ` + where
}

func scanVersions(rows pgx.Rows, dim model.Dimension) ([]model.DimensionVersion, error) {
	defer rows.Close()

	var out []model.DimensionVersion
	for rows.Next() {
		v := model.DimensionVersion{Values: make([]string, len(dim.Attributes))}
		dest := []any{&v.SurrogateKey, &v.NaturalKey}
		for i := range v.Values {
			dest = append(dest, &v.Values[i])
		}
		dest = append(dest, &v.StartDate, &v.EndDate, &v.IsActive)
		if err := rows.Scan(dest...); err != nil {
			return nil, eris.Wrapf(err, "postgres: scan %s version", dim.Name)
		}
		out = append(out, v)
	}
	return out, eris.Wrapf(rows.Err(), "postgres: iterate %s versions", dim.Name)
}

func (s *PostgresStore) QueryActive(ctx context.Context, dim model.Dimension) ([]model.DimensionVersion, error) {
	rows, err := s.pool.Query(ctx, pgVersionQuery(dim, "is_active ORDER BY "+pgIdent(dim.KeyColumn)))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: query active %s", dim.Name)
	}
	return scanVersions(rows, dim)
}

func (s *PostgresStore) Versions(ctx context.Context, dim model.Dimension, naturalKey string) ([]model.DimensionVersion, error) {
	match := pgIdent(dim.KeyColumn) + "::text = $1"
	if dim.KeyKind == model.KindDate {
		match = pgIdent(dim.KeyColumn) + " = $1::date"
	}
	where := match + " ORDER BY start_date, " + pgIdent(dim.SurrogateColumn)
	rows, err := s.pool.Query(ctx, pgVersionQuery(dim, where), naturalKey)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: query %s versions", dim.Name)
	}
	return scanVersions(rows, dim)
}

func (s *PostgresStore) AppendMembers(ctx context.Context, dim model.Dimension, members []model.Member, start time.Time) (int, error) {
	rows, err := pgMemberRows(dim, members, start)
	if err != nil {
		return 0, err
	}
	n, err := db.CopyFromSchema(ctx, s.pool, pgSchema, dim.Table, dim.InsertColumns(), rows)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: append %s members", dim.Name)
	}
	return int(n), nil
}

func (s *PostgresStore) ExpireAndInsert(ctx context.Context, dim model.Dimension, keys []string, members []model.Member, asOf time.Time) (int, int, error) {
	rows, err := pgMemberRows(dim, members, asOf)
	if err != nil {
		return 0, 0, err
	}

	keyArg := "$2::text[]"
	if dim.KeyKind == model.KindDate {
		keyArg = "$2::text[]::date[]"
	}
	update := fmt.Sprintf(
		`UPDATE %s SET is_active = FALSE, end_date = $1 WHERE is_active AND %s = ANY(%s)`,
		pgTable(dim.Table), pgIdent(dim.KeyColumn), keyArg,
	)

	var expired, inserted int
	err = db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, update, dateOnly(asOf), keys)
		if err != nil {
			return eris.Wrapf(err, "postgres: expire %s versions", dim.Name)
		}
		expired = int(tag.RowsAffected())
		if expired != len(keys) {
			return eris.Wrapf(ErrExpireMismatch, "postgres: %s expired %d of %d keys", dim.Name, expired, len(keys))
		}

		n, err := db.CopyFromSchema(ctx, tx, pgSchema, dim.Table, dim.InsertColumns(), rows)
		if err != nil {
			return eris.Wrapf(err, "postgres: insert %s versions", dim.Name)
		}
		inserted = int(n)
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return expired, inserted, nil
}

func (s *PostgresStore) ActiveKeys(ctx context.Context, dim model.Dimension) ([]model.KeyPair, error) {
	rows, err := s.pool.Query(ctx, fmt.Sprintf(
		`SELECT %s, %s FROM %s WHERE is_active`,
		pgText(dim.KeyColumn, dim.KeyKind), pgIdent(dim.SurrogateColumn), pgTable(dim.Table),
	))
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: query %s keys", dim.Name)
	}
	defer rows.Close()

	var out []model.KeyPair
	for rows.Next() {
		var kp model.KeyPair
		if err := rows.Scan(&kp.NaturalKey, &kp.SurrogateKey); err != nil {
			return nil, eris.Wrapf(err, "postgres: scan %s key", dim.Name)
		}
		out = append(out, kp)
	}
	return out, eris.Wrapf(rows.Err(), "postgres: iterate %s keys", dim.Name)
}

// pgMemberRows renders members as COPY rows in InsertColumns order.
func pgMemberRows(dim model.Dimension, members []model.Member, start time.Time) ([][]any, error) {
	rows := make([][]any, 0, len(members))
	for _, m := range members {
		key, err := pgValue(dim.KeyKind, m.NaturalKey())
		if err != nil {
			return nil, eris.Wrapf(err, "postgres: encode %s key %s", dim.Name, m.NaturalKey())
		}
		row := []any{key}
		for i, v := range m.Values() {
			enc, err := pgValue(dim.Attributes[i].Kind, v)
			if err != nil {
				return nil, eris.Wrapf(err, "postgres: encode %s.%s", dim.Name, dim.Attributes[i].Column)
			}
			row = append(row, enc)
		}
		rows = append(rows, append(row, dateOnly(start), nil, true))
	}
	return rows, nil
}

// pgValue converts a member or fact value to a type pgx can COPY.
func pgValue(kind model.AttrKind, v any) (any, error) {
	switch val := v.(type) {
	case decimal.Decimal:
		return toNumeric(val)
	case string:
		if kind == model.KindDate {
			return model.ParseDate(val)
		}
	}
	return v, nil
}

func toNumeric(d decimal.Decimal) (pgtype.Numeric, error) {
	var n pgtype.Numeric
	if err := n.Scan(d.String()); err != nil {
		return n, eris.Wrapf(err, "postgres: numeric %s", d.String())
	}
	return n, nil
}

func dateOnly(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// --- Facts ---

func (s *PostgresStore) AppendFacts(ctx context.Context, facts []model.SalesFact) (int64, error) {
	if len(facts) == 0 {
		return 0, nil
	}

	rows := make([][]any, len(facts))
	for i, f := range facts {
		vals := f.Values()
		for j, v := range vals {
			enc, err := pgValue(model.KindDecimal, v)
			if err != nil {
				return 0, err
			}
			vals[j] = enc
		}
		rows[i] = vals
	}

	var n int64
	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		n, err = db.CopyFromSchema(ctx, tx, pgSchema, factTable, model.FactColumns, rows)
		return err
	})
	if err != nil {
		return 0, eris.Wrap(err, "postgres: append facts")
	}
	return n, nil
}

func (s *PostgresStore) MaxProcessedTimestamp(ctx context.Context) (*time.Time, error) {
	var ts *time.Time
	err := s.pool.QueryRow(ctx, `SELECT MAX(processed_timestamp) FROM `+pgTable(factTable)).Scan(&ts)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: max processed timestamp")
	}
	if ts != nil {
		utc := ts.UTC()
		ts = &utc
	}
	return ts, nil
}

// --- Run log ---

func (s *PostgresStore) StartRun(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+pgTable("run_log")+` (id, status, started_at) VALUES ($1, $2, now())`,
		id, string(model.RunStatusRunning),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolated {
			return eris.Wrapf(ErrRunInProgress, "postgres: start run %s", id)
		}
		return eris.Wrapf(err, "postgres: start run %s", id)
	}
	return nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, id string, summary map[string]any) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal run summary")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+pgTable("run_log")+` SET status = $1, completed_at = now(), summary = $2 WHERE id = $3`,
		string(model.RunStatusComplete), summaryJSON, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", id)
	}
	return checkRowsAffected(tag.RowsAffected(), id)
}

func (s *PostgresStore) FailRun(ctx context.Context, id string, msg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+pgTable("run_log")+` SET status = $1, completed_at = now(), error = $2 WHERE id = $3`,
		string(model.RunStatusFailed), msg, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %s", id)
	}
	return checkRowsAffected(tag.RowsAffected(), id)
}

func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]model.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, status, started_at, completed_at, summary, error
		 FROM `+pgTable("run_log")+` ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var (
			r           model.Run
			status      string
			summaryJSON []byte
			errStr      *string
		)
		if err := rows.Scan(&r.ID, &status, &r.StartedAt, &r.CompletedAt, &summaryJSON, &errStr); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		r.Status = model.RunStatus(status)
		if errStr != nil {
			r.Error = *errStr
		}
		if len(summaryJSON) > 0 {
			_ = json.Unmarshal(summaryJSON, &r.Summary)
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: iterate runs")
}

func (s *PostgresStore) AbandonRunning(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+pgTable("run_log")+` SET status = $1, completed_at = now(), error = $2 WHERE status = $3`,
		string(model.RunStatusAbandoned), abandonedMessage, string(model.RunStatusRunning),
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: abandon running runs")
	}
	return tag.RowsAffected(), nil
}
