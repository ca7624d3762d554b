package warehouse

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/sells-group/sales-warehouse/internal/model"
)

// timestampLayout is fixed width so text comparison orders timestamps.
const timestampLayout = "2006-01-02T15:04:05.000000Z"

// sqliteKeyBatch bounds the number of bound parameters per IN list.
const sqliteKeyBatch = 500

// SQLiteStore implements Warehouse on a single SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, eris.New("sqlite: path is required")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One connection keeps per-connection pragmas in effect and serializes writers.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS processed_files (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	file_name   TEXT NOT NULL,
	ingested_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_processed_files_name ON processed_files(file_name);

CREATE TABLE IF NOT EXISTS staging_sales (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	invoice_line_no     TEXT,
	date                TEXT,
	store               TEXT,
	name                TEXT,
	address             TEXT,
	city                TEXT,
	zipcode             TEXT,
	store_location      TEXT,
	county_number       TEXT,
	county              TEXT,
	category            TEXT,
	category_name       TEXT,
	vendor_no           TEXT,
	vendor_name         TEXT,
	itemno              TEXT,
	im_desc             TEXT,
	pack                TEXT,
	bottle_volume_ml    TEXT,
	state_bottle_cost   TEXT,
	state_bottle_retail TEXT,
	sale_bottles        TEXT,
	sale_dollars        TEXT,
	sale_liters         TEXT,
	sale_gallons        TEXT,
	file_name           TEXT NOT NULL,
	ingested_at         TEXT NOT NULL,
	source_row          INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_staging_sales_order ON staging_sales(ingested_at, file_name, source_row);

CREATE TABLE IF NOT EXISTS date_dim (
	date_key   INTEGER PRIMARY KEY AUTOINCREMENT,
	date       TEXT NOT NULL,
	year       INTEGER NOT NULL,
	month      INTEGER NOT NULL,
	day        INTEGER NOT NULL,
	quarter    INTEGER NOT NULL,
	weekday    TEXT NOT NULL,
	start_date TEXT NOT NULL,
	end_date   TEXT,
	is_active  INTEGER NOT NULL DEFAULT 1,
	CHECK ((end_date IS NULL) = (is_active = 1))
);
CREATE UNIQUE INDEX IF NOT EXISTS uq_date_dim_active ON date_dim(date) WHERE is_active = 1;

CREATE TABLE IF NOT EXISTS store_dim (
	store_key     INTEGER PRIMARY KEY AUTOINCREMENT,
	store_id      TEXT NOT NULL,
	address       TEXT NOT NULL,
	city          TEXT NOT NULL,
	zipcode       TEXT NOT NULL,
	county_number TEXT NOT NULL,
	county        TEXT NOT NULL,
	start_date    TEXT NOT NULL,
	end_date      TEXT,
	is_active     INTEGER NOT NULL DEFAULT 1,
	CHECK ((end_date IS NULL) = (is_active = 1))
);
CREATE UNIQUE INDEX IF NOT EXISTS uq_store_dim_active ON store_dim(store_id) WHERE is_active = 1;

CREATE TABLE IF NOT EXISTS item_dim (
	item_key            INTEGER PRIMARY KEY AUTOINCREMENT,
	itemno              TEXT NOT NULL,
	im_desc             TEXT NOT NULL,
	category            TEXT NOT NULL,
	category_name       TEXT NOT NULL,
	pack                INTEGER NOT NULL,
	bottle_volume_ml    INTEGER NOT NULL,
	state_bottle_cost   NUMERIC NOT NULL,
	state_bottle_retail NUMERIC NOT NULL,
	start_date          TEXT NOT NULL,
	end_date            TEXT,
	is_active           INTEGER NOT NULL DEFAULT 1,
	CHECK ((end_date IS NULL) = (is_active = 1))
);
CREATE UNIQUE INDEX IF NOT EXISTS uq_item_dim_active ON item_dim(itemno) WHERE is_active = 1;

CREATE TABLE IF NOT EXISTS vendor_dim (
	vendor_key  INTEGER PRIMARY KEY AUTOINCREMENT,
	vendor_no   TEXT NOT NULL,
	vendor_name TEXT NOT NULL,
	start_date  TEXT NOT NULL,
	end_date    TEXT,
	is_active   INTEGER NOT NULL DEFAULT 1,
	CHECK ((end_date IS NULL) = (is_active = 1))
);
CREATE UNIQUE INDEX IF NOT EXISTS uq_vendor_dim_active ON vendor_dim(vendor_no) WHERE is_active = 1;

CREATE TABLE IF NOT EXISTS sales_fact (
	fact_id                     INTEGER PRIMARY KEY AUTOINCREMENT,
	invoice_line_no             TEXT NOT NULL,
	store                       TEXT NOT NULL,
	date_key                    INTEGER NOT NULL REFERENCES date_dim(date_key),
	store_key                   INTEGER NOT NULL REFERENCES store_dim(store_key),
	item_key                    INTEGER NOT NULL REFERENCES item_dim(item_key),
	vendor_key                  INTEGER NOT NULL REFERENCES vendor_dim(vendor_key),
	revenue                     NUMERIC NOT NULL,
	profit                      NUMERIC NOT NULL,
	cost                        NUMERIC NOT NULL,
	total_bottles_sold          NUMERIC NOT NULL,
	total_volume_sold_in_liters NUMERIC NOT NULL,
	profit_margin               NUMERIC NOT NULL,
	average_bottle_price        NUMERIC NOT NULL,
	volume_per_bottle_sold      NUMERIC NOT NULL,
	processed_timestamp         TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sales_fact_processed ON sales_fact(processed_timestamp);

CREATE TABLE IF NOT EXISTS run_log (
	id           TEXT PRIMARY KEY,
	status       TEXT NOT NULL,
	started_at   TEXT NOT NULL,
	completed_at TEXT,
	summary      TEXT,
	error        TEXT
);
CREATE UNIQUE INDEX IF NOT EXISTS uq_run_log_running ON run_log(status) WHERE status = 'running';
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteSchema)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func formatTS(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTS(s string) (time.Time, error) {
	t, err := time.Parse(timestampLayout, s)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "sqlite: parse timestamp %q", s)
	}
	return t, nil
}

func parseDay(s string) (time.Time, error) {
	t, err := time.Parse(model.DateLayout, s)
	if err != nil {
		return time.Time{}, eris.Wrapf(err, "sqlite: parse date %q", s)
	}
	return t, nil
}

// sqliteValue converts a member or fact value for storage.
func sqliteValue(v any) any {
	switch val := v.(type) {
	case decimal.Decimal:
		return val.StringFixed(model.DecimalScale)
	case time.Time:
		return formatTS(val)
	default:
		return v
	}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func insertRows(ctx context.Context, tx *sql.Tx, table string, cols []string, rows [][]any) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (%s) VALUES (%s)`, table, strings.Join(cols, ", "), placeholders(len(cols)),
	))
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: prepare insert %s", table)
	}
	defer stmt.Close() //nolint:errcheck

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert %s", table)
		}
	}
	return len(rows), nil
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(tx); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit tx")
}

// --- Provenance ---

func (s *SQLiteStore) ProcessedFiles(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT file_name FROM processed_files`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query processed files")
	}
	defer rows.Close() //nolint:errcheck

	files := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan processed file")
		}
		files[name] = struct{}{}
	}
	return files, eris.Wrap(rows.Err(), "sqlite: iterate processed files")
}

func (s *SQLiteStore) MarkProcessed(ctx context.Context, entry model.ProvenanceEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO processed_files (file_name, ingested_at) VALUES (?, ?)`,
		entry.FileName, formatTS(entry.IngestedAt),
	)
	return eris.Wrapf(err, "sqlite: mark processed %s", entry.FileName)
}

// --- Staging ---

func (s *SQLiteStore) AppendStaging(ctx context.Context, records []model.StagingRecord) error {
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
		rows[i] = append(row, r.FileName, formatTS(r.IngestedAt), r.SourceRow)
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := insertRows(ctx, tx, stagingTable, model.StagingColumns(), rows)
		return err
	})
}

func (s *SQLiteStore) DiscardStaging(ctx context.Context, fileName string, ingestedAt time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM `+stagingTable+` WHERE file_name = ? AND ingested_at = ?`,
		fileName, formatTS(ingestedAt),
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: discard staging %s", fileName)
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: discard staging rows affected")
}

func (s *SQLiteStore) StagingSince(ctx context.Context, after *time.Time) ([]model.StagingRecord, error) {
	cols := make([]string, 0, len(model.SourceColumns)+3)
	for _, c := range model.SourceColumns {
		cols = append(cols, fmt.Sprintf("COALESCE(%s, '')", c))
	}
	cols = append(cols, "file_name", "ingested_at", "source_row")

	query := `SELECT ` + strings.Join(cols, ", ") + ` FROM ` + stagingTable
	order := ` ORDER BY ingested_at, file_name, source_row`

	var (
		rows *sql.Rows
		err  error
	)
	if after == nil {
		rows, err = s.db.QueryContext(ctx, query+order)
	} else {
		rows, err = s.db.QueryContext(ctx, query+` WHERE ingested_at > ?`+order, formatTS(*after))
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query staging")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.StagingRecord
	for rows.Next() {
		var r model.StagingRecord
		var ingested string
		dest := make([]any, 0, len(cols))
		for _, f := range r.Fields() {
			dest = append(dest, f)
		}
		dest = append(dest, &r.FileName, &ingested, &r.SourceRow)
		if err := rows.Scan(dest...); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan staging row")
		}
		if r.IngestedAt, err = parseTS(ingested); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate staging")
}

// --- Dimensions ---

func sqliteVersionQuery(dim model.Dimension, where string) string {
	cols := []string{dim.SurrogateColumn, dim.KeyColumn}
	for _, a := range dim.Attributes {
		cols = append(cols, fmt.Sprintf("COALESCE(CAST(%s AS TEXT), '')", a.Column))
	}
	cols = append(cols, "start_date", "end_date", "is_active")
	return `SELECT ` + strings.Join(cols, ", ") + ` FROM ` + dim.Table + ` WHERE ` + where
}

func (s *SQLiteStore) queryVersions(ctx context.Context, dim model.Dimension, where string, args ...any) ([]model.DimensionVersion, error) {
	rows, err := s.db.QueryContext(ctx, sqliteVersionQuery(dim, where), args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: query %s versions", dim.Name)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.DimensionVersion
	for rows.Next() {
		var (
			v        = model.DimensionVersion{Values: make([]string, len(dim.Attributes))}
			start    string
			end      sql.NullString
			isActive bool
		)
		dest := []any{&v.SurrogateKey, &v.NaturalKey}
		for i := range v.Values {
			dest = append(dest, &v.Values[i])
		}
		dest = append(dest, &start, &end, &isActive)
		if err := rows.Scan(dest...); err != nil {
			return nil, eris.Wrapf(err, "sqlite: scan %s version", dim.Name)
		}
		if v.StartDate, err = parseDay(start); err != nil {
			return nil, err
		}
		if end.Valid {
			e, err := parseDay(end.String)
			if err != nil {
				return nil, err
			}
			v.EndDate = &e
		}
		v.IsActive = isActive
		out = append(out, v)
	}
	return out, eris.Wrapf(rows.Err(), "sqlite: iterate %s versions", dim.Name)
}

func (s *SQLiteStore) QueryActive(ctx context.Context, dim model.Dimension) ([]model.DimensionVersion, error) {
	return s.queryVersions(ctx, dim, "is_active = 1 ORDER BY "+dim.KeyColumn)
}

func (s *SQLiteStore) Versions(ctx context.Context, dim model.Dimension, naturalKey string) ([]model.DimensionVersion, error) {
	return s.queryVersions(ctx, dim, dim.KeyColumn+" = ? ORDER BY start_date, "+dim.SurrogateColumn, naturalKey)
}

func sqliteMemberRows(members []model.Member, start time.Time) [][]any {
	day := start.UTC().Format(model.DateLayout)
	rows := make([][]any, 0, len(members))
	for _, m := range members {
		row := []any{m.NaturalKey()}
		for _, v := range m.Values() {
			row = append(row, sqliteValue(v))
		}
		rows = append(rows, append(row, day, nil, 1))
	}
	return rows
}

func (s *SQLiteStore) AppendMembers(ctx context.Context, dim model.Dimension, members []model.Member, start time.Time) (int, error) {
	var n int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		n, err = insertRows(ctx, tx, dim.Table, dim.InsertColumns(), sqliteMemberRows(members, start))
		return err
	})
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: append %s members", dim.Name)
	}
	return n, nil
}

func (s *SQLiteStore) ExpireAndInsert(ctx context.Context, dim model.Dimension, keys []string, members []model.Member, asOf time.Time) (int, int, error) {
	day := asOf.UTC().Format(model.DateLayout)

	var expired, inserted int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for lo := 0; lo < len(keys); lo += sqliteKeyBatch {
			hi := min(lo+sqliteKeyBatch, len(keys))
			args := []any{day}
			for _, k := range keys[lo:hi] {
				args = append(args, k)
			}
			res, err := tx.ExecContext(ctx, fmt.Sprintf(
				`UPDATE %s SET is_active = 0, end_date = ? WHERE is_active = 1 AND %s IN (%s)`,
				dim.Table, dim.KeyColumn, placeholders(hi-lo),
			), args...)
			if err != nil {
				return eris.Wrapf(err, "sqlite: expire %s versions", dim.Name)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return eris.Wrap(err, "sqlite: rows affected")
			}
			expired += int(n)
		}
		if expired != len(keys) {
			return eris.Wrapf(ErrExpireMismatch, "sqlite: %s expired %d of %d keys", dim.Name, expired, len(keys))
		}

		var err error
		inserted, err = insertRows(ctx, tx, dim.Table, dim.InsertColumns(), sqliteMemberRows(members, asOf))
		return err
	})
	if err != nil {
		return 0, 0, err
	}
	return expired, inserted, nil
}

func (s *SQLiteStore) ActiveKeys(ctx context.Context, dim model.Dimension) ([]model.KeyPair, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT CAST(%s AS TEXT), %s FROM %s WHERE is_active = 1`,
		dim.KeyColumn, dim.SurrogateColumn, dim.Table,
	))
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: query %s keys", dim.Name)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.KeyPair
	for rows.Next() {
		var kp model.KeyPair
		if err := rows.Scan(&kp.NaturalKey, &kp.SurrogateKey); err != nil {
			return nil, eris.Wrapf(err, "sqlite: scan %s key", dim.Name)
		}
		out = append(out, kp)
	}
	return out, eris.Wrapf(rows.Err(), "sqlite: iterate %s keys", dim.Name)
}

// --- Facts ---

func (s *SQLiteStore) AppendFacts(ctx context.Context, facts []model.SalesFact) (int64, error) {
	rows := make([][]any, len(facts))
	for i, f := range facts {
		vals := f.Values()
		for j, v := range vals {
			vals[j] = sqliteValue(v)
		}
		rows[i] = vals
	}

	var n int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		n, err = insertRows(ctx, tx, factTable, model.FactColumns, rows)
		return err
	})
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: append facts")
	}
	return int64(n), nil
}

func (s *SQLiteStore) MaxProcessedTimestamp(ctx context.Context) (*time.Time, error) {
	var ts sql.NullString
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(processed_timestamp) FROM sales_fact`).Scan(&ts); err != nil {
		return nil, eris.Wrap(err, "sqlite: max processed timestamp")
	}
	if !ts.Valid {
		return nil, nil
	}
	t, err := parseTS(ts.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// --- Run log ---

type sqliteCoder interface {
	Code() int
}

func isSQLiteUnique(err error) bool {
	var sc sqliteCoder
	if !errors.As(err, &sc) {
		return false
	}
	return sc.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
		(sc.Code()&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(err.Error(), "UNIQUE"))
}

func (s *SQLiteStore) StartRun(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_log (id, status, started_at) VALUES (?, ?, ?)`,
		id, string(model.RunStatusRunning), formatTS(time.Now()),
	)
	if err != nil {
		if isSQLiteUnique(err) {
			return eris.Wrapf(ErrRunInProgress, "sqlite: start run %s", id)
		}
		return eris.Wrapf(err, "sqlite: start run %s", id)
	}
	return nil
}

func (s *SQLiteStore) finishRun(ctx context.Context, id string, status model.RunStatus, summary map[string]any, msg string) error {
	var summaryJSON any
	if summary != nil {
		b, err := json.Marshal(summary)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal run summary")
		}
		summaryJSON = string(b)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE run_log SET status = ?, completed_at = ?, summary = ?, error = ? WHERE id = ?`,
		string(status), formatTS(time.Now()), summaryJSON, nullIfEmpty(msg), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish run %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	return checkRowsAffected(n, id)
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, id string, summary map[string]any) error {
	return s.finishRun(ctx, id, model.RunStatusComplete, summary, "")
}

func (s *SQLiteStore) FailRun(ctx context.Context, id string, msg string) error {
	return s.finishRun(ctx, id, model.RunStatusFailed, nil, msg)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]model.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, status, started_at, completed_at, summary, error
		 FROM run_log ORDER BY started_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.Run
	for rows.Next() {
		var (
			r                 model.Run
			status, started   string
			completed         sql.NullString
			summaryJSON, errS sql.NullString
		)
		if err := rows.Scan(&r.ID, &status, &started, &completed, &summaryJSON, &errS); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		r.Status = model.RunStatus(status)
		if r.StartedAt, err = parseTS(started); err != nil {
			return nil, err
		}
		if completed.Valid {
			c, err := parseTS(completed.String)
			if err != nil {
				return nil, err
			}
			r.CompletedAt = &c
		}
		if summaryJSON.Valid {
			_ = json.Unmarshal([]byte(summaryJSON.String), &r.Summary)
		}
		r.Error = errS.String
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: iterate runs")
}

func (s *SQLiteStore) AbandonRunning(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE run_log SET status = ?, completed_at = ?, error = ? WHERE status = ?`,
		string(model.RunStatusAbandoned), formatTS(time.Now()), abandonedMessage, string(model.RunStatusRunning),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: abandon running runs")
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: rows affected")
}
