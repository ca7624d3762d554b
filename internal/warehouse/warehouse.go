// Package warehouse persists staging rows, SCD2 dimensions, sales facts and
// the run log behind backend-neutral interfaces.
package warehouse

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sales-warehouse/internal/model"
)

var (
	// ErrRunInProgress is returned by StartRun when another run holds the
	// single running slot.
	ErrRunInProgress = eris.New("warehouse: another run is in progress")

	// ErrExpireMismatch is returned by ExpireAndInsert when the number of
	// expired rows differs from the number of keys. The transaction is rolled back.
	ErrExpireMismatch = eris.New("warehouse: expired row count does not match keys")
)

// ProvenanceStore tracks which source files have been staged.
type ProvenanceStore interface {
	// ProcessedFiles returns every file name with a provenance entry.
	ProcessedFiles(ctx context.Context) (map[string]struct{}, error)
	// MarkProcessed appends a provenance entry. Duplicate marks are tolerated.
	MarkProcessed(ctx context.Context, entry model.ProvenanceEntry) error
}

// StagingStore holds raw rows between extraction and cleaning.
type StagingStore interface {
	AppendStaging(ctx context.Context, records []model.StagingRecord) error
	// StagingSince returns rows ingested strictly after the given time in
	// staging order. A nil time returns every staged row.
	StagingSince(ctx context.Context, after *time.Time) ([]model.StagingRecord, error)
	// DiscardStaging deletes the rows staged from one file at one ingestion
	// time and returns how many were removed.
	DiscardStaging(ctx context.Context, fileName string, ingestedAt time.Time) (int64, error)
}

// DimensionStore reads and versions SCD2 dimension rows.
type DimensionStore interface {
	QueryActive(ctx context.Context, dim model.Dimension) ([]model.DimensionVersion, error)
	// Versions returns the full history of one natural key ordered by start date.
	Versions(ctx context.Context, dim model.Dimension, naturalKey string) ([]model.DimensionVersion, error)
	// AppendMembers inserts new active versions starting at start.
	AppendMembers(ctx context.Context, dim model.Dimension, members []model.Member, start time.Time) (int, error)
	// ExpireAndInsert expires the active version of every key and inserts
	// members as new active versions in one transaction.
	ExpireAndInsert(ctx context.Context, dim model.Dimension, keys []string, members []model.Member, asOf time.Time) (expired, inserted int, err error)
	ActiveKeys(ctx context.Context, dim model.Dimension) ([]model.KeyPair, error)
}

// FactStore appends resolved sales facts.
type FactStore interface {
	// AppendFacts writes facts in one transaction and returns the row count.
	AppendFacts(ctx context.Context, facts []model.SalesFact) (int64, error)
	// MaxProcessedTimestamp returns nil when the fact table is empty.
	MaxProcessedTimestamp(ctx context.Context) (*time.Time, error)
}

// RunLog records pipeline runs. At most one run is running at a time.
type RunLog interface {
	StartRun(ctx context.Context, id string) error
	CompleteRun(ctx context.Context, id string, summary map[string]any) error
	FailRun(ctx context.Context, id string, msg string) error
	ListRuns(ctx context.Context, limit int) ([]model.Run, error)
	// AbandonRunning marks every running row abandoned and returns how many changed.
	AbandonRunning(ctx context.Context) (int64, error)
}

// Warehouse is the full store handle used by one pipeline run.
type Warehouse interface {
	ProvenanceStore
	StagingStore
	DimensionStore
	FactStore
	RunLog

	Migrate(ctx context.Context) error
	Close() error
}

// Options selects and configures a backend.
type Options struct {
	Driver      string `mapstructure:"driver"`
	DatabaseURL string `mapstructure:"database_url"`
	SQLitePath  string `mapstructure:"sqlite_path"`
	MaxConns    int32  `mapstructure:"max_conns"`
	MinConns    int32  `mapstructure:"min_conns"`
}

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Open connects to the configured backend.
func Open(ctx context.Context, opts Options) (Warehouse, error) {
	switch opts.Driver {
	case DriverPostgres, "":
		if opts.DatabaseURL == "" {
			return nil, eris.New("warehouse: database_url is required for postgres")
		}
		return NewPostgres(ctx, opts.DatabaseURL, &PoolConfig{MaxConns: opts.MaxConns, MinConns: opts.MinConns})
	case DriverSQLite:
		return NewSQLite(opts.SQLitePath)
	default:
		return nil, eris.Errorf("warehouse: unknown driver %q", opts.Driver)
	}
}
