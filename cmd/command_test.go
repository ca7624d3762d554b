package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/sales-warehouse/internal/config"
	"github.com/sells-group/sales-warehouse/internal/model"
	"github.com/sells-group/sales-warehouse/internal/warehouse"
)

const salesLine = "INV-1,03/01/2024,2633,Hy-Vee #3,1 Main St,Ames,50010,,85,Story,1031100,Vodka," +
	"260,Diageo Americas,38176,Titos Handmade Vodka,12,750,9.05,13.57,12,162.84,9,2.37"

// setupWorkdir creates a working directory holding config.yaml and one
// input file, and returns the sqlite path.
func setupWorkdir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() {
		os.Chdir(origDir)
		zap.ReplaceGlobals(zap.NewNop())
	})

	dbPath := filepath.Join(dir, "wh.db")
	yaml := "warehouse:\n  driver: sqlite\n  sqlite_path: " + dbPath + "\nlog:\n  level: error\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	require.NoError(t, os.Mkdir(filepath.Join(dir, "input"), 0o755))
	csv := strings.Join(model.SourceColumns, ",") + "\n" + salesLine + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "input", "sales_2024_03.csv"), []byte(csv), 0o644))
	return dbPath
}

func execute(t *testing.T, args ...string) error {
	t.Helper()
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		for _, f := range []string{"skip-extract", "extract-only", "takeover"} {
			_ = runCmd.Flags().Set(f, "false")
		}
	})
	return rootCmd.Execute()
}

func TestCommands_MigrateRunStatusHistory(t *testing.T) {
	dbPath := setupWorkdir(t)

	require.NoError(t, execute(t, "migrate"))
	require.NoError(t, execute(t, "run"))
	require.NoError(t, execute(t, "status", "--limit", "5"))
	require.NoError(t, execute(t, "history", "vendor", "0260"))

	wh, err := warehouse.NewSQLite(dbPath)
	require.NoError(t, err)
	defer wh.Close() //nolint:errcheck

	ctx := context.Background()
	runs, err := wh.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunStatusComplete, runs[0].Status)
	assert.EqualValues(t, 1, runs[0].Summary["facts_loaded"])

	versions, err := wh.Versions(ctx, model.VendorDimension, "260")
	require.NoError(t, err)
	require.Len(t, versions, 1)
	assert.Equal(t, []string{"Diageo Americas"}, versions[0].Values)
}

func TestCommands_RunRejectsConflictingFlags(t *testing.T) {
	setupWorkdir(t)

	err := execute(t, "run", "--skip-extract", "--extract-only")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mutually exclusive")
}

func TestCommands_HistoryUnknownDimension(t *testing.T) {
	setupWorkdir(t)

	err := execute(t, "history", "customer", "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown dimension")
}

func TestOpenWarehouse_InvalidConfig(t *testing.T) {
	orig := cfg
	t.Cleanup(func() { cfg = orig })

	cfg = validTestConfig(t)
	cfg.Warehouse.Driver = "mysql"

	_, err := openWarehouse(context.Background(), "migrate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "warehouse.driver")
}

func TestOpenSource_Dir(t *testing.T) {
	orig := cfg
	t.Cleanup(func() { cfg = orig })

	cfg = validTestConfig(t)
	src, err := openSource(context.Background())
	require.NoError(t, err)

	objs, err := src.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, objs)
}

func validTestConfig(t *testing.T) *config.Config {
	t.Helper()
	c := &config.Config{}
	c.Warehouse.Driver = warehouse.DriverSQLite
	c.Warehouse.SQLitePath = filepath.Join(t.TempDir(), "wh.db")
	c.Source.Kind = "dir"
	c.Source.Dir = t.TempDir()
	c.Source.OnProvenanceUnavailable = "fail"
	c.Pipeline.StagingBatchSize = 100
	c.Pipeline.ChunkSize = 10
	c.Pipeline.LoadBatchSize = 100
	c.Pipeline.ResolveWorkers = 1
	c.Pipeline.RetryAttempts = 1
	return c
}
