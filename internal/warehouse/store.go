package warehouse

import "github.com/rotisserie/eris"

const abandonedMessage = "abandoned by takeover"

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func checkRowsAffected(n int64, runID string) error {
	if n == 0 {
		return eris.Errorf("warehouse: run %s not found", runID)
	}
	return nil
}

var (
	_ Warehouse = (*PostgresStore)(nil)
	_ Warehouse = (*SQLiteStore)(nil)
)
