package pipeline

import (
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sales-warehouse/internal/diagnostics"
	"github.com/sells-group/sales-warehouse/internal/model"
)

var candidateHeader = []string{
	"invoice_line_no", "date", "store", "itemno", "vendor_no",
	"revenue", "cost", "profit", "profit_margin", "total_bottles_sold",
	"total_volume_sold_in_liters", "average_bottle_price", "volume_per_bottle_sold",
	"processed_timestamp", "source_file", "source_row",
}

func candidateRow(c model.FactCandidate) []string {
	m := c.Metrics
	return []string{
		c.InvoiceLineNo, c.Date, c.StoreID, c.ItemNo, c.VendorNo,
		m.Revenue.String(), m.Cost.String(), m.Profit.String(), m.ProfitMargin.String(),
		m.TotalBottlesSold.String(), m.TotalVolumeSoldInLiters.String(),
		m.AverageBottlePrice.String(), m.VolumePerBottleSold.String(),
		c.ProcessedTimestamp.UTC().Format(time.RFC3339Nano), c.SourceFile, strconv.Itoa(c.SourceRow),
	}
}

// quarantine writes failed chunks and rejected rows to the sink and returns
// the location written to.
func quarantine(sink diagnostics.Sink, res *Resolution) (string, error) {
	for _, f := range res.Failed {
		rows := make([][]string, 0, len(f.Rows))
		for _, c := range f.Rows {
			rows = append(rows, candidateRow(c))
		}
		if err := sink.Failed(f.Index, candidateHeader, rows, f.Err.Error()); err != nil {
			return "", eris.Wrapf(err, "quarantine: chunk %d", f.Index)
		}
	}

	byChunk := make(map[int][][]string)
	var order []int
	for _, r := range res.Rejected {
		if _, ok := byChunk[r.Chunk]; !ok {
			order = append(order, r.Chunk)
		}
		byChunk[r.Chunk] = append(byChunk[r.Chunk], append(candidateRow(r.Candidate), strings.Join(r.Missing, ";")))
	}
	header := append(append([]string{}, candidateHeader...), "missing")
	for _, chunk := range order {
		if err := sink.Rejected(chunk, header, byChunk[chunk]); err != nil {
			return "", eris.Wrapf(err, "quarantine: rejected rows of chunk %d", chunk)
		}
	}

	dir, err := sink.Close()
	if err != nil {
		return "", eris.Wrap(err, "quarantine: close sink")
	}
	return dir, nil
}
