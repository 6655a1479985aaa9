package report

import (
	"encoding/csv"
	"os"
	"strings"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/xerrors"

	"github.com/stakeops/stakebatch/batch"
)

var log = logging.Logger("report")

// CSVSink writes one row per processed group. Account addresses are
// joined with ';' so the list stays readable in one cell.
type CSVSink struct {
	Path string
}

func NewCSVSink(path string) *CSVSink {
	return &CSVSink{Path: path}
}

var header = []string{"timestamp", "status", "transaction_id", "error", "accounts", "authorities"}

func (s *CSVSink) Write(rows []batch.GroupResult) (string, error) {
	f, err := os.Create(s.Path)
	if err != nil {
		return "", xerrors.Errorf("creating report %s: %w", s.Path, err)
	}
	defer f.Close() //nolint:errcheck

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return "", xerrors.Errorf("writing report header: %w", err)
	}
	for _, r := range rows {
		record := []string{
			r.Timestamp.Format(time.RFC3339),
			string(r.Status),
			r.TxID,
			r.Error,
			strings.Join(r.Accounts, ";"),
			r.Authorities,
		}
		if err := w.Write(record); err != nil {
			return "", xerrors.Errorf("writing report row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", xerrors.Errorf("flushing report: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", xerrors.Errorf("closing report: %w", err)
	}
	log.Infow("wrote report", "path", s.Path, "rows", len(rows))
	return s.Path, nil
}
