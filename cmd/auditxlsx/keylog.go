package main

import (
	"os"
	"path/filepath"

	"github.com/Thiagojm/entropic_chaos_go/keystore"
)

// keyLogSheet tabulates every entry of a key log with its audit figures.
func keyLogSheet(path string) (sheet, error) {
	f, err := os.Open(path)
	if err != nil {
		return sheet{}, err
	}
	defer f.Close()
	entries, err := keystore.ReadLog(f)
	if err != nil {
		return sheet{}, err
	}

	s := sheet{
		Name:    "Keys",
		Title:   filepath.Base(path),
		Headers: []string{"key_number", "timestamp", "type", "entropy_bytes", "audit_score", "entropy_bpb", "pqc_ready"},
		Charts:  []chartSpec{{Column: 4, YTitle: "Audit score (0-100)"}},
		XTitle:  "Key number",
	}
	for _, e := range entries {
		m := e.Metadata
		s.Rows = append(s.Rows, []any{
			m.KeyNumber, e.Timestamp, e.Type, m.EntropyBytes, m.AuditScore, m.EntropyBPB, m.PQCReady,
		})
	}
	return s, nil
}
