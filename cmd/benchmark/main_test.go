package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleCSV = `id,vendor_id,vendor_name,amount,date,is_fraud
t1,v1,Acme,10000,2024-03-01,1
t2,v1,Acme,123.45,2024-03-02,0
t3,v2,Globex,5500,2024-03-03,0
t4,v2,Globex,87.10,2024-03-04,1
bad,v2,Globex,not-a-number,2024-03-04,0
`

func writeCSV(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tx.csv")
	if err := os.WriteFile(path, []byte(sampleCSV), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

func TestReadTransactions(t *testing.T) {
	txs, err := readTransactions(writeCSV(t), 0)
	if err != nil {
		t.Fatalf("readTransactions failed: %v", err)
	}
	if len(txs) != 4 {
		t.Fatalf("expected 4 rows, got %d", len(txs))
	}
	if !txs[0].IsFraud || txs[0].VendorName != "Acme" || txs[0].Amount != 10000 {
		t.Errorf("unexpected first row: %+v", txs[0])
	}

	limited, err := readTransactions(writeCSV(t), 2)
	if err != nil || len(limited) != 2 {
		t.Errorf("expected 2 rows with limit, got %d (%v)", len(limited), err)
	}
}

func TestRun(t *testing.T) {
	txs, err := readTransactions(writeCSV(t), 0)
	if err != nil {
		t.Fatalf("readTransactions failed: %v", err)
	}
	rebaseDates(txs, time.Now().UTC())

	m, flagged, err := run(context.Background(), filepath.Join(t.TempDir(), "bench.db"), txs)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	// t1 and t3 are round amounts; t3 is a false alarm and t4 is missed.
	if len(flagged) != 2 {
		t.Errorf("expected 2 flagged transactions, got %v", flagged)
	}
	if m.TruePositives != 1 || m.FalsePositives != 1 || m.FalseNegatives != 1 || m.TrueNegatives != 1 {
		t.Errorf("unexpected confusion matrix: %+v", m)
	}

	precision, recall, f1 := rates(m)
	if precision != 0.5 || recall != 0.5 || f1 != 0.5 {
		t.Errorf("expected 0.5 across the board, got %.2f %.2f %.2f", precision, recall, f1)
	}
}

func TestRebaseDates(t *testing.T) {
	txs, _ := readTransactions(writeCSV(t), 0)
	now := time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)
	rebaseDates(txs, now)

	if got := txs[3].TransactionDate.Format("2006-01-02"); got != "2026-01-10" {
		t.Errorf("expected newest on 2026-01-10, got %s", got)
	}
	if got := txs[0].TransactionDate.Format("2006-01-02"); got != "2026-01-07" {
		t.Errorf("expected oldest on 2026-01-07, got %s", got)
	}
}
