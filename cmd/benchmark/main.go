// Benchmark tool for measuring Kestrel's transaction detectors against labelled data.
//
// Usage:
//
//	go run ./cmd/benchmark -csv /path/to/transactions.csv
//
// The CSV needs the columns id, vendor_id, vendor_name, amount, date (YYYY-MM-DD)
// and is_fraud (1/0). This tool:
//  1. Loads the transactions into a scratch SQLite database
//  2. Runs a comprehensive scan over them
//  3. Treats every transaction named by a split or round-number detection as flagged
//  4. Calculates precision, recall, F1-score and the confusion matrix
package main

import (
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/engine"
	"github.com/opensource-finance/kestrel/internal/repository"
)

const benchmarkCompany = "benchmark"

// LabelledTransaction is one row of the input file.
type LabelledTransaction struct {
	domain.Transaction
	IsFraud bool
}

// Metrics tracks benchmark results.
type Metrics struct {
	TruePositives  int // Fraud flagged
	FalsePositives int // Legitimate flagged
	TrueNegatives  int // Legitimate not flagged
	FalseNegatives int // Fraud missed

	TotalFraud    int
	TotalNonFraud int

	LoadTime time.Duration
	ScanTime time.Duration
}

func main() {
	csvPath := flag.String("csv", "", "Path to the labelled transaction CSV")
	dbPath := flag.String("db", "", "SQLite file to load into (default: a temp file)")
	limit := flag.Int("limit", 0, "Maximum transactions to load (0 = all)")
	rebase := flag.Bool("rebase", true, "Shift dates so the newest transaction is today")
	verbose := flag.Bool("verbose", false, "Print every flagged transaction")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/transactions.csv")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	txs, err := readTransactions(*csvPath, *limit)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
	if *rebase {
		rebaseDates(txs, time.Now().UTC())
	}

	path := *dbPath
	if path == "" {
		dir, err := os.MkdirTemp("", "kestrel-benchmark")
		if err != nil {
			fmt.Printf("ERROR: %v\n", err)
			os.Exit(1)
		}
		defer os.RemoveAll(dir)
		path = filepath.Join(dir, "benchmark.db")
	}

	fmt.Println("KESTREL BENCHMARK - transaction detectors")
	fmt.Printf("\nCSV File:     %s\n", *csvPath)
	fmt.Printf("Database:     %s\n", path)
	fmt.Printf("Transactions: %d\n\n", len(txs))

	m, flagged, err := run(context.Background(), path, txs)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}

	if *verbose {
		for _, tx := range txs {
			if by, ok := flagged[tx.ID]; ok {
				fmt.Printf("%-12s | %-20s | %12.2f | fraud: %-5v | %s\n", tx.ID, tx.VendorName, tx.Amount, tx.IsFraud, by)
			}
		}
	}

	printResults(m)
}

// run loads txs, scans them and scores the flags against the labels.
func run(ctx context.Context, dbPath string, txs []LabelledTransaction) (*Metrics, map[string]domain.FraudType, error) {
	repo, err := repository.New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: dbPath})
	if err != nil {
		return nil, nil, err
	}
	defer repo.Close()

	m := &Metrics{}

	start := time.Now()
	vendors := make(map[string]bool)
	for _, tx := range txs {
		if !vendors[tx.VendorID] {
			vendors[tx.VendorID] = true
			if err := repo.SaveVendor(ctx, benchmarkCompany, &domain.Vendor{ID: tx.VendorID, Name: tx.VendorName}); err != nil {
				return nil, nil, err
			}
		}
		if err := repo.SaveTransaction(ctx, benchmarkCompany, &tx.Transaction); err != nil {
			return nil, nil, err
		}
	}
	m.LoadTime = time.Since(start)

	start = time.Now()
	result, err := engine.New(repo, engine.Options{}).RunComprehensive(ctx, benchmarkCompany)
	if err != nil {
		return nil, nil, err
	}
	m.ScanTime = time.Since(start)

	flagged := flaggedTransactions(result)
	score(m, txs, flagged)
	return m, flagged, nil
}

// flaggedTransactions maps each transaction named by a detection to the
// detector that named it.
func flaggedTransactions(result *domain.ComprehensiveResult) map[string]domain.FraudType {
	flagged := make(map[string]domain.FraudType)
	for _, ft := range []domain.FraudType{domain.FraudSplitTransaction, domain.FraudRoundNumber} {
		branch := result.Detections[ft]
		if branch.Error != nil {
			slog.Warn("detector failed", "fraud_type", ft, "error", branch.Error.Message)
			continue
		}
		for _, d := range branch.Detections {
			if ids, ok := d.Detail["transactionIds"].([]string); ok {
				for _, id := range ids {
					flagged[id] = ft
				}
				continue
			}
			flagged[d.EntityID] = ft
		}
	}
	return flagged
}

func score(m *Metrics, txs []LabelledTransaction, flagged map[string]domain.FraudType) {
	for _, tx := range txs {
		_, predicted := flagged[tx.ID]
		if tx.IsFraud {
			m.TotalFraud++
		} else {
			m.TotalNonFraud++
		}

		switch {
		case predicted && tx.IsFraud:
			m.TruePositives++
		case predicted && !tx.IsFraud:
			m.FalsePositives++
		case !predicted && !tx.IsFraud:
			m.TrueNegatives++
		default:
			m.FalseNegatives++
		}
	}
}

func readTransactions(path string, limit int) ([]LabelledTransaction, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, col := range []string{"id", "vendor_id", "amount", "date", "is_fraud"} {
		if _, ok := colIndex[col]; !ok {
			return nil, fmt.Errorf("missing column %q", col)
		}
	}

	var txs []LabelledTransaction
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		amount, err := strconv.ParseFloat(record[colIndex["amount"]], 64)
		if err != nil {
			continue
		}
		date, err := time.Parse("2006-01-02", record[colIndex["date"]])
		if err != nil {
			continue
		}

		tx := LabelledTransaction{
			Transaction: domain.Transaction{
				ID:              record[colIndex["id"]],
				VendorID:        record[colIndex["vendor_id"]],
				Amount:          amount,
				TransactionDate: date.Add(12 * time.Hour),
			},
			IsFraud: record[colIndex["is_fraud"]] == "1",
		}
		if i, ok := colIndex["vendor_name"]; ok {
			tx.VendorName = record[i]
		}
		if tx.VendorName == "" {
			tx.VendorName = tx.VendorID
		}
		txs = append(txs, tx)

		if limit > 0 && len(txs) >= limit {
			break
		}
	}

	return txs, nil
}

// rebaseDates shifts every date by whole days so the newest lands on now's day.
func rebaseDates(txs []LabelledTransaction, now time.Time) {
	var newest time.Time
	for _, tx := range txs {
		if tx.TransactionDate.After(newest) {
			newest = tx.TransactionDate
		}
	}
	if newest.IsZero() {
		return
	}
	days := int(now.Truncate(24*time.Hour).Sub(newest.Truncate(24*time.Hour)).Hours() / 24)
	for i := range txs {
		txs[i].TransactionDate = txs[i].TransactionDate.AddDate(0, 0, days)
	}
}

func printResults(m *Metrics) {
	fmt.Println("BENCHMARK RESULTS")

	fmt.Printf("\nDATASET STATISTICS\n")
	fmt.Printf("   Total Fraud:      %d\n", m.TotalFraud)
	fmt.Printf("   Total Non-Fraud:  %d\n", m.TotalNonFraud)

	fmt.Printf("\nCONFUSION MATRIX\n")
	fmt.Println("                       Predicted")
	fmt.Println("                   FLAG        PASS")
	fmt.Printf("   Actual  F  │ %8d │ %8d │  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Printf("          NF  │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)

	precision, recall, f1 := rates(m)
	fmt.Printf("\nDETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f\n", precision)
	fmt.Printf("   Recall:     %.4f\n", recall)
	fmt.Printf("   F1-Score:   %.4f\n", f1)

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Load:  %v\n", m.LoadTime.Round(time.Millisecond))
	fmt.Printf("   Scan:  %v\n", m.ScanTime.Round(time.Millisecond))
	fmt.Println()
}

func rates(m *Metrics) (precision, recall, f1 float64) {
	if m.TruePositives+m.FalsePositives > 0 {
		precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}
	if m.TruePositives+m.FalseNegatives > 0 {
		recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}
	return precision, recall, f1
}
