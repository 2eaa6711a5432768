// Benchmark tool for testing Kestrel against labeled credit outcome data.
//
// Usage:
//   go run cmd/benchmark/main.go -csv /path/to/loans.csv -url http://localhost:8080
//
// This tool:
//   1. Reads historical loan data (with default labels)
//   2. Sends each borrower to Kestrel for a lending decision
//   3. Compares Kestrel's verdict (Reject vs Approve/Review) with actual outcomes
//   4. Calculates precision, recall, F1-score, and confusion matrix
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// LoanRecord represents a row from the historical loan dataset
type LoanRecord struct {
	BorrowerID        string
	PaymentHistory    float64
	CreditUtilization float64
	CreditAge         float64
	CreditMix         float64
	Inquiries         int
	ActiveLoans       int
	OldestAccountMo   int
	OnTimeRate        float64
	RecentDefaults    int
	MissedLast12      int
	MonthlyIncome     float64
	TotalDebt         float64
	Defaulted         bool
}

// DecisionRequest is the Kestrel API request format
type DecisionRequest struct {
	Factors  Factors  `json:"factors"`
	Borrower Borrower `json:"borrower"`
}

type Factors struct {
	BorrowerID             string  `json:"borrowerId"`
	PaymentHistory         float64 `json:"paymentHistory"`
	CreditUtilization      float64 `json:"creditUtilization"`
	CreditAge              float64 `json:"creditAge"`
	CreditMix              float64 `json:"creditMix"`
	Inquiries              int     `json:"inquiries"`
	ActiveLoanCount        int     `json:"activeLoanCount"`
	OldestAccountAge       int     `json:"oldestAccountAge"`
	OnTimePaymentRate      float64 `json:"onTimePaymentRate"`
	OnTimeRateLast6Months  float64 `json:"onTimeRateLast6Months"`
	DefaultCountLast3Years int     `json:"defaultCountLast3Years"`
	MissedPaymentsLast12   int     `json:"missedPaymentsLast12"`
}

type Borrower struct {
	BorrowerID     string  `json:"borrowerId"`
	MonthlyIncome  float64 `json:"monthlyIncome"`
	TotalDebt      float64 `json:"totalDebt"`
	RecentDefaults int     `json:"recentDefaults"`
}

// DecisionResponse is the Kestrel API response format
type DecisionResponse struct {
	Report struct {
		Score struct {
			Score          int    `json:"score"`
			Classification string `json:"classification"`
		} `json:"score"`
		LendingDecision struct {
			Decision string   `json:"decision"`
			Reasons  []string `json:"reasons"`
		} `json:"lendingDecision"`
	} `json:"report"`
}

// Metrics tracks benchmark results
type Metrics struct {
	TruePositives  int64 // Defaulter rejected
	FalsePositives int64 // Good borrower rejected
	TrueNegatives  int64 // Good borrower approved or reviewed
	FalseNegatives int64 // Defaulter approved or reviewed (missed risk!)

	TotalProcessed  int64
	TotalDefaulters int64
	TotalGood       int64
	TotalErrors     int64

	ProcessingTimeMs int64
}

func main() {
	// Parse flags
	csvPath := flag.String("csv", "", "Path to loan outcomes CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	tenantID := flag.String("tenant", "benchmark-test", "Tenant ID for requests")
	limit := flag.Int("limit", 10000, "Maximum records to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	defaultsOnly := flag.Bool("defaults-only", false, "Only test defaulted borrowers")
	sampleRate := flag.Float64("sample", 1.0, "Sample rate for non-defaulted (0.0-1.0)")
	verbose := flag.Bool("verbose", false, "Print each borrower result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/loans.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║          KESTREL BENCHMARK - Loan Outcome Backtest            ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCSV File:     %s\n", *csvPath)
	fmt.Printf("Kestrel URL:  %s\n", *baseURL)
	fmt.Printf("Tenant ID:    %s\n", *tenantID)
	fmt.Printf("Workers:      %d\n", *workers)
	fmt.Printf("Limit:        %d\n", *limit)
	fmt.Printf("Defaults Only: %v\n", *defaultsOnly)
	fmt.Printf("Sample Rate:  %.2f\n", *sampleRate)
	fmt.Println()

	// Check Kestrel is running
	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  cd kestrel && go run cmd/kestrel/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Kestrel is healthy")

	// Read loan data
	fmt.Printf("\nReading loan data from %s...\n", *csvPath)
	records, err := readLoanCSV(*csvPath, *limit, *defaultsOnly, *sampleRate)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Loaded %d records\n", len(records))

	// Count defaulters vs good borrowers
	defaultCount := 0
	for _, rec := range records {
		if rec.Defaulted {
			defaultCount++
		}
	}
	fmt.Printf("  - Defaulted: %d (%.2f%%)\n", defaultCount, 100*float64(defaultCount)/float64(len(records)))
	fmt.Printf("  - Repaid:    %d (%.2f%%)\n", len(records)-defaultCount, 100*float64(len(records)-defaultCount)/float64(len(records)))

	// Run benchmark
	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(records, *baseURL, *tenantID, *workers, *verbose)
	duration := time.Since(startTime)

	// Print results
	printResults(metrics, duration)
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func readLoanCSV(path string, limit int, defaultsOnly bool, sampleRate float64) ([]LoanRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)

	// Read header
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	// Map column indices
	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(col)] = i
	}

	var records []LoanRecord
	sampleCounter := 0

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		defaulted := record[colIndex["defaulted"]] == "1"

		// Apply filters
		if defaultsOnly && !defaulted {
			continue
		}

		// Sample non-defaulted borrowers
		if !defaulted && sampleRate < 1.0 {
			sampleCounter++
			if float64(sampleCounter%100)/100.0 >= sampleRate {
				continue
			}
		}

		paymentHistory, _ := strconv.ParseFloat(record[colIndex["payment_history"]], 64)
		utilization, _ := strconv.ParseFloat(record[colIndex["credit_utilization"]], 64)
		creditAge, _ := strconv.ParseFloat(record[colIndex["credit_age"]], 64)
		creditMix, _ := strconv.ParseFloat(record[colIndex["credit_mix"]], 64)
		inquiries, _ := strconv.Atoi(record[colIndex["inquiries"]])
		activeLoans, _ := strconv.Atoi(record[colIndex["active_loans"]])
		oldestAccount, _ := strconv.Atoi(record[colIndex["oldest_account_months"]])
		onTimeRate, _ := strconv.ParseFloat(record[colIndex["on_time_rate"]], 64)
		recentDefaults, _ := strconv.Atoi(record[colIndex["recent_defaults"]])
		missedLast12, _ := strconv.Atoi(record[colIndex["missed_last_12"]])
		monthlyIncome, _ := strconv.ParseFloat(record[colIndex["monthly_income"]], 64)
		totalDebt, _ := strconv.ParseFloat(record[colIndex["total_debt"]], 64)

		rec := LoanRecord{
			BorrowerID:        record[colIndex["borrower_id"]],
			PaymentHistory:    paymentHistory,
			CreditUtilization: utilization,
			CreditAge:         creditAge,
			CreditMix:         creditMix,
			Inquiries:         inquiries,
			ActiveLoans:       activeLoans,
			OldestAccountMo:   oldestAccount,
			OnTimeRate:        onTimeRate,
			RecentDefaults:    recentDefaults,
			MissedLast12:      missedLast12,
			MonthlyIncome:     monthlyIncome,
			TotalDebt:         totalDebt,
			Defaulted:         defaulted,
		}

		records = append(records, rec)

		if limit > 0 && len(records) >= limit {
			break
		}
	}

	return records, nil
}

func runBenchmark(records []LoanRecord, baseURL, tenantID string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	// Create work channel
	work := make(chan LoanRecord, 100)
	var wg sync.WaitGroup

	// Start workers
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for rec := range work {
				start := time.Now()
				result, err := evaluateBorrower(client, baseURL, tenantID, rec)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", rec.BorrowerID, err)
					}
					continue
				}

				// Track actual labels
				if rec.Defaulted {
					atomic.AddInt64(&metrics.TotalDefaulters, 1)
				} else {
					atomic.AddInt64(&metrics.TotalGood, 1)
				}

				// Calculate confusion matrix
				predicted := result.Report.LendingDecision.Decision == "Reject"
				actual := rec.Defaulted

				if predicted && actual {
					atomic.AddInt64(&metrics.TruePositives, 1)
				} else if predicted && !actual {
					atomic.AddInt64(&metrics.FalsePositives, 1)
				} else if !predicted && !actual {
					atomic.AddInt64(&metrics.TrueNegatives, 1)
				} else { // !predicted && actual
					atomic.AddInt64(&metrics.FalseNegatives, 1)
				}

				if verbose {
					status := "✓"
					if (predicted && !actual) || (!predicted && actual) {
						status = "✗"
					}
					id := rec.BorrowerID
					if len(id) > 10 {
						id = id[:10]
					}
					fmt.Printf("%s %-10s | Score: %4d (%-10s) | Defaulted: %-5v | Kestrel: %-7s | Income: $%10.2f\n",
						status,
						id,
						result.Report.Score.Score,
						result.Report.Score.Classification,
						rec.Defaulted,
						result.Report.LendingDecision.Decision,
						rec.MonthlyIncome,
					)
				}
			}
		}()
	}

	// Send work
	for _, rec := range records {
		work <- rec
	}
	close(work)

	// Wait for completion
	wg.Wait()

	return metrics
}

func evaluateBorrower(client *http.Client, baseURL, tenantID string, rec LoanRecord) (*DecisionResponse, error) {
	// Build request matching Kestrel's expected format
	req := DecisionRequest{
		Factors: Factors{
			BorrowerID:             rec.BorrowerID,
			PaymentHistory:         rec.PaymentHistory,
			CreditUtilization:      rec.CreditUtilization,
			CreditAge:              rec.CreditAge,
			CreditMix:              rec.CreditMix,
			Inquiries:              rec.Inquiries,
			ActiveLoanCount:        rec.ActiveLoans,
			OldestAccountAge:       rec.OldestAccountMo,
			OnTimePaymentRate:      rec.OnTimeRate,
			OnTimeRateLast6Months:  rec.OnTimeRate,
			DefaultCountLast3Years: rec.RecentDefaults,
			MissedPaymentsLast12:   rec.MissedLast12,
		},
		Borrower: Borrower{
			BorrowerID:     rec.BorrowerID,
			MonthlyIncome:  rec.MonthlyIncome,
			TotalDebt:      rec.TotalDebt,
			RecentDefaults: rec.RecentDefaults,
		},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/decisions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Tenant-ID", tenantID)

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result DecisionResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 DATASET STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Total Defaulted:  %d\n", m.TotalDefaulters)
	fmt.Printf("   Total Repaid:     %d\n", m.TotalGood)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\n📈 CONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                  Reject      Approve")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Actual  D  │ %8d │ %8d │  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("           R  │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              └──────────┴──────────┘")

	// Calculate metrics
	precision := float64(0)
	if m.TruePositives+m.FalsePositives > 0 {
		precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}

	recall := float64(0)
	if m.TruePositives+m.FalseNegatives > 0 {
		recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}

	f1 := float64(0)
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}

	accuracy := float64(0)
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	if total > 0 {
		accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(total)
	}

	fmt.Printf("\n🎯 SCREENING METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of rejections, how many would have defaulted)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of defaulters, how many were rejected)\n", recall)
	fmt.Printf("   F1-Score:   %.4f  (harmonic mean of precision & recall)\n", f1)
	fmt.Printf("   Accuracy:   %.4f  (overall correct predictions)\n", accuracy)

	// Screening rate analysis
	fmt.Printf("\n🔍 SCREENING ANALYSIS\n")
	if m.TotalDefaulters > 0 {
		screenRate := float64(m.TruePositives) / float64(m.TotalDefaulters) * 100
		missRate := float64(m.FalseNegatives) / float64(m.TotalDefaulters) * 100
		fmt.Printf("   Defaults Screened: %d / %d (%.2f%%)\n", m.TruePositives, m.TotalDefaulters, screenRate)
		fmt.Printf("   Defaults Missed:   %d / %d (%.2f%%) ⚠️\n", m.FalseNegatives, m.TotalDefaulters, missRate)
	}
	if m.TotalGood > 0 {
		lostBusinessRate := float64(m.FalsePositives) / float64(m.TotalGood) * 100
		fmt.Printf("   Good Rejected:     %d / %d (%.2f%%)\n", m.FalsePositives, m.TotalGood, lostBusinessRate)
	}

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		tps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f req/sec\n", tps)
	}

	// Interpretation
	fmt.Printf("\n💡 INTERPRETATION\n")
	if recall >= 0.9 {
		fmt.Println("   ✅ Excellent recall - screening out most future defaults")
	} else if recall >= 0.7 {
		fmt.Println("   ⚠️  Good recall - but some future defaults slip through")
	} else if recall >= 0.5 {
		fmt.Println("   ⚠️  Moderate recall - significant default risk being approved")
	} else {
		fmt.Println("   ❌ Poor recall - most future defaults are being approved!")
	}

	if precision >= 0.5 {
		fmt.Println("   ✅ Good precision - rejections are well targeted")
	} else if precision >= 0.2 {
		fmt.Println("   ⚠️  Low precision - rejecting many creditworthy borrowers")
	} else {
		fmt.Println("   ❌ Very low precision - mostly rejecting good borrowers")
	}

	fmt.Println()
}
