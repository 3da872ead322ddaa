// Replay tool for testing Kestrel against labeled transfer data.
//
// Usage:
//   go run cmd/replay/main.go -csv /path/to/transfers.csv -url http://localhost:8080
//
// The CSV needs sender, recipient, amount, category, and is_suspicious
// columns (an optional timestamp column is honored when present). Each
// row is submitted for scoring, Kestrel's alert decision is compared
// with the label, and precision/recall/F1 are reported.
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

// LabeledTransfer is a row from the replay dataset.
type LabeledTransfer struct {
	Sender       string
	Recipient    string
	Amount       uint64
	Category     string
	Timestamp    *time.Time
	IsSuspicious bool
}

// SubmitRequest mirrors the POST /transactions payload.
type SubmitRequest struct {
	Sender    string     `json:"sender"`
	Recipient string     `json:"recipient"`
	Amount    uint64     `json:"amount"`
	Category  string     `json:"category"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

// SubmitResponse is the subset of the score result the replay needs.
type SubmitResponse struct {
	TxID           string `json:"txId"`
	SenderScore    int    `json:"senderScore"`
	RecipientScore int    `json:"recipientScore"`
	Alert          *struct {
		Severity string `json:"severity"`
	} `json:"alert"`
}

// Metrics tracks replay results.
type Metrics struct {
	TruePositives  int64 // suspicious and alerted
	FalsePositives int64 // clean but alerted
	TrueNegatives  int64 // clean and quiet
	FalseNegatives int64 // suspicious but missed

	TotalProcessed  int64
	TotalSuspicious int64
	TotalClean      int64
	TotalErrors     int64

	ProcessingTimeMs int64
}

func main() {
	csvPath := flag.String("csv", "", "Path to labeled transfer CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	limit := flag.Int("limit", 10000, "Maximum transfers to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	verbose := flag.Bool("verbose", false, "Print each transfer result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: replay -csv /path/to/transfers.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║            KESTREL REPLAY - Labeled Transfer Data             ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Kestrel URL: %s\n", *baseURL)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  go run cmd/kestrel/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Kestrel is healthy")

	fmt.Printf("\nReading transfers from %s...\n", *csvPath)
	transfers, err := readTransferCSV(*csvPath, *limit)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Loaded %d transfers\n", len(transfers))

	suspiciousCount := 0
	for _, tx := range transfers {
		if tx.IsSuspicious {
			suspiciousCount++
		}
	}
	fmt.Printf("  - Suspicious: %d (%.2f%%)\n", suspiciousCount, 100*float64(suspiciousCount)/float64(len(transfers)))
	fmt.Printf("  - Clean:      %d (%.2f%%)\n", len(transfers)-suspiciousCount, 100*float64(len(transfers)-suspiciousCount)/float64(len(transfers)))

	fmt.Printf("\nRunning replay with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runReplay(transfers, *baseURL, *workers, *verbose)
	duration := time.Since(startTime)

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

func readTransferCSV(path string, limit int) ([]LabeledTransfer, error) {
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
	for _, required := range []string{"sender", "recipient", "amount", "category", "is_suspicious"} {
		if _, ok := colIndex[required]; !ok {
			return nil, fmt.Errorf("missing required column %q", required)
		}
	}

	var transfers []LabeledTransfer
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		amount, err := strconv.ParseUint(record[colIndex["amount"]], 10, 64)
		if err != nil {
			continue
		}

		tx := LabeledTransfer{
			Sender:       record[colIndex["sender"]],
			Recipient:    record[colIndex["recipient"]],
			Amount:       amount,
			Category:     record[colIndex["category"]],
			IsSuspicious: record[colIndex["is_suspicious"]] == "1",
		}
		if idx, ok := colIndex["timestamp"]; ok {
			if ts, err := time.Parse(time.RFC3339, record[idx]); err == nil {
				tx.Timestamp = &ts
			}
		}

		transfers = append(transfers, tx)
		if limit > 0 && len(transfers) >= limit {
			break
		}
	}

	return transfers, nil
}

func runReplay(transfers []LabeledTransfer, baseURL string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	work := make(chan LabeledTransfer, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for tx := range work {
				start := time.Now()
				result, err := submitTransfer(client, baseURL, tx)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", tx.Sender, err)
					}
					continue
				}

				if tx.IsSuspicious {
					atomic.AddInt64(&metrics.TotalSuspicious, 1)
				} else {
					atomic.AddInt64(&metrics.TotalClean, 1)
				}

				predicted := result.Alert != nil
				actual := tx.IsSuspicious

				switch {
				case predicted && actual:
					atomic.AddInt64(&metrics.TruePositives, 1)
				case predicted && !actual:
					atomic.AddInt64(&metrics.FalsePositives, 1)
				case !predicted && !actual:
					atomic.AddInt64(&metrics.TrueNegatives, 1)
				default:
					atomic.AddInt64(&metrics.FalseNegatives, 1)
				}

				if verbose {
					status := "✓"
					if predicted != actual {
						status = "✗"
					}
					verdict := "quiet"
					if result.Alert != nil {
						verdict = result.Alert.Severity
					}
					sender := tx.Sender
					if len(sender) > 12 {
						sender = sender[:12]
					}
					fmt.Printf("%s %-12s | %-8s | Amount: %12d | Suspicious: %-5v | Kestrel: %s (%d/%d)\n",
						status,
						sender,
						tx.Category,
						tx.Amount,
						tx.IsSuspicious,
						verdict,
						result.SenderScore,
						result.RecipientScore,
					)
				}
			}
		}()
	}

	for _, tx := range transfers {
		work <- tx
	}
	close(work)

	wg.Wait()
	return metrics
}

func submitTransfer(client *http.Client, baseURL string, tx LabeledTransfer) (*SubmitResponse, error) {
	req := SubmitRequest{
		Sender:    tx.Sender,
		Recipient: tx.Recipient,
		Amount:    tx.Amount,
		Category:  tx.Category,
		Timestamp: tx.Timestamp,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/transactions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result SubmitResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                        REPLAY RESULTS                         ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 DATASET STATISTICS\n")
	fmt.Printf("   Total Processed:   %d\n", m.TotalProcessed)
	fmt.Printf("   Total Suspicious:  %d\n", m.TotalSuspicious)
	fmt.Printf("   Total Clean:       %d\n", m.TotalClean)
	fmt.Printf("   Errors:            %d\n", m.TotalErrors)

	fmt.Printf("\n📈 CONFUSION MATRIX\n")
	fmt.Println("                         Predicted")
	fmt.Println("                    Alert       Quiet")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Actual  S  │ %8d │ %8d │  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("           C  │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              └──────────┴──────────┘")

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

	fmt.Printf("\n🎯 DETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of alerts, how many were actually suspicious)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of suspicious transfers, how many were caught)\n", recall)
	fmt.Printf("   F1-Score:   %.4f  (harmonic mean of precision & recall)\n", f1)
	fmt.Printf("   Accuracy:   %.4f  (overall correct predictions)\n", accuracy)

	fmt.Printf("\n🔍 DETECTION ANALYSIS\n")
	if m.TotalSuspicious > 0 {
		detectionRate := float64(m.TruePositives) / float64(m.TotalSuspicious) * 100
		missRate := float64(m.FalseNegatives) / float64(m.TotalSuspicious) * 100
		fmt.Printf("   Suspicious Caught:  %d / %d (%.2f%%)\n", m.TruePositives, m.TotalSuspicious, detectionRate)
		fmt.Printf("   Suspicious Missed:  %d / %d (%.2f%%) ⚠️\n", m.FalseNegatives, m.TotalSuspicious, missRate)
	}
	if m.TotalClean > 0 {
		falseAlarmRate := float64(m.FalsePositives) / float64(m.TotalClean) * 100
		fmt.Printf("   False Alarms:       %d / %d (%.2f%%)\n", m.FalsePositives, m.TotalClean, falseAlarmRate)
	}

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		tps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f tx/sec\n", tps)
	}

	fmt.Println()
}
