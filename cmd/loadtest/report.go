package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// statusTransportError — код для запросов, не получивших HTTP-ответа.
const statusTransportError = 0

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type callReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Rejected  int64            `json:"rejected"`
	Failed    int64            `json:"failed"`
	Statuses  map[string]int64 `json:"statuses"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type stockCheck struct {
	SKU          int64 `json:"sku"`
	Before       int64 `json:"before"`
	After        int64 `json:"after"`
	OrderedUnits int64 `json:"ordered_units"`
	Consistent   bool  `json:"consistent"`
}

type report struct {
	StartedAt       time.Time             `json:"started_at"`
	DurationSeconds float64               `json:"duration_seconds"`
	Requests        int64                 `json:"requests"`
	RPS             float64               `json:"rps"`
	Calls           map[string]callReport `json:"calls"`
	Stock           *stockCheck           `json:"stock,omitempty"`
}

// failed — число ответов 5xx и транспортных ошибок.
func (r report) failed() int64 {
	var n int64
	for _, c := range r.Calls {
		n += c.Failed
	}
	return n
}

type callStats struct {
	calls     int64
	success   int64
	rejected  int64
	failed    int64
	statuses  map[int]int64
	latencies []float64
}

type collector struct {
	mu    sync.Mutex
	calls map[string]*callStats
}

func newCollector() *collector {
	return &collector{calls: make(map[string]*callStats)}
}

// record учитывает ответ: 2xx — успех, 4xx — отказ сервиса, остальное — сбой.
func (c *collector) record(call string, latency time.Duration, status int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.calls[call]
	if !ok {
		st = &callStats{statuses: make(map[int]int64)}
		c.calls[call] = st
	}

	st.calls++
	switch {
	case status >= 200 && status < 300:
		st.success++
	case status >= 400 && status < 500:
		st.rejected++
	default:
		st.failed++
	}
	st.statuses[status]++
	st.latencies = append(st.latencies, float64(latency.Microseconds())/1000.0)
}

func (c *collector) successes(call string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.calls[call]; ok {
		return st.success
	}
	return 0
}

func (c *collector) buildReport(startedAt time.Time, duration time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: duration.Seconds(),
		Calls:           make(map[string]callReport, len(c.calls)),
	}
	for name, st := range c.calls {
		statuses := make(map[string]int64, len(st.statuses))
		for status, count := range st.statuses {
			statuses[statusLabel(status)] = count
		}
		result.Calls[name] = callReport{
			Calls:     st.calls,
			Success:   st.success,
			Rejected:  st.rejected,
			Failed:    st.failed,
			Statuses:  statuses,
			LatencyMs: buildLatencySummary(st.latencies),
		}
		result.Requests += st.calls
	}
	if duration > 0 {
		result.RPS = float64(result.Requests) / duration.Seconds()
	}
	return result
}

func statusLabel(status int) string {
	if status == statusTransportError {
		return "transport_error"
	}
	return strconv.Itoa(status)
}

func printReport(w io.Writer, result report, cfg config) {
	_, _ = fmt.Fprintln(w, "Load test summary")
	_, _ = fmt.Fprintf(w, "mode=%s target=%s requests=%d duration=%.2fs rps=%.2f\n",
		cfg.mode, runTarget(cfg), result.Requests, result.DurationSeconds, result.RPS)

	names := make([]string, 0, len(result.Calls))
	for name := range result.Calls {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		st := result.Calls[name]
		labels := make([]string, 0, len(st.Statuses))
		for label := range st.Statuses {
			labels = append(labels, label)
		}
		sort.Strings(labels)
		parts := make([]string, 0, len(labels))
		for _, label := range labels {
			parts = append(parts, fmt.Sprintf("%s=%d", label, st.Statuses[label]))
		}

		_, _ = fmt.Fprintf(w, "%s: calls=%d success=%d rejected=%d failed=%d statuses[%s]\n",
			name, st.Calls, st.Success, st.Rejected, st.Failed, strings.Join(parts, " "))
		_, _ = fmt.Fprintf(w, "  latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
			st.LatencyMs.Min, st.LatencyMs.Avg, st.LatencyMs.P50, st.LatencyMs.P95, st.LatencyMs.P99, st.LatencyMs.Max)
	}

	if s := result.Stock; s != nil {
		_, _ = fmt.Fprintf(w, "stock sku=%d before=%d after=%d ordered=%d consistent=%t\n",
			s.SKU, s.Before, s.After, s.OrderedUnits, s.Consistent)
	}
}

func runTarget(cfg config) string {
	if cfg.duration <= 0 {
		return fmt.Sprintf("count:%d", cfg.total)
	}
	return fmt.Sprintf("duration:%s", cfg.duration)
}

func writeJSONReport(path string, result report) error {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if cleanPath == ".." || strings.HasPrefix(cleanPath, ".."+string(filepath.Separator)) {
		return fmt.Errorf("output path must be inside current directory: %s", path)
	}

	// #nosec G304 -- путь задаётся явно флагом -output.
	file, err := os.Create(cleanPath)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(result)
}

func buildLatencySummary(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
	}
}

// percentile интерполирует между соседними рангами отсортированной выборки.
func percentile(sorted []float64, p float64) float64 {
	switch len(sorted) {
	case 0:
		return 0
	case 1:
		return sorted[0]
	}

	rank := (p / 100.0) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}
	weight := rank - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*weight
}
