package scenario

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"bankload/internal/metrics"
)

// Report は結果をフォーマットして返す
func (r *Result) Report() string {
	var b strings.Builder

	fmt.Fprintf(&b, `
================================================================================
                         SCENARIO REPORT: %s
================================================================================

EXECUTION SUMMARY
-----------------
  Target:         %s
  Start Time:     %s
  End Time:       %s
  Duration:       %v

SESSIONS
--------
  Users:            %d
  Spawned:          %d
  Started:          %d
  Aborted:          %d

TRAFFIC METRICS
---------------
  Total Requests:   %d
  Success:          %d
  Failed:           %d
  Error Rate:       %.2f%%
  Throughput:       %.2f req/s
  Avg Latency:      %v
  P95 Latency:      %v
  P99 Latency:      %v

ACTIONS
-------
`,
		r.ScenarioName,
		r.Host,
		r.StartTime.Format("2006-01-02 15:04:05"),
		r.EndTime.Format("2006-01-02 15:04:05"),
		r.Duration.Round(time.Millisecond),
		r.Users,
		r.Sessions.Spawned,
		r.Sessions.Started,
		r.Sessions.Aborted,
		r.Total.TotalRequests,
		r.Total.SuccessRequests,
		r.Total.FailedRequests,
		r.Total.ErrorRate*100,
		r.throughput(),
		r.Total.AverageLatency.Round(time.Microsecond),
		r.Total.P95Latency.Round(time.Microsecond),
		r.Total.P99Latency.Round(time.Microsecond),
	)

	rows := make([]metrics.Snapshot, 0, len(r.Actions)+1)
	rows = append(rows, r.Actions...)
	writeActionTable(&b, append(rows, r.Total))

	b.WriteString("\n================================================================================")
	return b.String()
}

// throughput は実行時間全体での平均RPS
func (r *Result) throughput() float64 {
	secs := r.Duration.Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(r.Total.TotalRequests) / secs
}

func writeActionTable(b *strings.Builder, rows []metrics.Snapshot) {
	table := tablewriter.NewWriter(b)
	table.SetHeader([]string{"Name", "Requests", "Fails", "Error %", "Avg", "P50", "P95", "P99", "Statuses"})
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_RIGHT)

	for _, s := range rows {
		table.Append([]string{
			s.Name,
			strconv.FormatUint(s.TotalRequests, 10),
			strconv.FormatUint(s.FailedRequests, 10),
			fmt.Sprintf("%.2f", s.ErrorRate*100),
			s.AverageLatency.Round(time.Millisecond).String(),
			s.P50Latency.Round(time.Millisecond).String(),
			s.P95Latency.Round(time.Millisecond).String(),
			s.P99Latency.Round(time.Millisecond).String(),
			formatStatuses(s.StatusCounts),
		})
	}
	table.Render()
}

// formatStatuses は "200:10 404:2" 形式で返す。0 はレスポンスなし
func formatStatuses(counts map[int]uint64) string {
	codes := make([]int, 0, len(counts))
	for code := range counts {
		codes = append(codes, code)
	}
	sort.Ints(codes)

	parts := make([]string, 0, len(codes))
	for _, code := range codes {
		label := strconv.Itoa(code)
		if code == 0 {
			label = "err"
		}
		parts = append(parts, fmt.Sprintf("%s:%d", label, counts[code]))
	}
	return strings.Join(parts, " ")
}
