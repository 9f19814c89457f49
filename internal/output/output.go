// Package output renders aggregate scan results for humans and machines:
// an aligned table, JSON, or CSV.
package output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/sweepnet/sweepnet/internal/errors"
	"github.com/sweepnet/sweepnet/internal/scanning"
)

// Format selects a renderer.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatCSV   Format = "csv"
)

// ParseFormat validates a format name.
func ParseFormat(name string) (Format, error) {
	switch Format(strings.ToLower(name)) {
	case FormatTable, "":
		return FormatTable, nil
	case FormatJSON:
		return FormatJSON, nil
	case FormatCSV:
		return FormatCSV, nil
	default:
		return "", errors.NewScanError(errors.CodeValidation,
			fmt.Sprintf("unknown output format %q (valid: table, json, csv)", name))
	}
}

// Renderer writes scan results in a fixed format.
type Renderer struct {
	format Format
	// OpenOnly drops closed and filtered ports from the output.
	OpenOnly bool
}

// NewRenderer creates a renderer for the given format.
func NewRenderer(format Format) *Renderer {
	return &Renderer{format: format}
}

// Render writes the result to w.
func (r *Renderer) Render(w io.Writer, result *scanning.ScanResult) error {
	records := r.records(result)
	switch r.format {
	case FormatJSON:
		return renderJSON(w, result, records)
	case FormatCSV:
		return renderCSV(w, records)
	default:
		return renderTable(w, result, records)
	}
}

func (r *Renderer) records(result *scanning.ScanResult) []scanning.ResultRecord {
	records := make([]scanning.ResultRecord, 0, len(result.Results))
	for i := range result.Results {
		res := &result.Results[i]
		if r.OpenOnly && res.State != scanning.StateOpen {
			continue
		}
		records = append(records, res.Record())
	}
	return records
}

// jsonReport is the envelope for machine-readable output.
type jsonReport struct {
	JobID      string                  `json:"job_id"`
	StartTime  string                  `json:"start_time"`
	DurationMs float64                 `json:"duration_ms"`
	Incomplete bool                    `json:"incomplete,omitempty"`
	OpenPorts  int                     `json:"open_ports"`
	Results    []scanning.ResultRecord `json:"results"`
}

func renderJSON(w io.Writer, result *scanning.ScanResult, records []scanning.ResultRecord) error {
	report := jsonReport{
		JobID:      result.JobID.String(),
		StartTime:  result.StartTime.UTC().Format("2006-01-02T15:04:05Z"),
		DurationMs: float64(result.Duration.Microseconds()) / 1000.0,
		Incomplete: result.Incomplete,
		OpenPorts:  result.OpenCount(),
		Results:    records,
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func renderCSV(w io.Writer, records []scanning.ResultRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"target", "port", "state", "service", "product", "version", "rtt_ms", "banner"}); err != nil {
		return err
	}
	for i := range records {
		rec := &records[i]
		row := []string{
			rec.Target,
			strconv.Itoa(int(rec.Port)),
			rec.State,
			rec.Service,
			rec.Product,
			rec.Version,
			strconv.FormatFloat(rec.RTTMs, 'f', 3, 64),
			sanitizeBanner(rec.Banner),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func renderTable(w io.Writer, result *scanning.ScanResult, records []scanning.ResultRecord) error {
	table := tablewriter.NewWriter(w)
	table.Header("Target", "Port", "State", "Service", "Version", "RTT")

	for i := range records {
		rec := &records[i]
		service := rec.Service
		version := rec.Product
		if rec.Version != "" {
			version += "/" + rec.Version
		}
		_ = table.Append([]string{
			rec.Target,
			strconv.Itoa(int(rec.Port)),
			rec.State,
			service,
			strings.TrimPrefix(version, "/"),
			fmt.Sprintf("%.1fms", rec.RTTMs),
		})
	}
	if err := table.Render(); err != nil {
		return err
	}

	status := ""
	if result.Incomplete {
		status = " (incomplete)"
	}
	_, err := fmt.Fprintf(w, "\n%d ports scanned, %d open in %s%s\n",
		len(result.Results), result.OpenCount(), result.Duration.Round(time.Millisecond), status)
	return err
}

// sanitizeBanner makes a banner safe for single-line formats.
func sanitizeBanner(banner string) string {
	banner = strings.ReplaceAll(banner, "\r", "\\r")
	banner = strings.ReplaceAll(banner, "\n", "\\n")
	return banner
}
