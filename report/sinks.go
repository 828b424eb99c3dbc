package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"codeberg.org/iklabib/vmsense/model"
)

// Sink delivers a finished report somewhere. Sink failures are logged
// by the orchestrator and never abort the run.
type Sink interface {
	Name() string
	Emit(report model.Report) error
}

// DirSink writes the report artifacts into a directory: the full JSON
// report, one JSON file per successful probe, a measurement matrix CSV,
// and a plain-text summary.
type DirSink struct {
	Dir string
}

func (s DirSink) Name() string { return "dir:" + s.Dir }

func (s DirSink) Emit(report model.Report) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}

	if err := s.writeJSON("report.json", report); err != nil {
		return err
	}
	for _, result := range report.Results {
		if result.Status != model.StatusSuccess {
			continue
		}
		name := fmt.Sprintf("vmsense_%s_result.json", result.ProbeID)
		if err := s.writeJSON(name, result); err != nil {
			return err
		}
	}

	csvData, err := MeasurementsCSV(report.Results)
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(s.Dir, "measurements.csv"), csvData, 0o644); err != nil {
		return fmt.Errorf("writing measurements.csv: %w", err)
	}

	summary := SummaryText(report)
	if err := os.WriteFile(filepath.Join(s.Dir, "summary.txt"), []byte(summary), 0o644); err != nil {
		return fmt.Errorf("writing summary.txt: %w", err)
	}
	return nil
}

func (s DirSink) writeJSON(name string, v any) error {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", name, err)
	}
	if err := os.WriteFile(filepath.Join(s.Dir, name), encoded, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}

// MeasurementsCSV renders the measurement-by-probe matrix. Rows are the
// fixed measurement keys in canonical order, one column per successful
// probe. The physical machine indexes span many orders of magnitude and
// use scientific notation; everything else is fixed-point.
func MeasurementsCSV(results []model.ProbeResult) ([]byte, error) {
	var succeeded []model.ProbeResult
	for _, result := range results {
		if result.Status == model.StatusSuccess {
			succeeded = append(succeeded, result)
		}
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{"Measurement"}
	for _, result := range succeeded {
		header = append(header, result.ProbeID)
	}
	if err := w.Write(header); err != nil {
		return nil, err
	}

	for _, key := range model.MeasurementKeys {
		row := []string{key}
		for _, result := range succeeded {
			value, ok := result.Measurements[key]
			switch {
			case !ok:
				row = append(row, "N/A")
			case key == "PHYSICAL_MACHINE_INDEX" || key == "MULTIPROC_PHYSICAL_MACHINE_INDEX":
				row = append(row, fmt.Sprintf("%.6e", value))
			default:
				row = append(row, fmt.Sprintf("%.6f", value))
			}
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SummaryText renders the short human-readable run summary.
func SummaryText(report model.Report) string {
	var buf bytes.Buffer

	verdict := "PHYSICAL MACHINE"
	if report.Summary.ConsensusVMDetection {
		verdict = "VIRTUAL MACHINE"
	}
	fmt.Fprintf(&buf, "vmsense run %s\n", report.Metadata.Timestamp)
	fmt.Fprintf(&buf, "platform: %s\n", report.Metadata.Platform)
	fmt.Fprintf(&buf, "probes: %d attempted, %d succeeded\n",
		report.Summary.ProbesAttempted, report.Summary.ProbesSucceeded)
	fmt.Fprintf(&buf, "verdict: %s (confidence %.2f)\n", verdict, report.Summary.DetectionConfidence)
	fmt.Fprintf(&buf, "measurements consistent: %v\n", report.Summary.MeasurementsConsistent)
	if report.Summary.FastestProbe != "" {
		fmt.Fprintf(&buf, "fastest probe: %s\n", report.Summary.FastestProbe)
	}
	for _, result := range report.Results {
		fmt.Fprintf(&buf, "  %-8s %-14s %6.2fs", result.ProbeID, result.Status, result.ExecutionTimeSeconds)
		if result.Error != "" {
			fmt.Fprintf(&buf, "  %s", result.Error)
		}
		fmt.Fprintln(&buf)
	}
	return buf.String()
}

// WebhookSink posts the run summary and the measurement CSV as one
// multipart message. Delivery failures are reported to the caller and
// are never fatal to the run.
type WebhookSink struct {
	URL    string
	Client *http.Client
}

func (s WebhookSink) Name() string { return "webhook" }

func (s WebhookSink) Emit(report model.Report) error {
	csvData, err := MeasurementsCSV(report.Results)
	if err != nil {
		return err
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	if err := form.WriteField("content", SummaryText(report)); err != nil {
		return err
	}
	part, err := form.CreateFormFile("file", "measurements.csv")
	if err != nil {
		return err
	}
	if _, err := part.Write(csvData); err != nil {
		return err
	}
	if err := form.Close(); err != nil {
		return err
	}

	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	resp, err := client.Post(s.URL, form.FormDataContentType(), &body)
	if err != nil {
		return fmt.Errorf("posting webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}
