// Package export turns analysis results into CSV reports and delivers them
// to a sink: a local directory, or an object store through a pre-signed
// upload URL with the local directory as fallback.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/vk/drivergrid/internal/causal"
	"github.com/vk/drivergrid/internal/ctxlog"
)

// httpClient is shared across uploads to reuse TCP connections.
var httpClient = &http.Client{}

// Writer renders and delivers reports.
type Writer struct {
	// Dir is the local sink; always required, used directly or as the
	// upload fallback.
	Dir string
	// UploadURL, when set, is a pre-signed object-store PUT target.
	UploadURL string
}

// DriverReport renders a sensitivity result as CSV rows of
// (driver id, name, sensitivity).
func DriverReport(metricID string, result *causal.DriversResult) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"metric", "driver", "name", "sensitivity"}); err != nil {
		return nil, err
	}
	for _, d := range result.Drivers {
		row := []string{metricID, d.ID, d.Name, strconv.FormatFloat(d.Sensitivity, 'g', -1, 64)}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// VarianceReport renders a waterfall result as CSV rows of
// (driver, delta, contribution).
func VarianceReport(metricID string, result *causal.VarianceResult) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"metric", "driver", "delta", "contribution_percent"}); err != nil {
		return nil, err
	}
	for _, d := range result.Drivers {
		row := []string{
			metricID,
			d.Driver,
			strconv.FormatFloat(d.Delta, 'g', -1, 64),
			strconv.FormatFloat(d.ContributionPercent, 'g', -1, 64),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// Deliver writes the report under name. With an UploadURL configured it
// tries the object store first and falls back to the local directory on any
// upload failure; otherwise it writes locally. It returns the destination
// that actually received the report.
func (w *Writer) Deliver(ctx context.Context, name string, report []byte) (string, error) {
	logger := ctxlog.FromContext(ctx)

	if w.UploadURL != "" {
		if err := w.upload(ctx, report); err == nil {
			logger.Info("Report uploaded to object store.", "report", name, "bytes", len(report))
			return w.UploadURL, nil
		} else {
			logger.Warn("Object store upload failed, falling back to local sink.", "report", name, "error", err)
		}
	}

	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create report directory %q: %w", w.Dir, err)
	}
	path := filepath.Join(w.Dir, name)
	if err := os.WriteFile(path, report, 0o644); err != nil {
		return "", fmt.Errorf("write report %q: %w", path, err)
	}
	logger.Info("Report written.", "path", path, "bytes", len(report))
	return path, nil
}

func (w *Writer) upload(ctx context.Context, report []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, w.UploadURL, bytes.NewReader(report))
	if err != nil {
		return fmt.Errorf("create upload request: %w", err)
	}
	req.Header.Set("Content-Type", "text/csv")
	req.ContentLength = int64(len(report))

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute upload request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("upload failed with status: %s", resp.Status)
	}
	return nil
}
