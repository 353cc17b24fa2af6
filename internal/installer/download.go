package installer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
)

// progressWriter reports percent complete as bytes flow through it.
// Reports never decrease.
type progressWriter struct {
	total   int64
	written int64
	last    int
	report  func(percent int)
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.written += int64(len(p))
	if w.total > 0 && w.report != nil {
		pct := int(w.written * 100 / w.total)
		if pct > 100 {
			pct = 100
		}
		if pct > w.last {
			w.last = pct
			w.report(pct)
		}
	}
	return len(p), nil
}

// download streams url into dest, reporting whole percentages.
func (i *Installer) download(ctx context.Context, url, dest string, report func(percent int)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "athena-installer")

	resp, err := i.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to download %s: %d %s", url, resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}

	pw := &progressWriter{total: resp.ContentLength, report: report}
	if _, err := io.Copy(io.MultiWriter(f, pw), resp.Body); err != nil {
		f.Close()
		return fmt.Errorf("failed to write archive: %w", err)
	}
	return f.Close()
}

// downloadAny tries each source in order and stops at the first success.
// The primary source maps onto 10-70% and the fallback onto 70-90%.
func (i *Installer) downloadAny(ctx context.Context, urls []string, dest string, report ProgressFunc) error {
	spans := [][2]int{{10, 60}, {70, 20}}

	var errs []error
	for idx, url := range urls {
		base, width := 70, 20
		if idx < len(spans) {
			base, width = spans[idx][0], spans[idx][1]
		}

		label := "Downloading ngrok"
		if idx > 0 {
			report("Primary download failed, trying secondary source...", base)
			label = "Downloading ngrok (secondary source)"
		}

		err := i.download(ctx, url, dest, func(pct int) {
			report(fmt.Sprintf("%s... %d%%", label, pct), base+pct*width/100)
		})
		if err == nil {
			return nil
		}
		i.logger.Warn("download failed", "url", url, "error", err)
		errs = append(errs, err)
		_ = os.Remove(dest)
	}
	return fmt.Errorf("%w: %v", ErrDownloadFailed, errors.Join(errs...))
}
