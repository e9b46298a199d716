package capture

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/spf13/afero"

	"sharedcal/internal/calmath"
	appLog "sharedcal/internal/log"
)

// Default capture parameters. These match the layout of the /calendar page
// on a desktop browser.
const (
	DefaultWidth      = 1280
	DefaultHeight     = 960
	DefaultTimeoutSec = 30

	// CompactWidth is the viewport used for compact snapshots.
	CompactWidth = 390
)

// Options defines one snapshot of the calendar page.
type Options struct {
	// BaseURL is the running server, e.g. "http://127.0.0.1:8080".
	BaseURL string

	// Mode and Date select the state to render. A zero Date renders around
	// the server's current anchor.
	Mode    calmath.ViewMode
	Date    calmath.Date
	Today   calmath.Date
	Compact bool

	// OutputPath is where the PNG is written, e.g.
	// "~/.cache/sharedcal/preview.png" after expansion.
	OutputPath string

	// Width and Height are the viewport dimensions in pixels. If zero, the
	// defaults are used (CompactWidth for compact snapshots).
	Width  int
	Height int

	// Username and Password are sent as basic auth when Username is set.
	Username string
	Password string

	// Timeout bounds the entire capture operation.
	Timeout time.Duration

	// Fs receives the PNG. Defaults to the OS filesystem.
	Fs afero.Fs
}

func (o *Options) normalize() error {
	if o.BaseURL == "" {
		return errors.New("capture: BaseURL is required")
	}
	if o.OutputPath == "" {
		return errors.New("capture: OutputPath is required")
	}
	if !o.Mode.Valid() {
		o.Mode = calmath.ModeMonth
	}
	if o.Width <= 0 {
		o.Width = DefaultWidth
		if o.Compact {
			o.Width = CompactWidth
		}
	}
	if o.Height <= 0 {
		o.Height = DefaultHeight
	}
	if o.Timeout <= 0 {
		o.Timeout = time.Duration(DefaultTimeoutSec) * time.Second
	}
	if o.Fs == nil {
		o.Fs = afero.NewOsFs()
	}
	return nil
}

// PageURL builds the /calendar URL for opts.
func PageURL(opts Options) (string, error) {
	u, err := url.Parse(strings.TrimRight(opts.BaseURL, "/") + "/calendar")
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("capture: invalid base url %q", opts.BaseURL)
	}
	q := url.Values{}
	mode := opts.Mode
	if !mode.Valid() {
		mode = calmath.ModeMonth
	}
	q.Set("mode", mode.String())
	if !opts.Date.IsZero() {
		q.Set("date", opts.Date.String())
	}
	if !opts.Today.IsZero() {
		q.Set("today", opts.Today.String())
	}
	if opts.Compact {
		q.Set("compact", strconv.FormatBool(true))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Snapshot launches a headless Chromium via chromedp, loads the calendar page,
// waits for `[data-ready="true"]` and writes a full-page PNG to
// opts.OutputPath. It returns the PNG bytes.
func Snapshot(parentCtx context.Context, opts Options) ([]byte, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	pageURL, err := PageURL(opts)
	if err != nil {
		return nil, err
	}

	ctx, cancel := chromedp.NewContext(parentCtx)
	defer cancel()

	ctx, timeoutCancel := context.WithTimeout(ctx, opts.Timeout)
	defer timeoutCancel()

	var png []byte
	tasks := chromedp.Tasks{
		chromedp.EmulateViewport(int64(opts.Width), int64(opts.Height)),
	}
	if opts.Username != "" {
		cred := base64.StdEncoding.EncodeToString([]byte(opts.Username + ":" + opts.Password))
		tasks = append(tasks,
			network.Enable(),
			network.SetExtraHTTPHeaders(network.Headers{"Authorization": "Basic " + cred}),
		)
	}
	tasks = append(tasks,
		chromedp.Navigate(pageURL),
		chromedp.WaitVisible(`[data-ready="true"]`, chromedp.ByQuery),
		// Small extra delay to allow final paints.
		chromedp.Sleep(300*time.Millisecond),
		chromedp.FullScreenshot(&png, 100),
	)

	start := time.Now()
	if err := chromedp.Run(ctx, tasks); err != nil {
		return nil, fmt.Errorf("capture: chromedp run failed: %w", err)
	}

	if err := writeFile(opts.Fs, opts.OutputPath, png); err != nil {
		return nil, err
	}
	appLog.Info("snapshot written", "path", opts.OutputPath, "bytes", len(png), "elapsed", time.Since(start).Round(time.Millisecond))
	return png, nil
}

// writeFile replaces path atomically so /preview.png never serves a partial
// image.
func writeFile(fsys afero.Fs, path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("capture: mkdir %s: %w", dir, err)
	}
	tmp, err := afero.TempFile(fsys, dir, ".preview-*.png")
	if err != nil {
		return fmt.Errorf("capture: temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = fsys.Remove(tmpName)
		return fmt.Errorf("capture: write PNG: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = fsys.Remove(tmpName)
		return fmt.Errorf("capture: write PNG: %w", err)
	}
	if err := fsys.Rename(tmpName, path); err != nil {
		_ = fsys.Remove(tmpName)
		return fmt.Errorf("capture: rename PNG: %w", err)
	}
	return nil
}
