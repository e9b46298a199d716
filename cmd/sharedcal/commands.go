package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"sharedcal/internal/calmath"
	"sharedcal/internal/calview"
	"sharedcal/internal/capture"
	"sharedcal/internal/config"
	"sharedcal/internal/host"
	"sharedcal/internal/ics"
	appLog "sharedcal/internal/log"
	"sharedcal/internal/termview"
	"sharedcal/internal/web"
)

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigCh)
		select {
		case sig := <-sigCh:
			appLog.Info("signal received, shutting down", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func icsSources(a *app) []ics.Source {
	out := make([]ics.Source, 0, len(a.cfg.ICS))
	for _, c := range a.cfg.ICS {
		out = append(out, ics.Source{ID: c.ID, URL: c.URL})
	}
	return out
}

func (a *app) fetcher() (*ics.Fetcher, error) {
	dir, err := a.cacheDir("ics")
	if err != nil {
		return nil, err
	}
	return ics.NewFetcher(dir, nil), nil
}

func addServe(topLevel *cobra.Command, a *app) {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the web calendar, the schedule API and the periodic refresh.",
		Example: `
sharedcal serve
sharedcal serve --listen 0.0.0.0:8080
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if listen != "" {
				a.cfg.Listen = listen
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			if err := a.openHost(ctx); err != nil {
				return err
			}
			if err := a.host.Start(ctx); err != nil {
				// The page shows the error; keep serving.
				appLog.Warn("initial load failed", "err", err)
			}

			if a.cfg.RefreshCron != "" {
				opts := host.RefresherOptions{
					Schedule: a.cfg.RefreshCron,
					Sources:  icsSources(a),
					Location: a.cfg.Location(),
				}
				if len(opts.Sources) > 0 {
					f, err := a.fetcher()
					if err != nil {
						return err
					}
					opts.Fetcher = f
				}
				r, err := host.NewRefresher(a.host, opts)
				if err != nil {
					return err
				}
				if err := r.Start(ctx); err != nil {
					return err
				}
				defer r.Stop()
				if len(opts.Sources) > 0 {
					go func() {
						if err := r.RunOnce(ctx); err != nil {
							appLog.Warn("initial ics sync failed", "err", err)
						}
					}()
				}
			}

			preview, err := a.cacheDir("preview.png")
			if err != nil {
				return err
			}
			srv := web.NewServer(web.Options{
				Config:      a.cfg,
				Host:        a.host,
				Store:       a.store,
				PreviewPath: preview,
			})
			appLog.Info("sharedcal serving", "version", version, "user", a.host.DisplayName())
			return srv.StartServer(ctx)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address (overrides config if set).")
	topLevel.AddCommand(cmd)
}

// viewFlags select a rendering on the command line.
type viewFlags struct {
	Mode    string
	Date    string
	Today   string
	Compact bool
}

func addViewFlags(cmd *cobra.Command, v *viewFlags) {
	cmd.Flags().StringVarP(&v.Mode, "mode", "m", "", "View mode: month, week or day. Defaults to the config's default_view.")
	cmd.Flags().StringVarP(&v.Date, "date", "d", "", "Anchor date (YYYY-MM-DD). Defaults to today.")
	cmd.Flags().StringVar(&v.Today, "today", "", "Override today's date (YYYY-MM-DD).")
	cmd.Flags().BoolVar(&v.Compact, "compact", false, "Use compact weekday labels.")
}

func (v viewFlags) parse(fallback calmath.ViewMode) (mode calmath.ViewMode, anchor, today calmath.Date, err error) {
	mode = fallback
	if v.Mode != "" {
		if mode, err = calmath.ParseViewMode(v.Mode); err != nil {
			return mode, anchor, today, err
		}
	}
	if v.Date != "" {
		if anchor, err = calmath.ParseDate(v.Date); err != nil {
			return mode, anchor, today, err
		}
	}
	if v.Today != "" {
		if today, err = calmath.ParseDate(v.Today); err != nil {
			return mode, anchor, today, err
		}
	}
	return mode, anchor, today, nil
}

func addShow(topLevel *cobra.Command, a *app) {
	v := &viewFlags{}
	var width int

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the month, week or day view to the terminal.",
		Example: `
sharedcal show
sharedcal show --mode week --date 2024-03-15
sharedcal show -m day
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mode, anchor, today, err := v.parse(a.cfg.DefaultView)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := a.openHost(ctx); err != nil {
				return err
			}
			r, err := a.host.RenderAt(ctx, mode, anchor, today, v.Compact)
			if err != nil {
				return err
			}
			_, err = fmt.Fprint(color.Output, termview.Render(r, termview.Options{
				Color:      !color.NoColor,
				CellWidth:  width,
				TwelveHour: a.cfg.TwelveHour(),
				Locale:     calview.ParseLocale(a.cfg.Locale),
			}))
			return err
		},
	}
	addViewFlags(cmd, v)
	cmd.Flags().IntVar(&width, "width", 0, "Column width for month and week views.")
	topLevel.AddCommand(cmd)
}

func addSearch(topLevel *cobra.Command, a *app) {
	cmd := &cobra.Command{
		Use:   "search <keyword>",
		Short: "Search schedules by title and contents.",
		Example: `
sharedcal search standup
sharedcal search "design review"
`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			keyword := strings.TrimSpace(strings.Join(args, " "))
			if keyword == "" {
				return errors.New("search keyword is empty")
			}
			if err := a.openStore(cmd.Context()); err != nil {
				return err
			}
			events, err := a.store.Search(cmd.Context(), keyword)
			if err != nil {
				return err
			}
			return termview.WriteEvents(color.Output, events)
		},
	}
	topLevel.AddCommand(cmd)
}

func addList(topLevel *cobra.Command, a *app) {
	var (
		size   int
		cursor int64
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List schedules newest first, one page at a time.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.openStore(cmd.Context()); err != nil {
				return err
			}
			page, err := a.store.List(cmd.Context(), size, cursor)
			if err != nil {
				return err
			}
			if err := termview.WriteEvents(color.Output, page.Events); err != nil {
				return err
			}
			if page.HasNext {
				_, err = fmt.Fprintf(color.Output, "\nnext page: sharedcal list --cursor %d\n", page.NextCursor)
			}
			return err
		},
	}
	cmd.Flags().IntVarP(&size, "size", "n", 20, "Page size.")
	cmd.Flags().Int64Var(&cursor, "cursor", 0, "Cursor printed by the previous page.")
	topLevel.AddCommand(cmd)
}

func addImport(topLevel *cobra.Command, a *app) {
	cmd := &cobra.Command{
		Use:   "import <file|url>...",
		Short: "Import VEVENTs from ICS files or feeds. Already imported events are skipped.",
		Example: `
sharedcal import ~/Downloads/team.ics
sharedcal import https://example.com/holidays.ics
`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if err := a.openStore(ctx); err != nil {
				return err
			}
			f, err := a.fetcher()
			if err != nil {
				return err
			}

			var total ics.Report
			for i, arg := range args {
				src := ics.Source{ID: fmt.Sprintf("arg-%d", i+1), URL: arg}
				body, err := readICS(ctx, a.fs, f, src)
				if err != nil {
					return err
				}
				items, err := ics.ParseICS(src, body, a.cfg.Location())
				if err != nil {
					return err
				}
				rep, err := ics.Import(ctx, a.store, items)
				if err != nil {
					return err
				}
				total.Created += rep.Created
				total.Duplicate += rep.Duplicate
				total.Failed += rep.Failed
				total.Errors = append(total.Errors, rep.Errors...)
			}

			_, err = fmt.Fprintf(color.Output, "created %d, duplicate %d, failed %d\n",
				total.Created, total.Duplicate, total.Failed)
			for _, e := range total.Errors {
				_, _ = fmt.Fprintln(color.Output, color.RedString("  %v", e))
			}
			return err
		},
	}
	topLevel.AddCommand(cmd)
}

// readICS fetches http(s) sources through the cached fetcher and reads
// anything else as a local path.
func readICS(ctx context.Context, fsys afero.Fs, f *ics.Fetcher, src ics.Source) ([]byte, error) {
	if strings.HasPrefix(src.URL, "http://") || strings.HasPrefix(src.URL, "https://") {
		res, err := f.FetchOne(ctx, src)
		if err != nil {
			return nil, err
		}
		return res.Body, nil
	}
	path, err := config.Expand(src.URL)
	if err != nil {
		return nil, err
	}
	body, err := afero.ReadFile(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return body, nil
}

func addLogin(topLevel *cobra.Command, a *app) {
	var password string

	cmd := &cobra.Command{
		Use:   "login <member-id>",
		Short: "Sign in against the configured auth_url and keep the session.",
		Long: "Sign in against the configured auth_url and keep the session.\n\n" +
			"The password is read from stdin unless --password is given.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.AuthURL == "" {
				return errors.New("auth_url is not configured")
			}
			if err := a.openIdentity(); err != nil {
				return err
			}
			if password == "" {
				_, _ = fmt.Fprint(os.Stderr, "password: ")
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read password: %w", err)
				}
				password = strings.TrimRight(line, "\r\n")
			}
			s, err := a.identity.Login(cmd.Context(), args[0], password)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(color.Output, "signed in as %s\n", color.New(color.Bold).Sprint(s.Name))
			return err
		},
	}
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password. Read from stdin when empty.")
	topLevel.AddCommand(cmd)
}

func addLogout(topLevel *cobra.Command, a *app) {
	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Drop the saved session.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.openIdentity(); err != nil {
				return err
			}
			a.identity.Logout()
			_, err := fmt.Fprintln(color.Output, "signed out")
			return err
		},
	}
	topLevel.AddCommand(cmd)
}

func addSnapshot(topLevel *cobra.Command, a *app) {
	v := &viewFlags{}
	var (
		baseURL string
		out     string
		user    string
		pass    string
		width   int
		height  int
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Capture the running web calendar as a PNG with headless Chromium.",
		Example: `
sharedcal snapshot
sharedcal snapshot --mode week --compact --out /tmp/week.png
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			mode, anchor, today, err := v.parse(a.cfg.DefaultView)
			if err != nil {
				return err
			}
			if baseURL == "" {
				baseURL = "http://" + a.cfg.Listen
			}
			if out == "" {
				if out, err = a.cacheDir("preview.png"); err != nil {
					return err
				}
			} else if out, err = config.Expand(out); err != nil {
				return err
			}
			if user == "" && a.cfg.BasicAuth != nil && a.cfg.BasicAuth.Password != "" {
				user, pass = a.cfg.BasicAuth.Username, a.cfg.BasicAuth.Password
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			_, err = capture.Snapshot(ctx, capture.Options{
				BaseURL:    baseURL,
				Mode:       mode,
				Date:       anchor,
				Today:      today,
				Compact:    v.Compact,
				OutputPath: out,
				Width:      width,
				Height:     height,
				Username:   user,
				Password:   pass,
				Timeout:    timeout,
				Fs:         a.fs,
			})
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(color.Output, out)
			return err
		},
	}
	addViewFlags(cmd, v)
	cmd.Flags().StringVar(&baseURL, "url", "", "Base URL of the running server. Defaults to http://<listen>.")
	cmd.Flags().StringVarP(&out, "out", "o", "", "PNG output path. Defaults to <cache_dir>/preview.png.")
	cmd.Flags().StringVar(&user, "auth-user", "", "Basic auth username.")
	cmd.Flags().StringVar(&pass, "auth-password", "", "Basic auth password.")
	cmd.Flags().IntVar(&width, "width", 0, "Viewport width in pixels.")
	cmd.Flags().IntVar(&height, "height", 0, "Viewport height in pixels.")
	cmd.Flags().DurationVar(&timeout, "timeout", time.Duration(capture.DefaultTimeoutSec)*time.Second, "Capture timeout.")
	topLevel.AddCommand(cmd)
}
