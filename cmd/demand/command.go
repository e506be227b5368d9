package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/apex/log/handlers/cli"
	"github.com/fatih/color"
	"github.com/keboola/go-utils/pkg/orderedmap"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/keboola/go-demand/pkg/demand"
	"github.com/keboola/go-demand/pkg/transport"
	"github.com/keboola/go-demand/pkg/transport/trace"
)

type options struct {
	envFiles []string
	data     []string
	body     string
	headers  []string
	verbose  bool
	dump     bool
	progress bool
	timeout  time.Duration

	// roundTripper replaces the default one, used by tests.
	roundTripper http.RoundTripper
}

func newCommand(stdout, stderr io.Writer) *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:   "demand [flags] METHOD URL",
		Short: "Send one HTTP request and print the response",
		Long: "Send one HTTP request and print the response body to stdout.\n\n" +
			"Configuration is read from the environment and .env files:\n" +
			"  DEMAND_USER_AGENT, DEMAND_BASE_URL, DEMAND_HTTP2, DEMAND_VERBOSE",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(opts.envFiles...)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, opts, args[0], args[1], stdout, stderr)
		},
	}

	flags := cmd.Flags()
	flags.StringArrayVar(&opts.envFiles, "env-file", []string{".env"}, "env file to load, if it exists")
	flags.StringArrayVarP(&opts.data, "data", "d", nil, `form field "key=value", repeat the key for a sequence`)
	flags.StringVar(&opts.body, "body", "", "raw text body, cannot be combined with --data")
	flags.StringArrayVarP(&opts.headers, "header", "H", nil, `request header "Key: Value"`)
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log requests and events to stderr")
	flags.BoolVar(&opts.dump, "dump", false, "dump requests and responses to stderr")
	flags.BoolVar(&opts.progress, "progress", false, "show download progress bar")
	flags.DurationVar(&opts.timeout, "timeout", 0, "abort the request after the duration, 0 means no timeout")
	return cmd
}

func run(ctx context.Context, cfg Config, opts *options, method, url string, stdout, stderr io.Writer) error {
	verbose := cfg.Verbose || opts.verbose
	logger := &log.Logger{Handler: cli.New(stderr), Level: log.InfoLevel}
	if verbose {
		logger.Level = log.DebugLevel
	}

	body, err := requestBody(opts)
	if err != nil {
		return err
	}

	client, err := newClient(cfg, opts, stderr)
	if err != nil {
		return err
	}

	var bar *progressbar.ProgressBar
	if opts.progress {
		bar = newProgressBar(stderr)
	}

	d, err := demand.New(url, map[string]demand.Callback{
		demand.EventUploadProgress: demand.OnEvent(func(_ transport.Transport, ev transport.Event) {
			logger.Debugf("uploaded %d bytes", ev.Loaded)
		}),
		demand.EventProgress: demand.OnEvent(func(_ transport.Transport, ev transport.Event) {
			if bar != nil {
				if ev.LengthComputable {
					bar.ChangeMax64(ev.Total)
				}
				_ = bar.Set64(ev.Loaded)
			}
		}),
		demand.EventComplete: func(t transport.Transport, _ ...any) {
			if bar != nil {
				_ = bar.Finish()
			}
			if t.Err() == nil {
				statusColor(t.Status()).Fprintln(stderr, t.StatusText())
			}
		},
		demand.EventSuccess: func(t transport.Transport, _ ...any) {
			_, _ = stdout.Write(t.Response())
		},
		demand.EventFailure: func(t transport.Transport, _ ...any) {
			if t.Err() == nil {
				_, _ = stdout.Write(t.Response())
			}
		},
		demand.EventAbort: func(_ transport.Transport, _ ...any) {
			logger.Warnf("request aborted")
		},
	}, demand.WithClient(client), demand.WithLogger(logger))
	if err != nil {
		return err
	}

	if err := dispatch(d, method, body, opts); err != nil {
		return err
	}

	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}
	if err := d.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			d.Abort()
			return fmt.Errorf(`request %s "%s" aborted: %w`, method, url, ctx.Err())
		}
		return err
	}
	return nil
}

func dispatch(d *demand.Demand, method string, body demand.Body, opts *options) error {
	switch strings.ToUpper(method) {
	case http.MethodHead:
		return d.Head()
	case http.MethodOptions:
		return d.Options()
	case http.MethodGet:
		return d.Get()
	case http.MethodDelete:
		return d.Delete()
	case http.MethodPost:
		return d.Post(body)
	case http.MethodPut:
		return d.Put(body)
	default:
		// Raw sends the payload unmodified, fields are encoded only by Post and Put
		if len(opts.data) > 0 {
			return fmt.Errorf(`flag --data is not supported by the method "%s", use --body`, method)
		}
		var payload transport.Payload
		if opts.body != "" {
			payload = transport.Text(opts.body)
		}
		return d.Raw(method, payload)
	}
}

func requestBody(opts *options) (demand.Body, error) {
	if len(opts.data) > 0 && opts.body != "" {
		return nil, fmt.Errorf("flags --data and --body cannot be combined")
	}
	if opts.body != "" {
		return demand.Text(opts.body), nil
	}
	if len(opts.data) == 0 {
		return nil, nil
	}

	fields := orderedmap.New()
	for _, item := range opts.data {
		key, value, found := strings.Cut(item, "=")
		if !found || key == "" {
			return nil, fmt.Errorf(`invalid --data "%s", expected "key=value"`, item)
		}
		if existing, found := fields.Get(key); found {
			switch v := existing.(type) {
			case []string:
				fields.Set(key, append(v, value))
			case string:
				fields.Set(key, []string{v, value})
			}
		} else {
			fields.Set(key, value)
		}
	}
	return demand.Fields(fields), nil
}

func newClient(cfg Config, opts *options, stderr io.Writer) (transport.Client, error) {
	client := transport.New()
	switch {
	case opts.roundTripper != nil:
		client = client.WithRoundTripper(opts.roundTripper)
	case cfg.HTTP2:
		client = client.WithRoundTripper(transport.HTTP2RoundTripper())
	}
	if cfg.UserAgent != "" {
		client = client.WithUserAgent(cfg.UserAgent)
	}
	if cfg.BaseURL != "" {
		client = client.WithBaseURL(cfg.BaseURL)
	}
	for _, header := range opts.headers {
		key, value, found := strings.Cut(header, ":")
		if !found || strings.TrimSpace(key) == "" {
			return transport.Client{}, fmt.Errorf(`invalid --header "%s", expected "Key: Value"`, header)
		}
		client = client.WithHeader(strings.TrimSpace(key), strings.TrimSpace(value))
	}
	if cfg.Verbose || opts.verbose {
		client = client.AndTrace(trace.LogTracer(stderr))
	}
	if opts.dump {
		client = client.AndTrace(trace.DumpTracer(stderr))
	}
	return client, nil
}

func newProgressBar(w io.Writer) *progressbar.ProgressBar {
	return progressbar.NewOptions64(
		-1,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("downloading"),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionOnCompletion(func() {
			_, _ = fmt.Fprint(w, "\n")
		}),
	)
}

func statusColor(status int) *color.Color {
	switch {
	case status >= 200 && status < 300:
		return color.New(color.FgGreen)
	case status >= 300 && status < 400:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgRed)
	}
}
