package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"cfetarifa/cache"
	"cfetarifa/config"
	"cfetarifa/eventbus"
	"cfetarifa/logging"
	"cfetarifa/scraper_pkg"
	"cfetarifa/tariff"
)

// Set by -ldflags at build time.
var version = "dev"

const shutdownTimeout = 10 * time.Second

var configPath string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "cfe-tarifa",
		Short: "CFE residential electricity tariff scraper",
		Long: `Fetch CFE residential tariffs (1, 1A..1F, DAC) from the public portal
with a headless browser and serve them as JSON.

Examples:
  cfe-tarifa serve
  cfe-tarifa fetch --tarifa 1D --mes 7 --inicio-verano 5
  cfe-tarifa fetch --tarifa DAC --kwh 600 --output yaml
  cfe-tarifa watch --tarifa 1D`,
		SilenceUsage: true,
		RunE:         runServe,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ./config/config.yaml)")

	root.AddCommand(newServeCmd(), newFetchCmd(), newWatchCmd(), newInstallCmd(), newVersionCmd())
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
}

// appRuntime holds the long lived collaborators shared by serve and fetch.
type appRuntime struct {
	cfg      *config.Config
	logger   *zap.Logger
	sessions *scraper_pkg.SessionManager
	service  *TariffService
	closers  []func() error
}

func (rt *appRuntime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			rt.logger.Warn("⚠️ Shutdown step failed", zap.Error(err))
		}
	}
	_ = rt.logger.Sync()
}

func newRuntime(ctx context.Context) (*appRuntime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}

	rt := &appRuntime{cfg: cfg, logger: logger}
	rt.sessions = scraper_pkg.NewSessionManager(cfg.BrowserOptions(), logger)
	rt.closers = append(rt.closers, rt.sessions.Close)

	var tc cache.TariffCache = cache.Nop{}
	if cfg.Cache.RedisAddr != "" {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		rc, err := cache.NewRedisCache(pingCtx, cfg.Cache.RedisAddr, cfg.Cache.TTL)
		cancel()
		if err != nil {
			logger.Warn("⚠️ Redis unavailable, caching disabled", zap.Error(err))
		} else {
			logger.Info("✅ Redis cache enabled", zap.String("addr", cfg.Cache.RedisAddr), zap.Duration("ttl", cfg.Cache.TTL))
			tc = rc
			rt.closers = append(rt.closers, rc.Close)
		}
	}

	var bus eventbus.Publisher = eventbus.Nop{}
	if cfg.Events.NATSURL != "" {
		nb, err := eventbus.NewNATSBus(eventbus.NATSConfig{URL: cfg.Events.NATSURL, Subject: cfg.Events.Subject})
		if err != nil {
			logger.Warn("⚠️ NATS unavailable, events disabled", zap.Error(err))
		} else {
			logger.Info("✅ Publishing tariff events", zap.String("subject", cfg.Events.Subject))
			bus = nb
			rt.closers = append(rt.closers, nb.Close)
		}
	}

	fetcher := scraper_pkg.NewFetcher(rt.sessions, cfg.Portal.BaseURL, logger)
	rt.service = NewTariffService(fetcher, tc, bus, logger)
	return rt, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	log := rt.logger

	if rt.cfg.Warmup.Schedule != "" {
		warmer := NewWarmer(rt.service, rt.cfg.WarmupCodes(), rt.cfg.Warmup.SummerStart, log)
		if err := warmer.Start(rt.cfg.Warmup.Schedule); err != nil {
			return err
		}
		rt.closers = append(rt.closers, func() error { warmer.Stop(); return nil })
	}

	api := NewAPI(rt.service, log)
	srv := &http.Server{
		Addr:              rt.cfg.Server.Addr(),
		Handler:           api.Handler(rt.cfg.Server.CORSOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("🚀 CFE tariff API listening", zap.String("addr", srv.Addr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("🛑 Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("⚠️ HTTP shutdown incomplete", zap.Error(err))
	}
	return nil
}

type fetchFlags struct {
	tarifa       string
	anio         int
	mes          int
	inicioVerano int
	bimestral    bool
	debug        bool
	kwh          float64
	output       string
}

func newFetchCmd() *cobra.Command {
	defaults := tariff.NewRequest(time.Now())
	f := &fetchFlags{}
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch one tariff and print it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, opts, err := f.request(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := newRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			out, err := rt.service.Lookup(ctx, req, opts)
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), f.output, out.Body())
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.tarifa, "tarifa", string(defaults.Code), "tariff code (1, 1A..1F, DAC)")
	fl.IntVar(&f.anio, "anio", defaults.Year, "year")
	fl.IntVar(&f.mes, "mes", defaults.Month, "month to query (1-12)")
	fl.IntVar(&f.inicioVerano, "inicio-verano", defaults.SummerStartMonth, "month in which summer starts (1-12)")
	fl.BoolVar(&f.bimestral, "bimestral", defaults.IsBimonthly, "bimonthly billing")
	fl.BoolVar(&f.debug, "debug", false, "print raw rows or frame diagnostics")
	fl.Float64Var(&f.kwh, "kwh", 0, "estimate the bill for this consumption")
	fl.StringVarP(&f.output, "output", "o", "json", "output format (json, yaml)")
	return cmd
}

func (f *fetchFlags) request(cmd *cobra.Command) (tariff.Request, LookupOptions, error) {
	req := tariff.Request{
		Code:             tariff.ParseCode(f.tarifa),
		Year:             f.anio,
		Month:            f.mes,
		SummerStartMonth: f.inicioVerano,
		IsBimonthly:      f.bimestral,
		Debug:            f.debug,
	}
	if err := req.Validate(); err != nil {
		return req, LookupOptions{}, err
	}
	opts := LookupOptions{Trigger: TriggerCLI}
	if cmd.Flags().Changed("kwh") {
		if err := tariff.ValidateKWh(f.kwh); err != nil {
			return req, opts, err
		}
		kwh := f.kwh
		opts.KWh = &kwh
	}
	return req, opts, nil
}

func writeOutput(w io.Writer, format string, v interface{}) error {
	switch strings.ToLower(format) {
	case "", "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func newWatchCmd() *cobra.Command {
	var code, output string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print tariff events published on NATS",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			bus, err := eventbus.NewNATSBus(eventbus.NATSConfig{URL: cfg.Events.NATSURL, Subject: cfg.Events.Subject})
			if err != nil {
				return err
			}
			defer bus.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			fmt.Fprintf(cmd.ErrOrStderr(), "👂 Listening on %s\n", bus.Subject())
			dropped, err := watchEvents(ctx, bus, cmd.OutOrStdout(), tariff.ParseCode(code), output)
			if dropped > 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "⚠️ Dropped %d malformed messages\n", dropped)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&code, "tarifa", "", "only print events for this tariff code")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format (text, json, yaml)")
	return cmd
}

// watchEvents prints matching events to w until ctx is done and returns how
// many messages were dropped as malformed.
func watchEvents(ctx context.Context, bus *eventbus.NATSBus, w io.Writer, only tariff.Code, format string) (int64, error) {
	var mu sync.Mutex
	sub, err := bus.Subscribe(ctx, func(evt eventbus.TariffEvent) {
		if only != "" && evt.Payload.Code != only {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if format == "" || format == "text" {
			p := evt.Payload
			fmt.Fprintf(w, "[%s] %s %d-%02d tiers=%d cacheHit=%t trigger=%s\n",
				evt.Timestamp.Format(time.RFC3339), p.Code, p.Year, p.Month, p.Tiers, p.CacheHit, p.Trigger)
			return
		}
		_ = writeOutput(w, format, evt)
	})
	if err != nil {
		return 0, err
	}
	<-ctx.Done()
	return sub.Dropped(), nil
}

func newInstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Install the Playwright driver and Chromium",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), "🔧 Installing Playwright Chromium browser...")
			if err := scraper_pkg.InstallChromium(); err != nil {
				return fmt.Errorf("playwright install: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "✅ Playwright Chromium installed")
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "cfe-tarifa", version)
		},
	}
}
