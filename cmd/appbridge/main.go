package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gaspardpetit/appbridge/core/logx"
	"github.com/gaspardpetit/appbridge/internal/bridge"
	"github.com/gaspardpetit/appbridge/internal/chat"
	"github.com/gaspardpetit/appbridge/internal/config"
	"github.com/gaspardpetit/appbridge/internal/metrics"
	"github.com/gaspardpetit/appbridge/internal/server"
	"github.com/gaspardpetit/appbridge/internal/serverstate"
	"github.com/gaspardpetit/appbridge/internal/tools"
)

var (
	version   = "dev"
	buildSHA  = "unknown"
	buildDate = "unknown"
)

func main() {
	_ = godotenv.Load()

	var cfg config.ServerConfig
	cfg.SetDefaults()
	// The flag set is not parsed yet, so -config is pre-scanned from the
	// arguments; otherwise the file named on the command line would load
	// after the defaults it is supposed to override.
	explicit := firstNonEmpty(configPathFromArgs(os.Args[1:]), os.Getenv("CONFIG_FILE"))
	if path := firstNonEmpty(explicit, cfg.ConfigFile); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			if explicit != "" || !os.IsNotExist(err) {
				fmt.Fprintf(os.Stderr, "config: %v\n", err)
				os.Exit(1)
			}
		}
	}
	cfg.ApplyEnv()
	cfg.BindFlagsFromCurrent()
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("appbridge %s (%s, %s)\n", version, buildSHA, buildDate)
		return
	}

	logx.Configure(cfg.LogLevel)
	logx.Log.Info().Str("version", version).Str("sha", buildSHA).Str("date", buildDate).Msg("starting appbridge")

	if cfg.RedisAddr != "" {
		store, err := serverstate.NewRedisStore(cfg.RedisAddr)
		if err != nil {
			logx.Log.Fatal().Err(err).Msg("connecting to redis")
		}
		serverstate.UseStore(store)
	}

	metrics.Register(prometheus.DefaultRegisterer, version, buildSHA, buildDate)
	bridge.RegisterMetrics(prometheus.DefaultRegisterer)

	catalog := tools.NewCatalog(tools.Config{NominatimURL: cfg.NominatimURL})

	var agent *chat.Agent
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		agent = chat.New(key, cfg.AnthropicModel, catalog)
	} else {
		logx.Log.Warn().Msg("ANTHROPIC_API_KEY not set; chat endpoint disabled")
	}

	srv := server.New(server.Options{
		Config:  cfg,
		Tools:   catalog,
		Agent:   agent,
		Version: version,
	})

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" && cfg.MetricsAddr != httpSrv.Addr {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logx.Log.Error().Err(err).Msg("metrics server")
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		serverstate.SetState("ready")
		logx.Log.Info().Int("port", cfg.Port).Msg("listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logx.Log.Fatal().Err(err).Msg("http server")
		}
	}()

	<-ctx.Done()
	serverstate.StartDrain()
	logx.Log.Info().Dur("timeout", cfg.DrainTimeout).Msg("draining")

	drainDeadline := time.Now().Add(cfg.DrainTimeout)
	for srv.Sessions().Len() > 0 && time.Now().Before(drainDeadline) {
		time.Sleep(250 * time.Millisecond)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logx.Log.Warn().Err(err).Msg("http shutdown")
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	serverstate.SetState("stopped")
	logx.Log.Info().Msg("stopped")
}

// configPathFromArgs extracts the -config value from raw arguments before
// the flag set is parsed.
func configPathFromArgs(args []string) string {
	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == "--" {
			return ""
		}
		name, value, hasValue := "", "", false
		switch {
		case strings.HasPrefix(a, "--"):
			name = a[2:]
		case strings.HasPrefix(a, "-"):
			name = a[1:]
		default:
			continue
		}
		if eq := strings.IndexByte(name, '='); eq >= 0 {
			name, value, hasValue = name[:eq], name[eq+1:], true
		}
		if name != "config" {
			continue
		}
		if hasValue {
			return value
		}
		if i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
