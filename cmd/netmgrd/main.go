// Command netmgrd runs a standalone TLSDNS echo listener on top of
// internal/netmgr: it accepts DNS-over-TLS connections, echoes every
// framed message back to its sender, and optionally serves diagnostics
// over HTTP. It exists to exercise netmgr end-to-end outside of tests.
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hydraworks/netmgr/internal/config"
	"github.com/hydraworks/netmgr/internal/diag"
	"github.com/hydraworks/netmgr/internal/logging"
	"github.com/hydraworks/netmgr/internal/netmgr"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

// cliFlags holds parsed command-line flag values.
type cliFlags struct {
	configPath string
	listen     string
	workers    int
	certFile   string
	keyFile    string
	jsonLogs   bool
	debug      bool
}

func parseFlags() cliFlags {
	var f cliFlags
	flag.StringVar(&f.configPath, "config", "", "Path to YAML config file")
	flag.StringVar(&f.listen, "listen", "", "Override TLSDNS bind address")
	flag.IntVar(&f.workers, "workers", -1, "Fixed worker count (-1 means config/auto)")
	flag.StringVar(&f.certFile, "cert", "", "Override TLS certificate path")
	flag.StringVar(&f.keyFile, "key", "", "Override TLS key path")
	flag.BoolVar(&f.jsonLogs, "json-logs", false, "Enable JSON structured logging")
	flag.BoolVar(&f.debug, "debug", false, "Enable debug logging")
	flag.Parse()
	return f
}

func applyCLIOverrides(cfg *config.Config, f cliFlags) {
	if f.listen != "" {
		cfg.Server.Listen = f.listen
	}
	if f.workers >= 0 {
		cfg.Server.Workers.Mode = config.WorkersFixed
		cfg.Server.Workers.Value = f.workers
	}
	if f.certFile != "" {
		cfg.TLS.CertFile = f.certFile
	}
	if f.keyFile != "" {
		cfg.TLS.KeyFile = f.keyFile
	}
	if f.jsonLogs {
		cfg.Logging.Structured = true
		cfg.Logging.StructuredFormat = "json"
	}
	if f.debug {
		cfg.Logging.Level = "DEBUG"
	}
}

func run() error {
	flags := parseFlags()

	cfg, err := config.Load(config.ResolveConfigPath(flags.configPath))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyCLIOverrides(cfg, flags)

	if cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "" {
		return errors.New("tls.cert_file and tls.key_file are required")
	}

	logger := logging.Configure(logging.Config{
		Level:            cfg.Logging.Level,
		Structured:       cfg.Logging.Structured,
		StructuredFormat: cfg.Logging.StructuredFormat,
		IncludePID:       cfg.Logging.IncludePID,
		ExtraFields:      cfg.Logging.ExtraFields,
	})
	logger.Info("netmgrd starting",
		"listen", cfg.Server.Listen,
		"workers", cfg.Server.Workers.String(),
		"quota", cfg.Server.QuotaLimit,
	)

	tlsConfig, err := buildTLSConfig(cfg)
	if err != nil {
		return fmt.Errorf("failed to build TLS config: %w", err)
	}

	workerCount := runtimeWorkerCount(cfg.Server.Workers)
	mgr, err := netmgr.NewManager(netmgr.Config{
		WorkerCount:    workerCount,
		QueueCapacity:  cfg.Server.QueueCapacity,
		MaxUDPPayload:  cfg.Server.MaxUDPPayload,
		RecvBufferSize: cfg.Server.RecvBufferSize,
		SendBufferSize: cfg.Server.SendBufferSize,
		QuotaLimit:     cfg.Server.QuotaLimit,
		Logger:         logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create netmgr manager: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	listener, err := mgr.ListenTLSDNS(ctx, cfg.Server.Listen, tlsConfig, acceptCallback(cfg), echoRecvCallback(logger))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	var diagSrv *diag.Server
	if cfg.Diag.Enabled {
		diagSrv = diag.New(diag.Config{Host: cfg.Diag.Host, Port: cfg.Diag.Port, APIKey: cfg.Diag.APIKey}, mgr, logger)
		logger.Info("diagnostics server starting", "addr", diagSrv.Addr())
		go func() {
			if serveErr := diagSrv.ListenAndServe(); serveErr != nil {
				logger.Error("diagnostics server error", "err", serveErr)
			}
		}()
	}

	<-ctx.Done()
	logger.Info("netmgrd shutting down")

	_ = listener.Close()

	if diagSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = diagSrv.Shutdown(shutdownCtx)
		shutdownCancel()
	}

	destroyCtx, destroyCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer destroyCancel()
	if err := mgr.Destroy(destroyCtx); err != nil && !errors.Is(err, netmgr.ErrShutdown) {
		return fmt.Errorf("netmgr manager destroy failed: %w", err)
	}

	logger.Info("netmgrd stopped")
	return nil
}

func buildTLSConfig(cfg *config.Config) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(cfg.TLS.CertFile, cfg.TLS.KeyFile)
	if err != nil {
		return nil, err
	}
	minVersion := uint16(tls.VersionTLS12)
	if cfg.TLS.MinVersion == "1.3" {
		minVersion = tls.VersionTLS13
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   minVersion,
	}, nil
}

func runtimeWorkerCount(w config.WorkerSetting) int {
	if w.Mode == config.WorkersFixed && w.Value > 0 {
		return w.Value
	}
	return 0 // netmgr.DefaultConfig picks a sensible default
}

// acceptCallback accepts every connection unconditionally and applies the
// configured sequential/keepalive socket modes.
func acceptCallback(cfg *config.Config) netmgr.AcceptFunc {
	return func(h *netmgr.Handle, err error) error {
		if err != nil {
			return err
		}
		if cfg.Server.Sequential {
			netmgr.TLSDNSSequential(h)
		}
		return netmgr.TLSDNSKeepalive(h, cfg.Server.Keepalive)
	}
}

// echoRecvCallback sends every received message straight back to its
// sender, then releases the per-message handle so sequential-mode sockets
// resume reading.
func echoRecvCallback(logger *slog.Logger) netmgr.RecvFunc {
	return func(h *netmgr.Handle, payload []byte, err error) {
		defer h.Release()
		if err != nil {
			logger.Debug("connection ended", "trace_id", h.TraceID, "err", err)
			return
		}
		echoed := append([]byte(nil), payload...)
		h.Send(echoed, func(sendErr error) {
			if sendErr != nil {
				logger.Warn("echo send failed", "trace_id", h.TraceID, "err", sendErr)
			}
		})
	}
}
