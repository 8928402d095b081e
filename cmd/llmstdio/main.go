package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"llmstdio/internal/common/fsutil"
	"llmstdio/internal/config"
	"llmstdio/internal/engine"
	"llmstdio/internal/httpapi"
	"llmstdio/internal/protocol"
	"llmstdio/internal/service"
)

func main() {
	// .env is a convenience for local runs; missing files are fine.
	_ = godotenv.Load()
	if err := newRootCmd().Execute(); err != nil {
		// All operator-facing failures surface as one structured envelope
		// on the diagnostic channel; stdout stays clean for the stream.
		fmt.Fprintln(os.Stderr, protocol.Envelope("error", "error", err.Error(), "", ""))
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		cfgPath    string
		httpAddr   string
		logFile    string
		logLevel   string
		maxTokens  int
		endDelayMS int
	)

	root := &cobra.Command{
		Use:   "llmstdio <engine-config.json>",
		Short: "Three-channel stdio LLM service: stdin requests, stdout token stream, stderr structured events",
		Args:  cobra.ExactArgs(1),

		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if cfgPath != "" {
				loaded, err := config.Load(cfgPath)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				cfg = loaded
			}
			if cmd.Flags().Changed("http") {
				cfg.HTTPAddr = httpAddr
			}
			if cmd.Flags().Changed("log-file") {
				cfg.LogFile = logFile
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			if cmd.Flags().Changed("max-tokens") {
				cfg.DefaultMaxTokens = maxTokens
			}
			if cmd.Flags().Changed("stream-end-delay") {
				cfg.StreamEndDelayMS = endDelayMS
			}
			return run(args[0], cfg)
		},
	}

	root.Flags().StringVar(&cfgPath, "config", envOr("LLMSTDIO_CONFIG", ""), "Service config file (.yaml/.json/.toml)")
	root.Flags().StringVar(&httpAddr, "http", envOr("LLMSTDIO_HTTP", ""), "Debug/metrics HTTP listen address, e.g. :8080 (off if empty)")
	root.Flags().StringVar(&logFile, "log-file", envOr("LLMSTDIO_LOG_FILE", ""), "Operational log file (logging disabled if empty)")
	root.Flags().StringVar(&logLevel, "log-level", envOr("LLMSTDIO_LOG_LEVEL", "info"), "Log level: debug|info|warn|error")
	root.Flags().IntVar(&maxTokens, "max-tokens", 0, "Default generation budget when requests carry no override (0 = engine default)")
	root.Flags().IntVar(&endDelayMS, "stream-end-delay", 500, "Delay in ms before the end-of-stream marker")

	return root
}

func run(engineConfigArg string, cfg config.Config) error {
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}

	enginePath, err := fsutil.ExpandHome(engineConfigArg)
	if err != nil {
		return err
	}
	if !fsutil.PathExists(enginePath) {
		return fmt.Errorf("engine config not found: %s", enginePath)
	}

	eng, err := engine.New(engine.Config{ConfigPath: enginePath, TmpPath: cfg.TmpPath})
	if err != nil {
		return fmt.Errorf("create engine: %w", err)
	}
	if err := eng.SetOption(fmt.Sprintf(`{"tmp_path":%q}`, cfg.TmpPath)); err != nil {
		logger.Warn().Err(err).Msg("set tmp_path option")
	}
	if err := eng.Load(); err != nil {
		return fmt.Errorf("load model: %w", err)
	}
	eng.Tune(engine.TuneEncoderOps, cfg.TuneCandidates)
	if err := eng.SetOption(`{"async":false}`); err != nil {
		logger.Warn().Err(err).Msg("set async option")
	}
	logger.Info().
		Str("engine_config", enginePath).
		Bool("llama_runtime", engine.Built()).
		Msg("engine loaded")

	core := service.New(eng, service.Options{
		Primary:          os.Stdout,
		Diagnostic:       os.Stderr,
		Logger:           logger,
		EndStreamDelay:   time.Duration(cfg.StreamEndDelayMS) * time.Millisecond,
		DefaultMaxTokens: cfg.DefaultMaxTokens,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.HTTPAddr != "" {
		go func() {
			if err := httpapi.Serve(ctx, cfg.HTTPAddr, core, logger); err != nil {
				logger.Error().Err(err).Msg("debug listener")
			}
		}()
	}

	core.AnnounceReady()
	return core.Run(ctx, os.Stdin)
}

func newLogger(cfg config.Config) (zerolog.Logger, error) {
	if cfg.LogFile == "" {
		return zerolog.Nop(), nil
	}
	if err := fsutil.EnsureParentDir(cfg.LogFile); err != nil {
		return zerolog.Nop(), err
	}
	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return zerolog.Nop(), err
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	return zerolog.New(f).Level(level).With().Timestamp().Logger(), nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
