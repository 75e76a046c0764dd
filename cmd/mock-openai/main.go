package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/yungtweek/mock-openai/internal/config"
	"github.com/yungtweek/mock-openai/internal/grpc"
	"github.com/yungtweek/mock-openai/internal/httpapi"
	"github.com/yungtweek/mock-openai/internal/logger"
	"github.com/yungtweek/mock-openai/internal/metrics"
	"github.com/yungtweek/mock-openai/internal/mock"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = godotenv.Load()

	// Handle SIGINT/SIGTERM for a clean shutdown in local dev / docker.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "mock-openai: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mock-openai",
		Short: "mock-openai serves OpenAI-compatible completions from a pre-generated text pool",
		Long: "mock-openai serves OpenAI-compatible completions from a pre-generated text pool.\n" +
			"Flags override the config file; MOCK_OPENAI_* environment variables override flags.",
		Example:      "  mock-openai --port 3000 --response-delay-ms 10 --pregen-count 4096",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cmd.Flags())
		},
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

func run(ctx context.Context, fs *pflag.FlagSet) error {
	cfg, err := config.LoadConfig(fs)
	logger.Init(cfg.Profile, cfg.Verbose)
	defer logger.Sync()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	config.ApplyPresetOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	start := time.Now()
	pool, err := mock.BuildPool(ctx, cfg.PoolConfig())
	if err != nil {
		return fmt.Errorf("build pool: %w", err)
	}
	logger.Log.Infow("[pool] built",
		"articles", pool.Len(),
		"minChars", pool.MinChars(),
		"tokenBound", pool.TokenBound(),
		"policy", pool.Policy(),
		"elapsedMs", time.Since(start).Milliseconds(),
	)

	collector := metrics.NewCollector("mockopenai")
	collector.RecordPool(pool)

	gen, err := mock.NewGenerator(pool, cfg.Settings(), mock.WithObserver(collector))
	if err != nil {
		return fmt.Errorf("generator: %w", err)
	}

	logger.Log.Infow(
		"[mock-openai] starting",
		"port", cfg.Port,
		"grpcPort", cfg.GRPCPort,
		"preset", cfg.Preset,
		"tokenMean", cfg.TokenMean,
		"tokenStddev", cfg.TokenStddev,
		"tokenHardCap", cfg.TokenHardCap,
		"eventTokensMin", cfg.EventTokensMin,
		"eventTokensMax", cfg.EventTokensMax,
		"responseDelayMs", cfg.ResponseDelayMs,
		"delayFirstEvent", cfg.DelayFirstEvent,
		"errorRate", cfg.ErrorRate,
		"errorMode", cfg.ErrorMode,
		"tls", cfg.TLSEnabled(),
	)

	httpSrv := httpapi.NewServer(
		fmt.Sprintf(":%d", cfg.Port),
		httpapi.NewHandler(gen, cfg, collector).Router(),
		cfg.TLSCertFile,
		cfg.TLSKeyFile,
	)

	var grpcSrv *grpc.Server
	if cfg.GRPCPort > 0 {
		grpcSrv = grpc.NewGRPCServer(fmt.Sprintf(":%d", cfg.GRPCPort), grpc.NewCompletionsService(gen, cfg, collector))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return httpSrv.Run(gctx) })
	if grpcSrv != nil {
		g.Go(grpcSrv.Run)
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Log.Info("[mock-openai] shutting down...")

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if grpcSrv != nil {
			grpcSrv.Shutdown(sctx)
		}
		return httpSrv.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil {
		logger.Log.Errorw("[mock-openai] server error", "err", err)
		return err
	}
	return nil
}
