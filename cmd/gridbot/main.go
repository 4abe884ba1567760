// Command gridbot runs the single-pair grid trading engine against
// Kraken, or issues a one-off bulk cancel of every open order the
// configured API key owns on the configured pair.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"market_maker/internal/config"
	"market_maker/internal/engine"
	"market_maker/internal/exchange/kraken"
	infrahttp "market_maker/internal/infrastructure/http"
	"market_maker/internal/logging"
	"market_maker/internal/notify"
	"market_maker/internal/store"
	"market_maker/internal/telemetry"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: gridbot <run|cancel> [flags]")
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "run":
		err = runCommand(os.Args[2:])
	case "cancel":
		err = cancelCommand(os.Args[2:])
	case "-version", "--version", "version":
		fmt.Printf("gridbot version %s (built %s)\n", version, buildTime)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "gridbot: %v\n", err)
		os.Exit(1)
	}
}

func runCommand(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "configs/gridbot.yaml", "path to the bot's configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.Name)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	logger.Info("loaded configuration", "config", cfg.String())

	tel, err := telemetry.Setup(cfg.Name)
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}

	rest := kraken.NewREST(string(cfg.APIPublicKey), string(cfg.APISecretKey), cfg.BaseCurrency, cfg.QuoteCurrency, 10*time.Second)
	stream := kraken.NewStream(logger)

	notifier := notify.New([]notify.Sink{notify.NewLogSink(logger)}, logger)

	metricsSrv := infrahttp.NewMetricsServer(cfg.MetricsPort, logger)
	metricsSrv.Start()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Stop(shutdownCtx)
	}()

	eng := engine.New(cfg, rest, stream, st, notifier, logger, tel.Metrics)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return eng.Run(ctx)
}

func cancelCommand(args []string) error {
	fs := flag.NewFlagSet("cancel", flag.ExitOnError)
	configPath := fs.String("config", "configs/gridbot.yaml", "path to the bot's configuration file")
	force := fs.Bool("force", false, "cancel every open order on the pair, regardless of which userref placed it")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !*force {
		return fmt.Errorf("refusing to cancel without -force")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.Name)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	rest := kraken.NewREST(string(cfg.APIPublicKey), string(cfg.APISecretKey), cfg.BaseCurrency, cfg.QuoteCurrency, 10*time.Second)

	ctx := context.Background()
	orders, err := rest.GetOpenOrders(ctx, 0)
	if err != nil {
		return fmt.Errorf("failed to list open orders: %w", err)
	}

	cancelled := 0
	for _, o := range orders {
		if o.Symbol != cfg.Symbol() {
			continue
		}
		if err := rest.CancelOrder(ctx, o.TXID); err != nil {
			logger.Error("failed to cancel order", "txid", o.TXID, "error", err)
			continue
		}
		cancelled++
	}

	logger.Info("bulk cancel complete", "cancelled", cancelled, "symbol", cfg.Symbol())
	return nil
}
