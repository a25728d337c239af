package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/vi13x/classbank/internal/cli"
	"github.com/vi13x/classbank/internal/config"
	"github.com/vi13x/classbank/internal/engine"
	"github.com/vi13x/classbank/internal/httpapi"
	"github.com/vi13x/classbank/internal/notify"
	"github.com/vi13x/classbank/internal/seed"
	"github.com/vi13x/classbank/internal/storage"
)

func main() {
	var (
		envFile  = flag.String("env", ".env", "optional .env file")
		headless = flag.Bool("headless", false, "serve HTTP only, without the console")
	)
	flag.Parse()

	if err := run(*envFile, *headless); err != nil {
		fmt.Fprintln(os.Stderr, "classbank:", err)
		os.Exit(1)
	}
}

func run(envFile string, headless bool) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}
	log, err := cfg.Log.NewLogger(os.Stderr)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	kv, fileDB, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer kv.Close()
	log.WithField("store", cfg.Store.Driver).Info("store opened")

	notifier, err := newNotifier(cfg.Telegram, log)
	if err != nil {
		return err
	}
	eng := engine.New(kv,
		engine.WithLogger(log),
		engine.WithNotifier(notifier),
		engine.WithPasswordCost(cfg.BcryptCost),
	)

	if err := applySeed(ctx, eng, cfg, log); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.New(eng, log),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	if cfg.HTTPAddr != "" {
		go func() {
			log.WithField("addr", cfg.HTTPAddr).Info("http listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	if headless {
		select {
		case <-ctx.Done():
		case err := <-errCh:
			return fmt.Errorf("http: %w", err)
		}
	} else {
		var opts []cli.Option
		opts = append(opts, cli.WithLogger(log), cli.WithReportsDir("reports"))
		if fileDB != nil {
			opts = append(opts, cli.WithBackups(fileDB, cfg.Store.BackupsDir))
		}
		cli.NewUI(eng, os.Stdin, os.Stdout, opts...).Run(ctx)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	log.Info("bye")
	return nil
}

// openStore returns the configured adapter, and the FileDB again when the
// file driver is used so backups can be offered.
func openStore(ctx context.Context, c config.StoreConfig) (storage.KV, *storage.FileDB, error) {
	switch c.Driver {
	case config.DriverFile:
		db, err := storage.OpenFileDB(filepath.Clean(c.FilePath))
		if err != nil {
			return nil, nil, fmt.Errorf("open %s: %w", c.FilePath, err)
		}
		return db, db, nil
	case config.DriverMemory:
		return storage.NewMemory(), nil, nil
	case config.DriverRedis:
		kv, err := storage.DialRedis(ctx, &redis.Options{
			Addr:     c.RedisAddr,
			Password: c.RedisPassword,
			DB:       c.RedisDB,
		}, c.Prefix)
		return kv, nil, err
	case config.DriverPostgres:
		kv, err := storage.OpenPostgres(ctx, c.PostgresDSN, c.Prefix)
		return kv, nil, err
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", c.Driver)
}

func newNotifier(c config.TelegramConfig, log logrus.FieldLogger) (notify.Notifier, error) {
	sinks := notify.Multi{notify.NewLogNotifier(log)}
	if c.Enabled() {
		tg, err := notify.NewTelegram(c.Token, c.ChatID,
			notify.ApplicationCreated,
			notify.ApplicationUpdated,
			notify.TransactionCreated,
		)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, tg)
		log.WithField("chat", c.ChatID).Info("telegram notifications enabled")
	}
	return sinks, nil
}

func applySeed(ctx context.Context, eng *engine.Engine, cfg *config.Config, log logrus.FieldLogger) error {
	var f *seed.File
	switch {
	case cfg.SeedFile != "":
		var err error
		if f, err = seed.Load(cfg.SeedFile); err != nil {
			return err
		}
	case cfg.Demo:
		f = seed.Demo()
	default:
		log.Warn("no seed file and demo disabled; the store must already hold a bank account")
		return nil
	}
	_, err := seed.Apply(ctx, eng, f, log)
	return err
}
