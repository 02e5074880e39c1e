package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"git.wyat.me/zuul-gateway/config"
	"git.wyat.me/zuul-gateway/jobs"
	"git.wyat.me/zuul-gateway/logging"
	"git.wyat.me/zuul-gateway/server"
	"git.wyat.me/zuul-gateway/store"
	"git.wyat.me/zuul-gateway/store/badger"
	"git.wyat.me/zuul-gateway/store/memory"
	ministore "git.wyat.me/zuul-gateway/store/minio"
	"git.wyat.me/zuul-gateway/store/sqlite"
	"git.wyat.me/zuul-gateway/vgit"
	"git.wyat.me/zuul-gateway/zuul"
)

func newServeCmd() *cobra.Command {
	var usage bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the virtual repository and the jobs API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if usage {
				return config.Usage()
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			log := logrus.StandardLogger()
			log.Out = os.Stdout
			return serve(ctx, cfg, log)
		},
	}
	cmd.Flags().BoolVar(&usage, "env", false, "List the environment variables serve reads and exit")
	return cmd
}

// app is a fully wired gateway.
type app struct {
	repo    *vgit.Store
	handler http.Handler
}

func newApp(ctx context.Context, cfg config.Config, log *logrus.Logger) (*app, error) {
	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}

	repo, err := vgit.New(ctx, vgit.WithBackend(backend), vgit.WithLogger(log))
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("create repository: %w", err)
	}

	client := zuul.New(zuul.Config{
		URL:        cfg.ZuulURL,
		Tenant:     cfg.ZuulTenant,
		Connection: cfg.ZuulConnection,
		Project:    cfg.Project,
		Token:      cfg.Token,
	}, zuul.WithLogger(log))

	srv := server.New(repo, jobs.NewTable(), client,
		server.WithLogger(log),
		server.WithHookToken(cfg.Token),
	)
	return &app{repo: repo, handler: srv.Handler()}, nil
}

func (a *app) Close() error {
	return a.repo.Close()
}

func openBackend(ctx context.Context, cfg config.Config) (store.Backend, error) {
	switch cfg.Backend {
	case "memory":
		return memory.New(), nil
	case "badger":
		return badger.New(filepath.Join(cfg.DataDir, "badger"))
	case "sqlite":
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		return sqlite.New(filepath.Join(cfg.DataDir, "objects.db"))
	case "minio":
		return ministore.New(ctx, ministore.Options{
			Endpoint:  cfg.Minio.Endpoint,
			AccessKey: cfg.Minio.AccessKey,
			SecretKey: cfg.Minio.SecretKey,
			Bucket:    cfg.Minio.Bucket,
			Prefix:    cfg.Minio.Prefix,
			UseSSL:    cfg.Minio.UseSSL,
		})
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

func serve(ctx context.Context, cfg config.Config, log *logrus.Logger) error {
	if err := logging.Configure(log, cfg.LogFormat, cfg.LogLevel); err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{
			"addr":    cfg.ListenAddr,
			"backend": cfg.Backend,
			"zuul":    cfg.ZuulURL,
		}).Info("listening")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
