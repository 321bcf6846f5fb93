package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/udokmeci/imapd/config"
	"github.com/udokmeci/imapd/identity"
	"github.com/udokmeci/imapd/mailstore"
	"github.com/udokmeci/imapd/server"
	"github.com/udokmeci/imapd/storage"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	_ "github.com/udokmeci/imapd/storage/dirstore"
	_ "github.com/udokmeci/imapd/storage/maildir"
	_ "github.com/udokmeci/imapd/storage/sqlstore"
)

func main() {
	app := &cli.App{
		Name:  "imapd",
		Usage: "servidor de caixas de correio",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "arquivo de configuração YAML",
				EnvVars: []string{"IMAPD_CONFIG"},
				Value:   "config.yaml",
			},
		},
		Action: runServer,
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Inicia o servidor",
				Action: runServer,
			},
			{
				Name:      "ids",
				Usage:     "Mostra o mapa de identidade de um armazenamento",
				ArgsUsage: "ARQUIVO",
				Action:    dumpIdentity,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "Erro:", err)
		os.Exit(1)
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && !c.IsSet("config") {
		return config.Default(), nil
	}
	return config.LoadConfig(path)
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.Format == "json" {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		level, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("nível de log inválido: %w", err)
		}
		zcfg.Level = zap.NewAtomicLevelAt(level)
	}
	return zcfg.Build()
}

func openStorages(cfg *config.Config, reg *mailstore.Registry, log *zap.Logger) error {
	for _, sc := range cfg.Storages {
		kind, err := mailstore.ParseKind(sc.Kind)
		if err != nil {
			return err
		}
		_, err = reg.Open(mailstore.StorageConfig{
			Name:         sc.Name,
			Type:         sc.Type,
			Path:         sc.Path,
			DSN:          sc.DSN,
			Kind:         kind,
			IdentityPath: sc.IdentityPath,
		})
		if errors.Is(err, storage.ErrUnsupportedType) {
			log.Warn("tipo de armazenamento ignorado",
				zap.String("type", sc.Type), zap.Strings("supported", storage.RegisteredTypes()))
			continue
		}
		if err != nil {
			return fmt.Errorf("falha ao abrir armazenamento %q: %w", sc.Path, err)
		}
	}
	return nil
}

func runServer(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	log, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer log.Sync()

	reg := mailstore.NewRegistry(nil, log.Named("mailstore"))
	if err := openStorages(cfg, reg, log); err != nil {
		reg.Shutdown()
		return err
	}

	reactor := server.New(reg, server.Options{
		PollTimeout:  cfg.IMAP.PollTimeout,
		LoopInterval: cfg.IMAP.LoopInterval,
		WriteTimeout: cfg.IMAP.WriteTimeout,
		Logger:       log.Named("imap"),
	})
	if err := reactor.Init(cfg.IMAP.Address, cfg.IMAP.Port); err != nil {
		reg.Shutdown()
		return err
	}

	// Aguardar sinais de interrupção
	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var exit atomic.Bool
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gctx.Done()
		log.Info("encerrando")
		exit.Store(true)
		return nil
	})

	g.Go(func() error {
		reactor.MainLoop(&exit)
		// o laço também termina por erro de outro serviço
		stop()
		return nil
	})

	if cfg.SMTP.Enabled {
		srv := server.NewSMTPServer(cfg.SMTP, reactor)
		g.Go(func() error {
			log.Info("servidor SMTP escutando", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, smtp.ErrServerClosed) {
				return fmt.Errorf("servidor SMTP: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			return srv.Close()
		})
	}

	if cfg.Metrics.Address != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		hs := &http.Server{Addr: cfg.Metrics.Address, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			log.Info("métricas escutando", zap.String("addr", hs.Addr))
			if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("servidor de métricas: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return hs.Shutdown(sctx)
		})
	}

	return g.Wait()
}

func dumpIdentity(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return cli.Exit("Erro: ARQUIVO é obrigatório", 2)
	}
	if _, err := os.Stat(path); err != nil {
		return err
	}
	ids, err := identity.Open(path)
	if err != nil {
		return err
	}

	fmt.Printf("criado em: %s\n", ids.CreatedAt().Format(time.RFC3339))
	fmt.Printf("próximo id: %d\n", ids.PeekNextID())
	fmt.Printf("mensagens: %d\n", ids.Len())
	for _, id := range ids.IDs() {
		uid, _ := ids.UIDForID(id)
		fmt.Printf("%d\t%s\n", id, uid)
	}
	return nil
}
