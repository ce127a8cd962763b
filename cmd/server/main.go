// Command `qsa-engrave` runs the carrier engraving backend.
//
// It exposes the JSON APIs and WebSocket event stream used by the production
// UI to build batches, drive the row lifecycle, generate carrier SVGs, and
// ship them to the engraving workstation over UDP.
//
// Flags:
//
//	-addr:   TCP address to listen on (default 127.0.0.1:8080)
//	-db:     path to the SQLite database file
//	-config: path to the JSON settings file
//
// Env:
//
//	QSA_ADMIN_PASSWORD seeds the admin account on first start.
package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/quadi/qsa-engrave/config"
	"github.com/quadi/qsa-engrave/internal/server"
	"github.com/quadi/qsa-engrave/laser"
	"github.com/quadi/qsa-engrave/store"
)

func main() {
	var (
		addr    = flag.String("addr", "127.0.0.1:8080", "http listen address")
		dbPath  = flag.String("db", "qsa-engrave.db", "path to the SQLite database")
		cfgPath = flag.String("config", "qsa-engrave.json", "path to the settings file")
	)
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.WithError(err).Fatal("loading configuration")
	}

	db, err := store.Open(*dbPath)
	if err != nil {
		log.WithError(err).Fatal("opening database")
	}
	defer db.Close()

	coupler, err := laser.NewCoupler(laser.Settings{
		Host:           cfg.DeviceHost,
		SendPort:       cfg.SendPort,
		RecvPort:       cfg.RecvPort,
		TimeoutSeconds: cfg.UDPTimeoutSeconds,
		Enabled:        cfg.DeviceEnabled,
	}, log)
	if err != nil {
		log.WithError(err).Fatal("configuring device coupler")
	}
	files, err := laser.NewFileManager(cfg.OutputDir, cfg.PathPrefix, cfg.KeepSVGFiles, log)
	if err != nil {
		log.WithError(err).Fatal("preparing SVG output directory")
	}

	// Seed the admin account on a fresh database.
	adminPassword := os.Getenv("QSA_ADMIN_PASSWORD")
	if adminPassword == "" {
		adminPassword = "change-me"
		log.Warn("QSA_ADMIN_PASSWORD not set; using default admin password")
	}
	users := store.NewUserStore(db, log)
	if err := users.EnsureAdmin(context.Background(), adminPassword); err != nil {
		log.WithError(err).Fatal("seeding admin account")
	}

	s := server.New(db, cfg, *cfgPath, coupler, files, log)

	ln, err := net.Listen("tcp", *addr)
	if err != nil {
		log.WithError(err).Fatalf("listening on %s", *addr)
	}
	httpSrv := &http.Server{Handler: s.Handler()}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("addr", *addr).Info("serving")
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.WithError(err).Fatal("server stopped")
	}
	log.Info("shut down cleanly")
}
