package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/signetfin/signet/internal/api"
	"github.com/signetfin/signet/internal/config"
	"github.com/signetfin/signet/internal/directory"
	"github.com/signetfin/signet/internal/ledger"
	"github.com/signetfin/signet/internal/store"
	"github.com/signetfin/signet/internal/wire"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	objects, err := store.NewPostgres(context.Background(), cfg.DBSource)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer objects.Close()

	svc, err := api.NewService(directory.AccountingService, cfg.CanonicalURL, logger)
	if err != nil {
		log.Fatalf("Unable to generate service identity: %v", err)
	}

	// authorisations are verified against the identity service that
	// owns the sessions
	channel := wire.NewSecureChannel()
	verifier := &api.RemoteVerifier{
		Directory:   directory.New(channel),
		Channel:     channel,
		IdentityURL: cfg.IdentityURL,
	}

	accounting := api.NewAccounting(svc,
		ledger.New(store.NewPostgresLedger(objects.Pool())), verifier)

	r := accounting.Router()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	logger.Info("accounting service starting", "port", cfg.Port,
		"service_uid", svc.Info.UID, "identity", cfg.IdentityURL, "env", cfg.Env)
	if err := http.ListenAndServe(":"+cfg.Port, r); err != nil {
		log.Fatal(err)
	}
}
