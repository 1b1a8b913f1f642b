package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goVerify "github.com/MrEthical07/goVerify"
	"github.com/MrEthical07/goVerify/httpapi"
	"github.com/MrEthical07/goVerify/intrusion"
	"github.com/MrEthical07/goVerify/metrics/export/prometheus"
	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var serveDev bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the user and admin authentication APIs",
	Long: `Serve mounts /auth and /admin/auth, /metrics in Prometheus text
format, and /healthz.

With --dev the daemon runs against an in-process Redis, generates a JWT
secret when none is configured and allows plain-HTTP cookies.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveDev, "dev", false, "use in-process redis and development defaults")
	serveCmd.Flags().String("listen", "", "listen address (overrides http.listen)")
	_ = viper.BindPFlag("http.listen", serveCmd.Flags().Lookup("listen"))
}

func runServe(cmd *cobra.Command, _ []string) error {
	s := loadSettings(viper.GetViper())
	if err := s.validate(); err != nil {
		return err
	}
	if serveDev {
		s.SecureCookies = false
		if s.JWTSecret == "" {
			s.JWTSecret = randomSecret()
			warnf("no jwt.secret configured; sessions will not survive a restart")
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb, closeRedis, err := openRedis(ctx, s, serveDev)
	if err != nil {
		return err
	}
	defer closeRedis()

	st, err := openStores(s, rdb)
	if err != nil {
		return err
	}
	defer st.close()

	var guard *intrusion.Guard
	builder := goVerify.New().
		WithConfig(s.engineConfig()).
		WithRedis(rdb).
		WithUserStore(st.users).
		WithAdminStore(st.admins)
	if s.IntrusionEnabled {
		var alerter intrusion.Alerter
		if s.WebhookURL != "" {
			webhook, err := intrusion.NewWebhookAlerter(s.WebhookURL, nil, nil)
			if err != nil {
				return err
			}
			// Runs after engine.Close has drained the audit queue.
			defer webhook.Wait()
			alerter = webhook
		}
		guard = intrusion.New(rdb, s.intrusionConfig(), alerter)
		builder = builder.WithAuditSink(guard)
	}

	engine, err := builder.Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	for _, w := range engine.SecurityReport().Warnings {
		warnf("%s", w)
	}

	router := mux.NewRouter()
	router.Handle("/metrics", prometheus.NewPrometheusExporter(engine).Handler()).Methods(http.MethodGet)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := rdb.Ping(r.Context()).Err(); err != nil {
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodGet)
	httpapi.New(engine, guard, httpapi.Config{
		SecureCookies:     s.SecureCookies,
		TrustProxyHeaders: s.TrustProxyHeaders,
	}).Mount(router)

	srv := &http.Server{
		Addr:              s.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("goverifyd: listening on %s", s.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		log.Printf("goverifyd: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
	}
	return nil
}

func randomSecret() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}
