package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dropDatabas3/idbroker/internal/cache"
	"github.com/dropDatabas3/idbroker/internal/config"
	"github.com/dropDatabas3/idbroker/internal/email"
	httpx "github.com/dropDatabas3/idbroker/internal/http"
	"github.com/dropDatabas3/idbroker/internal/metrics"
	"github.com/dropDatabas3/idbroker/internal/oauth"
	"github.com/dropDatabas3/idbroker/internal/oauth/apple"
	"github.com/dropDatabas3/idbroker/internal/observability/logger"
	"github.com/dropDatabas3/idbroker/internal/session"
	"github.com/dropDatabas3/idbroker/internal/signin"
	"github.com/dropDatabas3/idbroker/internal/store"
	"github.com/dropDatabas3/idbroker/internal/store/adapter"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the broker HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(*configPath)
		},
	}
}

func runServe(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger.Init(logger.Config{
		Env:         cfg.App.Env,
		Level:       cfg.Log.Level,
		ServiceName: "idbroker",
	})
	defer func() { _ = logger.Sync() }()
	log := logger.Named("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	docs, err := store.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = docs.Close() }()
	ad := adapter.New(docs)

	secret := cfg.Session.Secret
	if secret == "" {
		// Dev convenience. Sessions do not survive a restart.
		secret = randomSecret()
		log.Warn("session.secret not set, using an ephemeral one")
	}
	signer, err := session.NewSigner(secret, cfg.SessionTTL())
	if err != nil {
		return err
	}

	var strategies []oauth.Strategy
	appleCfg := apple.Config{
		ClientID:   cfg.Apple.ClientID,
		TeamID:     cfg.Apple.TeamID,
		PrivateKey: cfg.Apple.PrivateKey,
		KeyID:      cfg.Apple.KeyID,
	}
	if err := appleCfg.Validate(); err != nil {
		log.Warn("apple provider disabled", logger.Err(err))
	} else {
		client, err := apple.NewClient(appleCfg, apple.WithCache(cache.NewMemory(time.Hour)))
		if err != nil {
			return err
		}
		strategies = append(strategies, apple.NewStrategy(client))
		log.Info("apple provider enabled", logger.String("client_id", cfg.Apple.ClientID))
	}

	svc := signin.NewService(signin.Deps{
		Strategies: oauth.NewRegistry(strategies...),
		Store:      ad,
		Signer:     signer,
	})

	var mailer *email.VerificationMailer
	if cfg.SMTP.Host != "" {
		sender := email.NewSMTPSender(cfg.SMTP.Host, cfg.SMTP.Port, cfg.SMTP.From, cfg.SMTP.Username, cfg.SMTP.Password)
		mailer = email.NewVerificationMailer(sender, cfg.App.BaseURL, "idbroker")
	} else {
		log.Warn("smtp not configured, verification mail disabled")
	}

	if err := metrics.Register(nil); err != nil {
		return err
	}

	handler := httpx.NewRouter(httpx.RouterDeps{
		Auth: &httpx.AuthHandler{
			SignIn: svc,
			Cookies: httpx.CookieConfig{
				Name:     cfg.Session.CookieName,
				Domain:   cfg.Session.Domain,
				SameSite: cfg.Session.SameSite,
				Secure:   cfg.Session.Secure,
				TTL:      cfg.SessionTTL(),
			},
		},
		Verify: &httpx.VerifyHandler{Store: ad, Mailer: mailer, TTL: cfg.Verify.TTL},
		Admin:  &httpx.AdminHandler{Store: ad, APIKey: cfg.Admin.APIKey},
		Health: docs,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("listening",
		logger.String("addr", cfg.Server.Addr),
		logger.String("driver", cfg.Storage.Driver),
	)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	log.Info("shutdown complete")
	return nil
}

func randomSecret() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
