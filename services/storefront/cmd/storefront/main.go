package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"ebookstore/internal/ratelimit"
	"ebookstore/internal/util"
	"ebookstore/pkg/mail"
	"ebookstore/pkg/queue"
	"ebookstore/pkg/storage"
	"ebookstore/pkg/store"
	"ebookstore/services/storefront/internal/app"
	"ebookstore/services/storefront/internal/config"
	"ebookstore/services/storefront/internal/server"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)
	sessionTTL, err := config.ParseSessionTTL(cfg.SessionTTL)
	if err != nil {
		log.Fatalf("failed to parse session ttl: %v", err)
	}
	jwtLeeway, err := config.ParseJWTLeeway(cfg.JWTLeeway)
	if err != nil {
		log.Fatalf("failed to parse jwt leeway: %v", err)
	}
	presignExpiry, err := config.ParsePresignExpiry(cfg.PresignExpiry)
	if err != nil {
		log.Fatalf("failed to parse presign expiry: %v", err)
	}
	rateWindow, err := config.ParseAuthRateWindow(cfg.AuthRateWindow)
	if err != nil {
		log.Fatalf("failed to parse auth rate window: %v", err)
	}
	resetTTL, err := config.ParseResetTokenTTL(cfg.ResetTokenTTL)
	if err != nil {
		log.Fatalf("failed to parse reset token ttl: %v", err)
	}
	trustedProxies, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	revoker := store.NewRedisTokenRevoker(cfg.RedisAddr, cfg.RedisPassword, sessionTTL)
	sessions, err := store.NewJWTSessionStore(cfg.JWTSecret, sessionTTL, revoker, store.JWTOptions{
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		Leeway:   jwtLeeway,
	})
	if err != nil {
		log.Fatalf("failed to init session store: %v", err)
	}

	mailQueue, err := queue.NewRedisMailQueue(queue.RedisQueueConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		Stream:   cfg.MailStream,
	})
	if err != nil {
		log.Fatalf("failed to init mail queue: %v", err)
	}
	defer mailQueue.Close()

	var mailer mail.Mailer = mail.LogMailer{}
	if cfg.SMTP.Host != "" {
		smtpMailer, err := mail.NewSMTPMailer(mail.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		})
		if err != nil {
			log.Fatalf("failed to init smtp mailer: %v", err)
		}
		mailer = smtpMailer
	}

	appCore, err := app.New(ctx, app.Config{
		DatabaseURL: cfg.DatabaseURL,
		Minio: storage.MinioConfig{
			Endpoint:       cfg.MinioEndpoint,
			PublicEndpoint: cfg.MinioPublicEndpoint,
			AccessKey:      cfg.MinioAccessKey,
			SecretKey:      cfg.MinioSecretKey,
			Bucket:         cfg.MinioBucket,
			UseSSL:         cfg.MinioUseSSL,
		},
		Sessions:      sessions,
		Mail:          mailQueue,
		FrontendURL:   cfg.FrontendURL,
		PresignExpiry: presignExpiry,
		ResetTokenTTL: resetTTL,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	limiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, "ebookstore:ratelimit:auth", cfg.AuthRateLimit, rateWindow)
	if err != nil {
		log.Fatalf("failed to init rate limiter: %v", err)
	}
	defer limiter.Close()

	httpServer, err := server.New(server.Config{
		App:            appCore,
		Limiter:        limiter,
		TrustedProxies: trustedProxies,
		CORSOrigin:     cfg.CORSOrigin,
		CookieSecure:   cfg.CookieSecure,
		SessionTTL:     sessionTTL,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("storefront listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		slog.Info("mail worker started", "stream", cfg.MailStream, "workers", cfg.MailWorkers)
		return mailQueue.Run(gctx, cfg.MailWorkers, mail.Handler(mailer))
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("storefront stopped", "err", err)
		os.Exit(1)
	}
	slog.Info("storefront stopped")
}
