package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ebookstore/internal/util"
	"ebookstore/pkg/queue"
	"ebookstore/pkg/storage"
	"ebookstore/pkg/store"
)

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL string
	Minio       storage.MinioConfig

	Store    store.Store
	Objects  storage.ObjectStore
	Sessions store.SessionStore
	Mail     queue.MailQueue

	FrontendURL   string
	PresignExpiry time.Duration
	ResetTokenTTL time.Duration

	// Now overrides the clock in tests.
	Now func() time.Time
}

// App holds the storefront's business operations.
type App struct {
	store    store.Store
	objects  storage.ObjectStore
	sessions store.SessionStore
	mail     queue.MailQueue

	frontendURL   string
	presignExpiry time.Duration
	resetTokenTTL time.Duration
	now           func() time.Time
}

// New constructs the application. Store and Objects are built from
// DatabaseURL and Minio when not supplied.
func New(ctx context.Context, cfg Config) (*App, error) {
	if cfg.Sessions == nil {
		return nil, errors.New("session store required")
	}
	if cfg.Mail == nil {
		return nil, errors.New("mail queue required")
	}
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}
	objects := cfg.Objects
	if objects == nil {
		var err error
		objects, err = storage.NewMinioStore(ctx, cfg.Minio)
		if err != nil {
			return nil, fmt.Errorf("init object store: %w", err)
		}
	}
	if cfg.PresignExpiry <= 0 {
		cfg.PresignExpiry = 15 * time.Minute
	}
	if cfg.ResetTokenTTL <= 0 {
		cfg.ResetTokenTTL = 10 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &App{
		store:         dataStore,
		objects:       objects,
		sessions:      cfg.Sessions,
		mail:          cfg.Mail,
		frontendURL:   strings.TrimRight(cfg.FrontendURL, "/"),
		presignExpiry: cfg.PresignExpiry,
		resetTokenTTL: cfg.ResetTokenTTL,
		now:           func() time.Time { return cfg.Now().UTC() },
	}, nil
}

// deleteObject removes a blob best-effort; failures are logged, never returned.
func (a *App) deleteObject(ctx context.Context, key, reason string) {
	if key == "" {
		return
	}
	if err := a.objects.Delete(ctx, key); err != nil {
		util.LoggerFromContext(ctx).Warn("object delete failed", "key", key, "reason", reason, "err", err)
	}
}

func (a *App) presign(ctx context.Context, key string) string {
	if key == "" {
		return ""
	}
	url, err := a.objects.PresignGet(ctx, key, a.presignExpiry)
	if err != nil {
		util.LoggerFromContext(ctx).Warn("presign failed", "key", key, "err", err)
		return ""
	}
	return url
}
