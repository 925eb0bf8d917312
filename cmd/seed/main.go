// Seed tool for local development and demos.
//
// Creates a demo tenant and an admin user so the auth endpoints can be
// exercised immediately after running migrations. The tool is idempotent:
// rerunning it leaves existing rows untouched.
//
// Usage:
//
//	go run ./cmd/seed
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iwasthesword/dpm-v0-sub001/internal/auth"
	"github.com/iwasthesword/dpm-v0-sub001/internal/config"
	"github.com/iwasthesword/dpm-v0-sub001/internal/logger"
	"github.com/iwasthesword/dpm-v0-sub001/internal/repository"
)

const (
	demoTenantName      = "Demo Dental Clinic"
	demoTenantSubdomain = "demo"
	demoAdminEmail      = "admin@demo.dpm.local"
	demoAdminPassword   = "Admin@123"
	demoAdminName       = "Demo Admin"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	slog.SetDefault(log)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Error("failed to ping database", "error", err)
		os.Exit(1)
	}

	if err := seed(ctx, pool, log); err != nil {
		log.Error("seeding failed", "error", err)
		os.Exit(1)
	}

	log.Info("seeding complete")
}

func seed(ctx context.Context, pool *pgxpool.Pool, log *slog.Logger) error {
	tenantRepo := repository.NewTenantRepository(pool)
	userRepo := repository.NewUserRepository(pool)

	tenant, err := tenantRepo.GetBySubdomain(ctx, demoTenantSubdomain)
	switch {
	case err == nil:
		log.Info("tenant already exists", "subdomain", demoTenantSubdomain, "tenant_id", tenant.ID)
	case errors.Is(err, repository.ErrTenantNotFound):
		tenant = &repository.Tenant{
			Name:      demoTenantName,
			Subdomain: demoTenantSubdomain,
			IsActive:  true,
		}
		if err := tenantRepo.Create(ctx, tenant); err != nil {
			return fmt.Errorf("create tenant: %w", err)
		}
		log.Info("created tenant", "subdomain", demoTenantSubdomain, "tenant_id", tenant.ID)
	default:
		return fmt.Errorf("lookup tenant: %w", err)
	}

	if _, err := userRepo.GetByEmail(ctx, demoAdminEmail); err == nil {
		log.Info("admin user already exists", "email", demoAdminEmail)
		return nil
	} else if !errors.Is(err, repository.ErrUserNotFound) {
		return fmt.Errorf("lookup admin user: %w", err)
	}

	hash, err := auth.NewPasswordValidator().HashPassword(demoAdminPassword)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	admin := &repository.User{
		TenantID:     tenant.ID,
		Email:        demoAdminEmail,
		PasswordHash: hash,
		FullName:     demoAdminName,
		Role:         "admin",
		IsActive:     true,
	}
	if err := userRepo.Create(ctx, admin); err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}

	log.Info("created admin user", "email", demoAdminEmail, "user_id", admin.ID)
	return nil
}
