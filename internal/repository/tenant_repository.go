package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Tenant repository errors
var (
	ErrTenantNotFound = errors.New("tenant not found")
	ErrSubdomainTaken = errors.New("subdomain already in use")
)

// TenantRepository defines the interface for tenant data access. Tenant
// provisioning lives elsewhere in the platform; the auth service only needs
// enough to seed fixtures and resolve claims.
type TenantRepository interface {
	Create(ctx context.Context, tenant *Tenant) error
	GetByID(ctx context.Context, id uuid.UUID) (*Tenant, error)
	GetBySubdomain(ctx context.Context, subdomain string) (*Tenant, error)
}

// tenantRepository implements TenantRepository using PostgreSQL
type tenantRepository struct {
	db DB
}

// NewTenantRepository creates a new TenantRepository instance
func NewTenantRepository(db DB) TenantRepository {
	return &tenantRepository{db: db}
}

// Create inserts a new tenant
func (r *tenantRepository) Create(ctx context.Context, tenant *Tenant) error {
	query := `
		INSERT INTO tenants (name, subdomain, is_active)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		tenant.Name,
		strings.ToLower(strings.TrimSpace(tenant.Subdomain)),
		tenant.IsActive,
	).Scan(&tenant.ID, &tenant.CreatedAt, &tenant.UpdatedAt)

	if err != nil {
		if isUniqueViolation(err, "tenants_subdomain_key") {
			return ErrSubdomainTaken
		}
		return err
	}

	return nil
}

func (r *tenantRepository) scanTenant(row pgx.Row) (*Tenant, error) {
	tenant := &Tenant{}
	err := row.Scan(
		&tenant.ID,
		&tenant.Name,
		&tenant.Subdomain,
		&tenant.IsActive,
		&tenant.CreatedAt,
		&tenant.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTenantNotFound
		}
		return nil, err
	}
	return tenant, nil
}

// GetByID retrieves a tenant by its ID
func (r *tenantRepository) GetByID(ctx context.Context, id uuid.UUID) (*Tenant, error) {
	query := `
		SELECT id, name, subdomain, is_active, created_at, updated_at
		FROM tenants
		WHERE id = $1
	`
	return r.scanTenant(r.db.QueryRow(ctx, query, id))
}

// GetBySubdomain retrieves a tenant by its subdomain
func (r *tenantRepository) GetBySubdomain(ctx context.Context, subdomain string) (*Tenant, error) {
	query := `
		SELECT id, name, subdomain, is_active, created_at, updated_at
		FROM tenants
		WHERE subdomain = LOWER($1)
	`
	return r.scanTenant(r.db.QueryRow(ctx, query, strings.TrimSpace(subdomain)))
}
