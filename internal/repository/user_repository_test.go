package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newUserTestFixture(t *testing.T) (UserRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	return NewUserRepository(mock), mock
}

func sampleUser() *User {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &User{
		ID:           uuid.New(),
		TenantID:     uuid.New(),
		Email:        "dentist@clinic.test",
		PasswordHash: "$2a$12$hash",
		FullName:     "Test Dentist",
		Role:         "staff",
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// userTestColumns matches the column order of scanUser
func userTestColumns() []string {
	return []string{
		"id", "tenant_id", "email", "password_hash", "full_name", "role",
		"is_active", "failed_login_attempts", "locked_until",
		"two_factor_enabled", "two_factor_secret", "last_login_at",
		"created_at", "updated_at",
	}
}

func userRow(u *User) *pgxmock.Rows {
	return pgxmock.NewRows(userTestColumns()).AddRow(
		u.ID, u.TenantID, u.Email, u.PasswordHash, u.FullName, u.Role,
		u.IsActive, u.FailedLoginAttempts, u.LockedUntil,
		u.TwoFactorEnabled, u.TwoFactorSecret, u.LastLoginAt,
		u.CreatedAt, u.UpdatedAt,
	)
}

func TestUserRepository_Create_NormalizesEmail(t *testing.T) {
	repo, mock := newUserTestFixture(t)
	defer mock.Close()

	u := sampleUser()
	u.Email = "  Dentist@Clinic.Test "

	now := time.Now().UTC()
	mock.ExpectQuery("INSERT INTO users").
		WithArgs(u.TenantID, "dentist@clinic.test", u.PasswordHash, u.FullName, u.Role, u.IsActive).
		WillReturnRows(pgxmock.NewRows([]string{"id", "created_at", "updated_at"}).
			AddRow(uuid.New(), now, now))

	err := repo.Create(context.Background(), u)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_Create_DuplicateEmail(t *testing.T) {
	repo, mock := newUserTestFixture(t)
	defer mock.Close()

	u := sampleUser()

	mock.ExpectQuery("INSERT INTO users").
		WithArgs(u.TenantID, u.Email, u.PasswordHash, u.FullName, u.Role, u.IsActive).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "users_email_key"})

	err := repo.Create(context.Background(), u)
	assert.ErrorIs(t, err, ErrEmailAlreadyExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_GetByEmail(t *testing.T) {
	repo, mock := newUserTestFixture(t)
	defer mock.Close()

	u := sampleUser()

	mock.ExpectQuery("SELECT (.+) FROM users WHERE email = LOWER").
		WithArgs("DENTIST@clinic.test").
		WillReturnRows(userRow(u))

	got, err := repo.GetByEmail(context.Background(), "  DENTIST@clinic.test ")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)
	assert.Equal(t, u.Email, got.Email)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_GetByEmail_NotFound(t *testing.T) {
	repo, mock := newUserTestFixture(t)
	defer mock.Close()

	mock.ExpectQuery("SELECT (.+) FROM users WHERE email = LOWER").
		WithArgs("ghost@clinic.test").
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.GetByEmail(context.Background(), "ghost@clinic.test")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestUserRepository_GetByID_NotFound(t *testing.T) {
	repo, mock := newUserTestFixture(t)
	defer mock.Close()

	id := uuid.New()
	mock.ExpectQuery("SELECT (.+) FROM users WHERE id").
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.GetByID(context.Background(), id)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestUserRepository_RecordFailedLogin(t *testing.T) {
	repo, mock := newUserTestFixture(t)
	defer mock.Close()

	id := uuid.New()
	lockUntil := time.Now().Add(15 * time.Minute).UTC()

	mock.ExpectQuery("UPDATE users").
		WithArgs(id, 5, lockUntil).
		WillReturnRows(pgxmock.NewRows([]string{"failed_login_attempts"}).AddRow(3))

	attempts, err := repo.RecordFailedLogin(context.Background(), id, 5, lockUntil)
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_RecordFailedLogin_UnknownUser(t *testing.T) {
	repo, mock := newUserTestFixture(t)
	defer mock.Close()

	id := uuid.New()
	lockUntil := time.Now().Add(15 * time.Minute)

	mock.ExpectQuery("UPDATE users").
		WithArgs(id, 5, lockUntil).
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.RecordFailedLogin(context.Background(), id, 5, lockUntil)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestUserRepository_RecordSuccessfulLogin(t *testing.T) {
	repo, mock := newUserTestFixture(t)
	defer mock.Close()

	id := uuid.New()
	at := time.Now().UTC()

	mock.ExpectExec("UPDATE users").
		WithArgs(id, at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := repo.RecordSuccessfulLogin(context.Background(), id, at)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_RecordSuccessfulLogin_UnknownUser(t *testing.T) {
	repo, mock := newUserTestFixture(t)
	defer mock.Close()

	id := uuid.New()
	at := time.Now().UTC()

	mock.ExpectExec("UPDATE users").
		WithArgs(id, at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := repo.RecordSuccessfulLogin(context.Background(), id, at)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestUserRepository_UpdatePassword(t *testing.T) {
	repo, mock := newUserTestFixture(t)
	defer mock.Close()

	id := uuid.New()

	mock.ExpectExec("UPDATE users").
		WithArgs(id, "$2a$12$newhash").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	assert.NoError(t, repo.UpdatePassword(context.Background(), id, "$2a$12$newhash"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_EnableAndDisableTwoFactor(t *testing.T) {
	repo, mock := newUserTestFixture(t)
	defer mock.Close()

	id := uuid.New()

	mock.ExpectExec("UPDATE users").
		WithArgs(id, "GEZDGNBVGY3TQOJQ").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, repo.EnableTwoFactor(context.Background(), id, "GEZDGNBVGY3TQOJQ"))

	mock.ExpectExec("UPDATE users").
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, repo.DisableTwoFactor(context.Background(), id))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepository_PropagatesUnexpectedErrors(t *testing.T) {
	repo, mock := newUserTestFixture(t)
	defer mock.Close()

	dbErr := errors.New("connection reset")
	mock.ExpectQuery("SELECT (.+) FROM users WHERE id").
		WithArgs(pgxmock.AnyArg()).
		WillReturnError(dbErr)

	_, err := repo.GetByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, dbErr)
	assert.NotErrorIs(t, err, ErrUserNotFound)
}
