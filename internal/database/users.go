package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// ErrDuplicateEmail marks user creation against an email already registered.
var ErrDuplicateEmail = errors.New("email already registered")

// User is a UI/API account. The role split is coarse: active users can log
// in, inactive ones keep their history but are locked out.
type User struct {
	ID           uuid.UUID
	GivenName    string
	Email        string
	PasswordHash string
	IsActive     bool
	CreatedOn    time.Time
	LastLogin    time.Time
	Annotations  string
}

const userColumns = `id, given_name, email, password, is_active, created_on, last_login, annotations`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	var created, lastLogin pgtype.Timestamptz
	err := row.Scan(&u.ID, &u.GivenName, &u.Email, &u.PasswordHash, &u.IsActive,
		&created, &lastLogin, &u.Annotations)
	if err != nil {
		return nil, err
	}
	u.CreatedOn = fromPgtz(created)
	u.LastLogin = fromPgtz(lastLogin)
	return &u, nil
}

// CreateUser inserts a user with an already-hashed password.
func (db *DB) CreateUser(ctx context.Context, u *User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO users (id, given_name, email, password, is_active, annotations)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		u.ID, u.GivenName, u.Email, u.PasswordHash, u.IsActive, u.Annotations,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// UserByEmail returns nil when no user carries the email.
func (db *DB) UserByEmail(ctx context.Context, email string) (*User, error) {
	row := db.Pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	u, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("user by email: %w", err)
	}
	return u, nil
}

func (db *DB) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_on ASC`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

// TouchLastLogin stamps a successful login.
func (db *DB) TouchLastLogin(ctx context.Context, id uuid.UUID) error {
	_, err := db.Pool.Exec(ctx,
		`UPDATE users SET last_login = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("touch last login %s: %w", id, err)
	}
	return nil
}
