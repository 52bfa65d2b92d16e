package provider

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/ChequedMetal/App-Mobile/internal/queue"
)

const resetTokenTTL = time.Hour

// Postgres is a Provider backed by an accounts table. Password-reset
// challenges are persisted and their delivery handed to the work queue.
type Postgres struct {
	db   *sql.DB
	q    queue.Queue
	cost int

	mu      sync.Mutex
	current string
	bc      *broadcaster
}

// NewPostgres creates the provider and ensures its schema exists. cost is
// the bcrypt cost; zero selects the library default.
func NewPostgres(ctx context.Context, db *sql.DB, q queue.Queue, cost int) (*Postgres, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS accounts (
			uid           TEXT PRIMARY KEY,
			email         TEXT UNIQUE NOT NULL,
			password_hash TEXT NOT NULL,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("ensure accounts table: %w", err)
	}
	_, err = db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS reset_tokens (
			token      TEXT PRIMARY KEY,
			uid        TEXT NOT NULL REFERENCES accounts(uid),
			expires_at TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return nil, fmt.Errorf("ensure reset_tokens table: %w", err)
	}
	return &Postgres{db: db, q: q, cost: cost, bc: newBroadcaster()}, nil
}

// SignIn verifies the credential and makes the principal current.
func (p *Postgres) SignIn(ctx context.Context, cred Credential) (string, error) {
	var uid, hash string
	err := p.db.QueryRowContext(ctx, `
		SELECT uid, password_hash FROM accounts WHERE email = $1
	`, cred.Email).Scan(&uid, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrUserNotFound
	}
	if err != nil {
		return "", err
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(cred.Password)) != nil {
		return "", ErrWrongPassword
	}
	p.setCurrent(uid)
	return uid, nil
}

// SignUp creates a principal and makes it current.
func (p *Postgres) SignUp(ctx context.Context, cred Credential) (string, error) {
	if err := validateCredential(cred); err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(cred.Password), p.cost)
	if err != nil {
		return "", err
	}
	uid := uuid.NewString()
	res, err := p.db.ExecContext(ctx, `
		INSERT INTO accounts (uid, email, password_hash)
		VALUES ($1, $2, $3)
		ON CONFLICT (email) DO NOTHING
	`, uid, cred.Email, string(hash))
	if err != nil {
		return "", err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return "", ErrEmailInUse
	}
	p.setCurrent(uid)
	return uid, nil
}

// SendPasswordReset stores a reset token and queues its delivery.
func (p *Postgres) SendPasswordReset(ctx context.Context, email string) error {
	var uid string
	err := p.db.QueryRowContext(ctx, `
		SELECT uid FROM accounts WHERE email = $1
	`, email).Scan(&uid)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrUserNotFound
	}
	if err != nil {
		return err
	}

	token := uuid.NewString()
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO reset_tokens (token, uid, expires_at)
		VALUES ($1, $2, $3)
	`, token, uid, time.Now().UTC().Add(resetTokenTTL))
	if err != nil {
		return err
	}

	msg, err := queue.NewMessage(queue.KindReset, queue.ResetMail{Email: email, Token: token})
	if err != nil {
		return err
	}
	return p.q.Publish(ctx, msg)
}

// SignOut clears the current principal.
func (p *Postgres) SignOut(ctx context.Context) error {
	p.mu.Lock()
	p.current = ""
	p.mu.Unlock()
	p.bc.publish(State{})
	return nil
}

// States subscribes to auth-state notifications.
func (p *Postgres) States() (<-chan State, func()) {
	return p.bc.subscribe()
}

// PurgeExpiredResets removes stale reset tokens; the worker calls this
// periodically.
func (p *Postgres) PurgeExpiredResets(ctx context.Context) {
	if _, err := p.db.ExecContext(ctx, `
		DELETE FROM reset_tokens WHERE expires_at < NOW()
	`); err != nil {
		log.Printf("provider(postgres): purge reset tokens failed: %v", err)
	}
}

func (p *Postgres) setCurrent(uid string) {
	p.mu.Lock()
	p.current = uid
	p.mu.Unlock()
	p.bc.publish(State{UID: uid, Present: true})
}
