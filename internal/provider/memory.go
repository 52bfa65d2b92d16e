package provider

import (
	"context"
	"log"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

type memoryAccount struct {
	uid  string
	hash []byte
}

// Memory is a map-backed Provider for dev mode and tests. It applies the
// same validation and password hashing as the Postgres backend.
type Memory struct {
	mu      sync.Mutex
	byEmail map[string]memoryAccount
	current string
	cost    int
	bc      *broadcaster
}

// NewMemory creates an empty in-memory provider. cost is the bcrypt cost;
// zero selects the library default.
func NewMemory(cost int) *Memory {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &Memory{
		byEmail: make(map[string]memoryAccount),
		cost:    cost,
		bc:      newBroadcaster(),
	}
}

// SignIn verifies the credential and makes the principal current.
func (m *Memory) SignIn(ctx context.Context, cred Credential) (string, error) {
	m.mu.Lock()
	acct, ok := m.byEmail[cred.Email]
	m.mu.Unlock()
	if !ok {
		return "", ErrUserNotFound
	}
	if bcrypt.CompareHashAndPassword(acct.hash, []byte(cred.Password)) != nil {
		return "", ErrWrongPassword
	}
	m.setCurrent(acct.uid)
	return acct.uid, nil
}

// SignUp creates a principal and makes it current.
func (m *Memory) SignUp(ctx context.Context, cred Credential) (string, error) {
	if err := validateCredential(cred); err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(cred.Password), m.cost)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	if _, exists := m.byEmail[cred.Email]; exists {
		m.mu.Unlock()
		return "", ErrEmailInUse
	}
	uid := uuid.NewString()
	m.byEmail[cred.Email] = memoryAccount{uid: uid, hash: hash}
	m.mu.Unlock()
	m.setCurrent(uid)
	return uid, nil
}

// SendPasswordReset logs the dispatch; there is no mail transport in dev
// mode.
func (m *Memory) SendPasswordReset(ctx context.Context, email string) error {
	m.mu.Lock()
	_, ok := m.byEmail[email]
	m.mu.Unlock()
	if !ok {
		return ErrUserNotFound
	}
	log.Printf("provider(memory): password reset requested for %s", email)
	return nil
}

// SignOut clears the current principal.
func (m *Memory) SignOut(ctx context.Context) error {
	m.mu.Lock()
	m.current = ""
	m.mu.Unlock()
	m.bc.publish(State{})
	return nil
}

// States subscribes to auth-state notifications.
func (m *Memory) States() (<-chan State, func()) {
	return m.bc.subscribe()
}

func (m *Memory) setCurrent(uid string) {
	m.mu.Lock()
	m.current = uid
	m.mu.Unlock()
	m.bc.publish(State{UID: uid, Present: true})
}
