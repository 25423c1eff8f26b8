package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"pdf_gateway/internal/models"
)

// ErrKeyNotFound is returned when a presented key does not resolve to a
// live record. Revoked keys and wrong secrets collapse into it on purpose.
var ErrKeyNotFound = errors.New("api key not found")

const keyPrefix = "pdfk"

// GenerateAPIKey mints a new plaintext key of the form
// pdfk_<id>_<secret>. The id is stored alongside the bcrypt hash of the
// secret so lookups hit one row; the plaintext is shown to the caller
// once and never persisted.
func GenerateAPIKey() (plaintext, id, secret string, err error) {
	id = strings.ReplaceAll(uuid.NewString(), "-", "")

	buf := make([]byte, 24)
	if _, err = rand.Read(buf); err != nil {
		return "", "", "", fmt.Errorf("auth: generate secret: %w", err)
	}
	secret = hex.EncodeToString(buf)

	return fmt.Sprintf("%s_%s_%s", keyPrefix, id, secret), id, secret, nil
}

// ParseAPIKey splits a presented key into its id and secret parts.
func ParseAPIKey(plaintext string) (id, secret string, err error) {
	parts := strings.Split(plaintext, "_")
	if len(parts) != 3 || parts[0] != keyPrefix || parts[1] == "" || parts[2] == "" {
		return "", "", ErrKeyNotFound
	}
	return parts[1], parts[2], nil
}

// APIKeyStore resolves presented plaintext keys into stored records and
// manages an account's keys.
type APIKeyStore interface {
	// Lookup verifies the plaintext key and returns its record. Unknown
	// ids, wrong secrets, and revoked keys all return ErrKeyNotFound.
	Lookup(ctx context.Context, plaintext string) (*models.APIKey, error)

	// Insert stores a freshly generated key record.
	Insert(ctx context.Context, key *models.APIKey) error

	// ListForAccount returns the account's keys, newest first.
	ListForAccount(ctx context.Context, account string) ([]models.APIKey, error)

	// Revoke marks the account's key revoked. Returns ErrKeyNotFound when
	// the id does not belong to the account.
	Revoke(ctx context.Context, account, id string) error

	// TouchLastUsed records when the key last authenticated a request.
	TouchLastUsed(ctx context.Context, id string, at time.Time) error
}

// InMemoryAPIKeyStore keeps key records in a map. Used in tests and in
// database-less deployments.
type InMemoryAPIKeyStore struct {
	mu   sync.Mutex
	keys map[string]*models.APIKey
}

func NewInMemoryAPIKeyStore() *InMemoryAPIKeyStore {
	return &InMemoryAPIKeyStore{keys: make(map[string]*models.APIKey)}
}

func (s *InMemoryAPIKeyStore) Lookup(ctx context.Context, plaintext string) (*models.APIKey, error) {
	id, secret, err := ParseAPIKey(plaintext)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	key, ok := s.keys[id]
	if ok {
		clone := *key
		key = &clone
	}
	s.mu.Unlock()

	if !ok || key.Revoked {
		return nil, ErrKeyNotFound
	}
	if !VerifySecret(secret, key.SecretHash) {
		return nil, ErrKeyNotFound
	}
	return key, nil
}

func (s *InMemoryAPIKeyStore) Insert(ctx context.Context, key *models.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.keys[key.ID]; exists {
		return fmt.Errorf("auth: duplicate key id %s", key.ID)
	}
	clone := *key
	s.keys[key.ID] = &clone
	return nil
}

func (s *InMemoryAPIKeyStore) ListForAccount(ctx context.Context, account string) ([]models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.APIKey
	for _, key := range s.keys {
		if key.Account == account {
			out = append(out, *key)
		}
	}
	return out, nil
}

func (s *InMemoryAPIKeyStore) Revoke(ctx context.Context, account, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.keys[id]
	if !ok || key.Account != account {
		return ErrKeyNotFound
	}
	key.Revoked = true
	return nil
}

func (s *InMemoryAPIKeyStore) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if key, ok := s.keys[id]; ok {
		stamp := at
		key.LastUsedAt = &stamp
	}
	return nil
}
