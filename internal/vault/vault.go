// Package vault provides authenticated symmetric encryption for secret
// values, keyed by a deployment master key, backed by the Store.
package vault

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
	"gorm.io/gorm"

	"github.com/dara-labs/workflow-control-plane/internal/id"
	"github.com/dara-labs/workflow-control-plane/internal/store"
)

// ConfigurationError is returned when the vault cannot be constructed.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string { return e.Reason }

// VaultError is returned for decrypt/authentication failures.
type VaultError struct {
	Reason string
}

func (e *VaultError) Error() string { return e.Reason }

var errUnknownSecret = errors.New("secret not found")

// Header is the public, plaintext-free view of a stored secret.
type Header struct {
	ID        string
	Scope     string
	Name      string
	CreatedAt string
}

const nonceSize = 24

// Vault encrypts and decrypts secret values with XSalsa20-Poly1305
// (golang.org/x/crypto/nacl/secretbox), an authenticated construction: a
// tampered or truncated ciphertext fails to open rather than returning
// garbage plaintext.
type Vault struct {
	key   [32]byte
	store *store.Store
}

// New derives a 32-byte key from masterKey via SHA-256 and returns a Vault
// backed by s. Construction fails with *ConfigurationError if masterKey is
// empty.
func New(masterKey string, s *store.Store) (*Vault, error) {
	if masterKey == "" {
		return nil, &ConfigurationError{Reason: "MASTER_KEY is required for secrets vault"}
	}
	return &Vault{key: sha256.Sum256([]byte(masterKey)), store: s}, nil
}

// encode base64url-encodes ciphertext for storage as TEXT.
func encode(b []byte) string { return base64.RawURLEncoding.EncodeToString(b) }
func decode(s string) ([]byte, error) { return base64.RawURLEncoding.DecodeString(s) }

func (v *Vault) seal(plaintext string) (string, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &v.key)
	return encode(sealed), nil
}

func (v *Vault) open(ciphertext string) (string, error) {
	raw, err := decode(ciphertext)
	if err != nil || len(raw) < nonceSize {
		return "", &VaultError{Reason: "failed to decrypt secret"}
	}
	var nonce [nonceSize]byte
	copy(nonce[:], raw[:nonceSize])
	plain, ok := secretbox.Open(nil, raw[nonceSize:], &nonce, &v.key)
	if !ok {
		return "", &VaultError{Reason: "failed to decrypt secret"}
	}
	return string(plain), nil
}

// Store encrypts value and inserts a new secret row, returning its header.
func (v *Vault) Store(scope, name, value string) (Header, error) {
	ciphertext, err := v.seal(value)
	if err != nil {
		return Header{}, fmt.Errorf("sealing secret: %w", err)
	}
	row := store.Secret{
		ID:        id.New(),
		Scope:     scope,
		Name:      name,
		Value:     ciphertext,
		CreatedAt: store.Now(),
	}
	if err := v.store.Tx(func(tx *gorm.DB) error {
		return tx.Create(&row).Error
	}); err != nil {
		return Header{}, fmt.Errorf("storing secret: %w", err)
	}
	return Header{ID: row.ID, Scope: row.Scope, Name: row.Name, CreatedAt: row.CreatedAt}, nil
}

// List returns secret headers, optionally filtered by scope. Plaintext and
// ciphertext are never returned.
func (v *Vault) List(scope string) ([]Header, error) {
	var rows []store.Secret
	q := v.store.DB()
	if scope != "" {
		q = q.Where("scope = ?", scope)
	}
	if err := q.Order("created_at").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing secrets: %w", err)
	}
	headers := make([]Header, 0, len(rows))
	for _, r := range rows {
		headers = append(headers, Header{ID: r.ID, Scope: r.Scope, Name: r.Name, CreatedAt: r.CreatedAt})
	}
	return headers, nil
}

// Decrypt returns the plaintext value for secretID. Fails with *VaultError
// on an unknown id or an authentication failure.
func (v *Vault) Decrypt(secretID string) (string, error) {
	var row store.Secret
	if err := v.store.DB().First(&row, "id = ?", secretID).Error; err != nil {
		return "", &VaultError{Reason: errUnknownSecret.Error()}
	}
	return v.open(row.Value)
}

// IterPlaintext returns every secret's plaintext value, skipping rows that
// fail authentication rather than aborting — a single corrupt row must not
// block the engine from seeding the redactor.
func (v *Vault) IterPlaintext() []string {
	var rows []store.Secret
	if err := v.store.DB().Find(&rows).Error; err != nil {
		return nil
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		plain, err := v.open(r.Value)
		if err != nil {
			continue
		}
		out = append(out, plain)
	}
	return out
}
