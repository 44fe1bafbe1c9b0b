// Package credentials stores provider API keys encrypted at rest and resolves
// the key to use for a (provider, tenant, caller) triple.
package credentials

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"

	"github.com/jordanhubbard/routehub/internal/store"
)

var (
	ErrLocked           = errors.New("vault locked")
	ErrNotFound         = errors.New("credential not found")
	ErrWrongPassword    = errors.New("wrong vault password")
	ErrPasswordTooShort = errors.New("password too short")
)

const (
	minPasswordLen = 8
	saltLen        = 16
	// checkKey holds a known plaintext so Unlock can reject a wrong password.
	checkKey   = "__routehub_check__"
	checkValue = "routehub"
)

// Vault holds secrets encrypted with AES-256-GCM. The key is derived from a
// master password with argon2id and lives only in memory while unlocked.
type Vault struct {
	mu     sync.RWMutex
	locked bool
	key    []byte
	salt   []byte
	values map[string][]byte
}

// NewVault returns an empty, locked vault.
func NewVault() *Vault {
	return &Vault{locked: true, values: make(map[string][]byte)}
}

func deriveKey(password, salt []byte) []byte {
	return argon2.IDKey(password, salt, 1, 64*1024, 4, 32)
}

func (v *Vault) IsLocked() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.locked
}

// Unlock derives the key from password. The first unlock of an empty vault
// generates the salt; later unlocks must use the same password.
func (v *Vault) Unlock(password []byte) error {
	if len(password) < minPasswordLen {
		return ErrPasswordTooShort
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.salt == nil {
		v.salt = make([]byte, saltLen)
		if _, err := io.ReadFull(rand.Reader, v.salt); err != nil {
			return fmt.Errorf("generate salt: %w", err)
		}
	}
	key := deriveKey(password, v.salt)

	if check, ok := v.values[checkKey]; ok {
		plain, err := open(key, check)
		if err != nil || string(plain) != checkValue {
			return ErrWrongPassword
		}
	} else {
		sealed, err := seal(key, []byte(checkValue))
		if err != nil {
			return err
		}
		v.values[checkKey] = sealed
	}

	v.key = key
	v.locked = false
	return nil
}

// Lock zeroes the in-memory key.
func (v *Vault) Lock() {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i := range v.key {
		v.key[i] = 0
	}
	v.key = nil
	v.locked = true
}

// Rotate re-encrypts every secret under a new password and a fresh salt.
func (v *Vault) Rotate(newPassword []byte) error {
	if len(newPassword) < minPasswordLen {
		return ErrPasswordTooShort
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.locked {
		return ErrLocked
	}

	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}
	key := deriveKey(newPassword, salt)

	rotated := make(map[string][]byte, len(v.values))
	for k, sealed := range v.values {
		plain, err := open(v.key, sealed)
		if err != nil {
			return fmt.Errorf("decrypt %s: %w", k, err)
		}
		if rotated[k], err = seal(key, plain); err != nil {
			return err
		}
	}

	for i := range v.key {
		v.key[i] = 0
	}
	v.key, v.salt, v.values = key, salt, rotated
	return nil
}

// Set encrypts and stores a value.
func (v *Vault) Set(name, value string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.locked {
		return ErrLocked
	}
	sealed, err := seal(v.key, []byte(value))
	if err != nil {
		return err
	}
	v.values[name] = sealed
	return nil
}

// Get decrypts and returns a value.
func (v *Vault) Get(name string) (string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.locked {
		return "", ErrLocked
	}
	sealed, ok := v.values[name]
	if !ok || name == checkKey {
		return "", ErrNotFound
	}
	plain, err := open(v.key, sealed)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plain), nil
}

func (v *Vault) Delete(name string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if name != checkKey {
		delete(v.values, name)
	}
}

// Names lists stored secret names with the given prefix. Works while locked.
func (v *Vault) Names(prefix string) []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	var out []string
	for k := range v.values {
		if k != checkKey && strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// Export returns the salt and the encrypted values, base64-encoded.
func (v *Vault) Export() ([]byte, map[string]string) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make(map[string]string, len(v.values))
	for k, val := range v.values {
		out[k] = base64.StdEncoding.EncodeToString(val)
	}
	return append([]byte(nil), v.salt...), out
}

// Import replaces the vault contents with exported data and locks the vault.
func (v *Vault) Import(salt []byte, data map[string]string) error {
	values := make(map[string][]byte, len(data))
	for k, enc := range data {
		decoded, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			return fmt.Errorf("failed to decode key %s: %w", k, err)
		}
		values[k] = decoded
	}
	v.Lock()
	v.mu.Lock()
	defer v.mu.Unlock()
	v.salt = append([]byte(nil), salt...)
	v.values = values
	return nil
}

// Save persists the encrypted vault.
func (v *Vault) Save(ctx context.Context, s store.VaultStore) error {
	salt, data := v.Export()
	return s.SaveVaultBlob(ctx, salt, data)
}

// Load restores a previously saved vault. A store with no vault is not an error.
func (v *Vault) Load(ctx context.Context, s store.VaultStore) error {
	salt, data, err := s.LoadVaultBlob(ctx)
	if err != nil {
		return err
	}
	if salt == nil && len(data) == 0 {
		return nil
	}
	return v.Import(salt, data)
}

func seal(key, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func open(key, ciphertext []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce, data := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, data, nil)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != 32 {
		return nil, errors.New("no key")
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
