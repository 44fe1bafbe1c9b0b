package httpapi

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const adminTokenFile = ".admin-token"

// AdminTokenHolder provides thread-safe access to the admin bearer token,
// persisted in the data directory so it survives restarts.
type AdminTokenHolder struct {
	mu      sync.RWMutex
	token   string
	dataDir string
}

// NewAdminTokenHolder resolves the initial token, in order: the configured
// value, a previously persisted token, a newly generated one. The resolved
// token is persisted when dataDir is set.
func NewAdminTokenHolder(configToken, dataDir string, logger *slog.Logger) (*AdminTokenHolder, error) {
	h := &AdminTokenHolder{token: configToken, dataDir: dataDir}
	if h.token == "" {
		h.token = h.readPersisted()
	}
	if h.token == "" {
		tok, err := newToken()
		if err != nil {
			return nil, err
		}
		h.token = tok
		logger.Warn("ROUTEHUB_ADMIN_TOKEN not set; generated one (retrieve with: routehubctl admin-token)")
	}
	h.persist(logger)
	return h, nil
}

func newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate admin token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Get returns the current admin token.
func (h *AdminTokenHolder) Get() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.token
}

// ConstantTimeEqual reports whether provided matches the current token.
func (h *AdminTokenHolder) ConstantTimeEqual(provided string) bool {
	h.mu.RLock()
	current := h.token
	h.mu.RUnlock()
	return subtle.ConstantTimeCompare([]byte(provided), []byte(current)) == 1
}

// Rotate replaces the token with a new random one and returns it.
func (h *AdminTokenHolder) Rotate(logger *slog.Logger) (string, error) {
	tok, err := newToken()
	if err != nil {
		return "", err
	}
	h.mu.Lock()
	h.token = tok
	h.mu.Unlock()
	h.persist(logger)
	return tok, nil
}

func (h *AdminTokenHolder) readPersisted() string {
	if h.dataDir == "" {
		return ""
	}
	data, err := os.ReadFile(filepath.Join(h.dataDir, adminTokenFile))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func (h *AdminTokenHolder) persist(logger *slog.Logger) {
	if h.dataDir == "" {
		return
	}
	content := []byte(h.Get() + "\n")
	if err := os.WriteFile(filepath.Join(h.dataDir, adminTokenFile), content, 0o600); err != nil {
		logger.Warn("failed to write admin token file", slog.String("error", err.Error()))
	}
}

// AdminAuth rejects requests without "Authorization: Bearer <admin token>".
func AdminAuth(h *AdminTokenHolder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			tok, ok := strings.CutPrefix(auth, "Bearer ")
			if !ok || tok == "" || !h.ConstantTimeEqual(tok) {
				w.Header().Set("WWW-Authenticate", `Bearer realm="routehub-admin"`)
				jsonError(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
