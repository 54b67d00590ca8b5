package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

const apiTokenBytes = 32

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("user is not allowed to use this bot")
)

// Options configure access control. An empty allowlist admits everyone; an
// empty API token leaves the HTTP API open.
type Options struct {
	APIToken      string
	AllowedUsers  []int64
	AdminUsers    []int64
	AllowlistFile string
}

// Service checks HTTP API tokens and Telegram users.
type Service struct {
	mu sync.RWMutex

	tokenDigest []byte
	allowed     map[int64]struct{}
	admins      map[int64]struct{}
}

// NewService builds the access policy, merging ids from the allowlist file.
func NewService(opts Options) (*Service, error) {
	svc := &Service{
		allowed: map[int64]struct{}{},
		admins:  map[int64]struct{}{},
	}
	if token := strings.TrimSpace(opts.APIToken); token != "" {
		sum := sha256.Sum256([]byte(token))
		svc.tokenDigest = sum[:]
	}
	for _, id := range opts.AllowedUsers {
		svc.allowed[id] = struct{}{}
	}
	for _, id := range opts.AdminUsers {
		svc.admins[id] = struct{}{}
	}

	fromFile, err := loadAllowlist(opts.AllowlistFile)
	if err != nil {
		return nil, err
	}
	for _, id := range fromFile {
		svc.allowed[id] = struct{}{}
	}
	return svc, nil
}

// APIProtected reports whether a token is required.
func (s *Service) APIProtected() bool {
	return len(s.tokenDigest) > 0
}

// Authenticate validates a bearer token for the HTTP API.
func (s *Service) Authenticate(token string) error {
	if !s.APIProtected() {
		return nil
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrUnauthorized
	}
	sum := sha256.Sum256([]byte(token))
	if subtle.ConstantTimeCompare(sum[:], s.tokenDigest) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// Authorize checks a Telegram user against the allowlist. Admins always pass.
func (s *Service) Authorize(userID int64) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.admins[userID]; ok {
		return nil
	}
	if len(s.allowed) == 0 {
		return nil
	}
	if _, ok := s.allowed[userID]; ok {
		return nil
	}
	return ErrForbidden
}

// IsAdmin reports whether the user may act on other users' jobs.
func (s *Service) IsAdmin(userID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.admins[userID]
	return ok
}

// GenerateToken returns a random token suitable for http.api_token.
func GenerateToken() (string, error) {
	buf := make([]byte, apiTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func loadAllowlist(path string) ([]int64, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	var ids []int64
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, fmt.Errorf("decode allowlist file: %w", err)
	}
	return ids, nil
}
