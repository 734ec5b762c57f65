package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/oauth2"
)

// Token store errors
var (
	// ErrTokenNotFound indicates no token has been stored yet
	ErrTokenNotFound = errors.New("token not found")

	// ErrTokenInvalid indicates the stored token is malformed or incomplete
	ErrTokenInvalid = errors.New("stored token is invalid")
)

// TokenRecord is the persisted OAuth token pair.
// Expires is a unix timestamp in seconds.
type TokenRecord struct {
	AccessToken  string `json:"access_token" firestore:"access_token"`
	RefreshToken string `json:"refresh_token" firestore:"refresh_token"`
	Expires      int64  `json:"expires" firestore:"expires"`
}

// Complete reports whether all three fields are present.
func (r *TokenRecord) Complete() bool {
	return r != nil && r.AccessToken != "" && r.RefreshToken != "" && r.Expires != 0
}

// OAuth2Token converts the record to an oauth2.Token.
func (r *TokenRecord) OAuth2Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		TokenType:    "Bearer",
		Expiry:       time.Unix(r.Expires, 0),
	}
}

// RecordFromToken converts an oauth2.Token into a TokenRecord.
func RecordFromToken(t *oauth2.Token) *TokenRecord {
	rec := &TokenRecord{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
	}
	if !t.Expiry.IsZero() {
		rec.Expires = t.Expiry.Unix()
	}
	return rec
}

// TokenStore persists the most recent token record.
type TokenStore interface {
	Load(ctx context.Context) (*TokenRecord, error)
	Save(ctx context.Context, rec *TokenRecord) error
}

// FileTokenStore keeps the token record in a JSON file, overwritten in place.
type FileTokenStore struct {
	Path string
}

// NewFileTokenStore returns a store backed by path.
func NewFileTokenStore(path string) *FileTokenStore {
	return &FileTokenStore{Path: path}
}

// Load reads the token record. A missing file yields ErrTokenNotFound;
// unparseable or incomplete content yields ErrTokenInvalid.
func (s *FileTokenStore) Load(ctx context.Context) (*TokenRecord, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("failed to read token file %s: %w", s.Path, err)
	}

	var rec TokenRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !rec.Complete() {
		return nil, ErrTokenInvalid
	}
	return &rec, nil
}

// Save overwrites the token file.
func (s *FileTokenStore) Save(ctx context.Context, rec *TokenRecord) error {
	if err := os.MkdirAll(filepath.Dir(s.Path), 0700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}

	data, err := json.MarshalIndent(rec, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode token: %w", err)
	}

	if err := os.WriteFile(s.Path, data, 0600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	return nil
}
