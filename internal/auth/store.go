package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

var errEmptyToken = errors.New("token file holds no access or refresh token")

// TokenStore persists the user's token between runs.
type TokenStore struct {
	Path string
}

// tokenFile holds the keys of both accepted layouts: oauth2.Token as written
// by Save, and the google-auth layout (token/refresh_token/expiry) so an
// existing consent keeps working.
type tokenFile struct {
	AccessToken  string `json:"access_token"`
	Token        string `json:"token"`
	TokenType    string `json:"token_type"`
	RefreshToken string `json:"refresh_token"`
	Expiry       string `json:"expiry"`
}

// google-auth writes naive UTC timestamps.
var expiryLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999"}

// Load returns the stored token. A missing, unreadable or empty file is an error;
// callers treat every error as "no token".
func (s *TokenStore) Load() (*oauth2.Token, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, err
	}

	var f tokenFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse token file %s: %w", s.Path, err)
	}

	tok := &oauth2.Token{AccessToken: f.AccessToken, TokenType: f.TokenType, RefreshToken: f.RefreshToken}
	if tok.AccessToken == "" {
		tok.AccessToken = f.Token
	}
	if tok.TokenType == "" {
		tok.TokenType = "Bearer"
	}
	if exp := strings.TrimSpace(f.Expiry); exp != "" {
		t, err := parseExpiry(exp)
		if err != nil {
			return nil, fmt.Errorf("parse token file %s: expiry: %w", s.Path, err)
		}
		tok.Expiry = t
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, errEmptyToken
	}
	return tok, nil
}

func parseExpiry(s string) (time.Time, error) {
	var err error
	for _, layout := range expiryLayouts {
		var t time.Time
		if t, err = time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, err
}

// Save writes tok with 0600 permissions, replacing the file atomically.
func (s *TokenStore) Save(tok *oauth2.Token) error {
	if tok == nil {
		return errEmptyToken
	}
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(s.Path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.Path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
