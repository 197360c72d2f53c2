package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
)

// State is a point in the user-token lifecycle.
type State string

const (
	StateNoToken      State = "no_token"
	StateTokenValid   State = "token_valid"
	StateTokenExpired State = "token_expired"
	StateReauthorized State = "reauthorized"
)

// Consenter obtains a fresh token with the user's involvement.
type Consenter interface {
	Consent(ctx context.Context, conf *oauth2.Config) (*oauth2.Token, error)
}

// Session is the outcome of Authorize.
type Session struct {
	TokenSource oauth2.TokenSource
	Initial     State  // no_token, token_valid or token_expired
	Final       State  // token_valid or reauthorized
	Via         string // "", "refresh" or "consent"
}

// UserFlow authorizes as a user through an OAuth client credential and a
// persisted token.
type UserFlow struct {
	Config  *oauth2.Config
	Store   *TokenStore
	Consent Consenter
	Logger  zerolog.Logger
}

func (f *UserFlow) Acquire(ctx context.Context) (oauth2.TokenSource, error) {
	s, err := f.Authorize(ctx)
	if err != nil {
		return nil, err
	}
	return s.TokenSource, nil
}

// Authorize walks the token state machine:
//
//	no_token      -> consent -> reauthorized
//	token_valid   -> token_valid
//	token_expired -> refresh -> reauthorized (needs a refresh token, else consent)
//
// Every reauthorization is persisted; later refreshes during the run are too.
func (f *UserFlow) Authorize(ctx context.Context) (Session, error) {
	start := time.Now()
	var s Session

	tok, err := f.Store.Load()
	switch {
	case err != nil:
		s.Initial = StateNoToken
		f.Logger.Debug().Err(err).Str("action", "auth").Str("token_file", f.Store.Path).
			Msg("no usable stored token")
	case tok.Valid():
		s.Initial = StateTokenValid
	default:
		s.Initial = StateTokenExpired
	}

	switch {
	case s.Initial == StateTokenValid:
		s.Final = StateTokenValid

	case s.Initial == StateTokenExpired && tok.RefreshToken != "":
		refreshed, err := f.Config.TokenSource(ctx, tok).Token()
		if err != nil {
			f.Logger.Error().Err(err).Str("action", "auth").Str("state", string(s.Initial)).
				Msg("token refresh failed")
			return s, fmt.Errorf("%w: refresh token: %v", ErrAuth, err)
		}
		tok, s.Final, s.Via = refreshed, StateReauthorized, "refresh"

	default:
		if f.Consent == nil {
			return s, fmt.Errorf("%w: user consent required but no consent flow configured", ErrAuth)
		}
		f.Logger.Info().Str("action", "auth").Str("state", string(s.Initial)).
			Msg("user consent required")
		consented, err := f.Consent.Consent(ctx, f.Config)
		if err != nil {
			f.Logger.Error().Err(err).Str("action", "auth").Msg("user consent failed")
			return s, fmt.Errorf("%w: consent: %v", ErrAuth, err)
		}
		tok, s.Final, s.Via = consented, StateReauthorized, "consent"
	}

	if s.Final == StateReauthorized {
		f.save(tok)
	}

	s.TokenSource = &persistingSource{
		base:   f.Config.TokenSource(ctx, tok),
		store:  f.Store,
		last:   tok.AccessToken,
		logger: f.Logger,
	}

	f.Logger.Info().
		Str("action", "auth").
		Str("from", string(s.Initial)).
		Str("to", string(s.Final)).
		Str("via", s.Via).
		Dur("elapsed_ms", time.Since(start)).
		Msg("authorization OK")
	return s, nil
}

// save never logs token material.
func (f *UserFlow) save(tok *oauth2.Token) {
	if err := f.Store.Save(tok); err != nil {
		f.Logger.Error().Err(err).Str("action", "auth").Str("token_file", f.Store.Path).
			Msg("failed to persist token")
		return
	}
	f.Logger.Debug().Str("action", "auth").Str("token_file", f.Store.Path).Msg("token persisted")
}

// persistingSource saves the token whenever the underlying source refreshes it.
type persistingSource struct {
	mu     sync.Mutex
	base   oauth2.TokenSource
	store  *TokenStore
	last   string
	logger zerolog.Logger
}

func (p *persistingSource) Token() (*oauth2.Token, error) {
	tok, err := p.base.Token()
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if tok.AccessToken != p.last {
		p.last = tok.AccessToken
		if err := p.store.Save(tok); err != nil {
			p.logger.Error().Err(err).Str("action", "auth").Msg("failed to persist refreshed token")
		}
	}
	return tok, nil
}
