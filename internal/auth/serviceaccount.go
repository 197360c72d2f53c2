package auth

import (
	"context"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/jwt"
)

// serviceAccount signs its own assertions; there is no user token to store.
type serviceAccount struct {
	jwt    *jwt.Config
	logger zerolog.Logger
}

func (p *serviceAccount) Acquire(ctx context.Context) (oauth2.TokenSource, error) {
	p.logger.Debug().Str("action", "auth").Str("client_email", p.jwt.Email).Msg("using service account")
	return p.jwt.TokenSource(ctx), nil
}
