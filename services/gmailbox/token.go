package gmailbox

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/mailbridge/mailbridge/interfaces"
	"github.com/mailbridge/mailbridge/internal/errs"
)

// providerTokenSource bridges a TokenProvider onto oauth2.TokenSource
// so the Gmail HTTP client refreshes through the same credential path
// as the rest of the service.
type providerTokenSource struct {
	ctx      context.Context
	provider interfaces.TokenProvider
}

func NewTokenSource(ctx context.Context, provider interfaces.TokenProvider) oauth2.TokenSource {
	return &providerTokenSource{ctx: ctx, provider: provider}
}

func (s *providerTokenSource) Token() (*oauth2.Token, error) {
	accessToken, err := s.provider.AccessToken(s.ctx)
	if err != nil {
		return nil, err
	}
	if accessToken == "" {
		return nil, errs.ErrAuthExpired
	}
	return &oauth2.Token{AccessToken: accessToken}, nil
}

// StaticTokenProvider serves a fixed access token, useful for tests and
// short-lived tooling.
type StaticTokenProvider struct {
	Token string
}

func (p StaticTokenProvider) AccessToken(ctx context.Context) (string, error) {
	if p.Token == "" {
		return "", errs.ErrAuthExpired
	}
	return p.Token, nil
}

// refreshTokenProvider exchanges a long-lived refresh token for access
// tokens on demand, caching them until expiry.
type refreshTokenProvider struct {
	source oauth2.TokenSource
}

func NewRefreshTokenProvider(ctx context.Context, clientID, clientSecret, refreshToken string) interfaces.TokenProvider {
	oauthConfig := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
	}
	source := oauthConfig.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	return &refreshTokenProvider{source: oauth2.ReuseTokenSource(nil, source)}
}

func (p *refreshTokenProvider) AccessToken(ctx context.Context) (string, error) {
	token, err := p.source.Token()
	if err != nil {
		return "", errors.Wrap(errs.ErrAuthExpired, err.Error())
	}
	return token.AccessToken, nil
}
