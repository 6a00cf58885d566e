package integrations

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"
)

// TokenRefresher exchanges a refresh token for a fresh access token.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
}

type OAuthRefresher struct {
	cfg    *oauth2.Config
	client *http.Client
}

func NewOAuthRefresher(clientID, clientSecret, tokenURL string, client *http.Client) *OAuthRefresher {
	return &OAuthRefresher{
		cfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		client: client,
	}
}

func (r *OAuthRefresher) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	if r.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, r.client)
	}
	// An expired token with only a refresh token forces the exchange.
	return r.cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
}
