package gitlab

import (
	"fmt"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/p-blackswan/ken/internal/config"
)

// Authenticator applies authentication to requests.
type Authenticator interface {
	Apply(req *http.Request) error
}

// PrivateToken authenticates with a personal, project or group access token.
type PrivateToken string

func (t PrivateToken) Apply(req *http.Request) error {
	if t == "" {
		return fmt.Errorf("no access token configured")
	}
	req.Header.Set("PRIVATE-TOKEN", string(t))
	return nil
}

// OAuthToken authenticates with an OAuth 2.0 bearer token.
type OAuthToken struct {
	src oauth2.TokenSource
}

// NewOAuthToken wraps a static access token.
func NewOAuthToken(accessToken string) *OAuthToken {
	return NewOAuthTokenSource(oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	}))
}

// NewOAuthTokenSource uses an arbitrary token source, e.g. one that refreshes.
func NewOAuthTokenSource(src oauth2.TokenSource) *OAuthToken {
	return &OAuthToken{src: src}
}

func (o *OAuthToken) Apply(req *http.Request) error {
	tok, err := o.src.Token()
	if err != nil {
		return fmt.Errorf("obtaining oauth token: %w", err)
	}
	if tok.AccessToken == "" {
		return fmt.Errorf("no access token configured")
	}
	tok.SetAuthHeader(req)
	return nil
}

// NewAuthenticator picks the authenticator matching the configured auth type.
func NewAuthenticator(authType, token string) Authenticator {
	if authType == config.AuthOAuth {
		return NewOAuthToken(token)
	}
	return PrivateToken(token)
}
