package drive

import (
	"context"
	"net/http"
	"strings"

	"golang.org/x/oauth2"

	apperrors "github.com/louisbranch/tierstore/internal/platform/errors"
)

// GoogleEndpoint holds Google's OAuth2 endpoints.
var GoogleEndpoint = oauth2.Endpoint{
	AuthURL:   "https://accounts.google.com/o/oauth2/auth",
	TokenURL:  "https://oauth2.googleapis.com/token",
	AuthStyle: oauth2.AuthStyleInParams,
}

// ScopeFile grants access to files the application created or opened.
const ScopeFile = "https://www.googleapis.com/auth/drive.file"

// SignInRequest selects the sign-in flow. Code runs the interactive flow by
// exchanging an authorization code; Token runs the silent flow with a token
// saved from an earlier sign-in.
type SignInRequest struct {
	Code  string
	Token *oauth2.Token
}

// AuthCodeURL returns the consent page URL for the interactive flow.
func (c *Client) AuthCodeURL(state string) string {
	return c.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// SignIn obtains a token source. The silent flow refreshes an expired token
// before returning; either flow fails with NOT_SIGNED_IN when no valid token
// results.
func (c *Client) SignIn(ctx context.Context, req SignInRequest) error {
	// Token refreshes outlive the sign-in call.
	authCtx := context.WithoutCancel(ctx)
	if c.base != nil {
		authCtx = context.WithValue(authCtx, oauth2.HTTPClient, c.base)
	}

	var token *oauth2.Token
	switch {
	case strings.TrimSpace(req.Code) != "":
		exchanged, err := c.oauth.Exchange(c.withBase(ctx), strings.TrimSpace(req.Code))
		if err != nil {
			return apperrors.Wrap(apperrors.CodeNotSignedIn, "drive sign in: exchange code", err)
		}
		token = exchanged
	case req.Token != nil:
		token = req.Token
	default:
		return apperrors.InvalidArgument("code")
	}

	source := c.oauth.TokenSource(authCtx, token)
	fresh, err := source.Token()
	if err != nil {
		return apperrors.Wrap(apperrors.CodeNotSignedIn, "drive sign in: refresh token", err)
	}
	if !fresh.Valid() {
		return apperrors.New(apperrors.CodeNotSignedIn, "drive sign in: token is not valid")
	}

	httpClient := oauth2.NewClient(authCtx, source)
	httpClient.Timeout = c.timeout

	c.mu.Lock()
	c.source = source
	c.client = httpClient
	c.mu.Unlock()
	c.logf("drive: signed in")
	return nil
}

// SignOut forgets the token source.
func (c *Client) SignOut() {
	c.mu.Lock()
	c.source = nil
	c.client = nil
	c.mu.Unlock()
}

// SignedIn reports whether the client holds a token source.
func (c *Client) SignedIn() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.source != nil
}

// Token returns the current token, refreshing it if needed, so callers can
// persist it for a later silent sign-in.
func (c *Client) Token() (*oauth2.Token, error) {
	c.mu.RLock()
	source := c.source
	c.mu.RUnlock()
	if source == nil {
		return nil, errNotSignedIn("drive token")
	}
	token, err := source.Token()
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeNotSignedIn, "drive token", err)
	}
	return token, nil
}

func (c *Client) authorized(op string) (*http.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.client == nil {
		return nil, errNotSignedIn(op)
	}
	return c.client, nil
}

func (c *Client) withBase(ctx context.Context) context.Context {
	if c.base == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, c.base)
}

func errNotSignedIn(op string) error {
	return apperrors.New(apperrors.CodeNotSignedIn, op+": not signed in")
}
