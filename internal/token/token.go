package token

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// TokenType is the type of an OAuth2 decorated Token.
type TokenType int

const (
	NoneToken TokenType = iota
	DelegatedToken
	AppOnlyToken
)

var tokenName = map[TokenType]string{
	NoneToken:      "invalid",
	DelegatedToken: "delegated",
	AppOnlyToken:   "app-only",
}

// String returns the TokenType name string.
func (tt TokenType) String() string {
	return tokenName[tt]
}

// ExtendedToken is an OAuth2 token with additional information.
type ExtendedToken struct {
	Type     TokenType     `json:"type"`
	Resource string        `json:"resource"` // eg https://graph.microsoft.com
	Token    *oauth2.Token `json:"token"`
}

// NewExtendedToken creates a new ExtendedToken for the given resource.
func NewExtendedToken(typer TokenType, resource string, token *oauth2.Token) (*ExtendedToken, error) {
	if token == nil {
		return nil, errors.New("nil token received")
	}
	switch typer {
	case DelegatedToken, AppOnlyToken:
	default:
		return nil, errors.New("invalid token type received")
	}
	if resource == "" {
		return nil, errors.New("empty resource received")
	}
	return &ExtendedToken{
		Type:     typer,
		Resource: strings.TrimRight(resource, "/"),
		Token:    token,
	}, nil
}

// IsValid checks if the token is valid or if a refresh token exists to get a new token.
// Tokens that expire after the expirationDuration will be considered invalid. This is
// on the assumption that the validity period of tokens AND refresh tokens is known.
func (et *ExtendedToken) IsValid(expirationDuration time.Duration) bool {
	if et == nil || et.Token == nil {
		return false
	}
	if et.Token.Expiry.IsZero() {
		return false
	}
	projectedExpiry := time.Now().UTC().Add(-1 * expirationDuration)
	if !et.Token.Expiry.After(projectedExpiry) {
		return false
	}
	return et.Token.Valid() || et.Token.RefreshToken != ""
}

// ReuseOrRefresh attempts to use or refresh an ExtendedToken using the provided context
// and oauth2.Config. The config.TokenSource func automatically refreshes tokens when
// needed. The function returns whether refreshing occurred and any error.
func (et *ExtendedToken) ReuseOrRefresh(ctx context.Context, config *oauth2.Config) (bool, error) {
	var refreshed bool

	tok := config.TokenSource(ctx, et.Token)
	possibleNewToken, err := tok.Token()
	if err != nil {
		return refreshed, fmt.Errorf("could not reuse or refresh token: %w", err)
	}

	// Check if refreshing occured. If not, return early.
	if possibleNewToken.AccessToken == et.Token.AccessToken {
		return refreshed, nil
	}
	refreshed = true
	et.Token = possibleNewToken
	return refreshed, nil
}

// IsAppOnly reports whether the access token was issued to an application rather than
// to a signed in user.
func (et *ExtendedToken) IsAppOnly() bool {
	if et == nil || et.Token == nil {
		return false
	}
	return IsAppOnlyAccessToken(et.Token.AccessToken)
}

// Claims decodes the payload of a JWT access token without verifying its signature.
// Verification is the job of the resource server.
func Claims(accessToken string) (map[string]any, error) {
	claims := jwt.MapClaims{}
	_, _, err := claimsParser.ParseUnverified(accessToken, claims)
	// an unknown signing algorithm does not stop the claims being read
	if err != nil && !errors.Is(err, jwt.ErrTokenUnverifiable) {
		return nil, fmt.Errorf("could not read access token claims: %w", err)
	}
	return claims, nil
}

var claimsParser = jwt.NewParser(jwt.WithPaddingAllowed())

// IsAppOnlyAccessToken reports whether an access token carries application
// permissions: either idtyp is "app", or the token has roles but no delegated scopes.
func IsAppOnlyAccessToken(accessToken string) bool {
	claims, err := Claims(accessToken)
	if err != nil {
		return false
	}
	if idtyp, ok := claims["idtyp"].(string); ok {
		return idtyp == "app"
	}
	_, hasScp := claims["scp"]
	return !hasScp
}
