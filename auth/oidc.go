package auth

import (
	"context"
	"errors"

	"github.com/chathub-io/chathub/config"
	"github.com/chathub-io/chathub/globals"
	"github.com/coreos/go-oidc/v3/oidc"
)

// ErrUnauthenticated is returned whenever a token does not resolve to a user
// identity, for whatever reason. Connection handlers map it to a deny close.
var ErrUnauthenticated = errors.New("unauthenticated")

// Resolve verifies the given OIDC ID token against the named provider from the
// configuration and returns the authenticated user id (the token's email claim).
func Resolve(ctx context.Context, idToken, providerName string, cfg *config.Config) (string, error) {
	if idToken == "" || len(cfg.OIDCConfigs) == 0 {
		return "", ErrUnauthenticated
	}
	var oidcConf *config.OIDCConfig
	for i := range cfg.OIDCConfigs {
		if cfg.OIDCConfigs[i].Name == providerName {
			oidcConf = &cfg.OIDCConfigs[i]
			break
		}
	}
	if oidcConf == nil {
		globals.AppLogger.Debug("no oidc config found for provider", "provider", providerName)
		return "", ErrUnauthenticated
	}
	provider, err := oidc.NewProvider(ctx, oidcConf.ProviderUrl)
	if err != nil {
		return "", err
	}
	conf := oidc.Config{}
	if oidcConf.ClientId == "" {
		conf.SkipClientIDCheck = true
	} else {
		conf.ClientID = oidcConf.ClientId
	}
	verifiedToken, err := provider.Verifier(&conf).Verify(ctx, idToken)
	if err != nil {
		globals.AppLogger.Debug("token verification failed", "error", err)
		return "", ErrUnauthenticated
	}

	claims := struct {
		Email string `json:"email"`
	}{}
	if err := verifiedToken.Claims(&claims); err != nil {
		return "", err
	}
	if claims.Email == "" {
		return "", ErrUnauthenticated
	}
	return claims.Email, nil
}
