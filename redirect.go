package authclient

import (
	"context"
	"errors"
)

var errNoRedirectOrigin = errors.New("no origin available for the reset redirect")

// resetRedirectURL computes the link target embedded in password-reset
// emails: <origin><RedirectPath>. Deployed environments always use the
// canonical origin, whatever the request claims to be. Local and development
// environments use the current origin, from ctx first and then from config.
func resetRedirectURL(ctx context.Context, cfg Config) (string, error) {
	origin, err := redirectOrigin(ctx, cfg.Deployment)
	if err != nil {
		return "", err
	}
	return origin + cfg.Recovery.RedirectPath, nil
}

func redirectOrigin(ctx context.Context, d DeploymentConfig) (string, error) {
	candidates := []string{d.CanonicalOrigin}
	if isLocalDeployment(d.Environment) {
		current := currentOriginFromContext(ctx)
		if current == "" {
			current = d.CurrentOrigin
		}
		candidates = []string{current, d.CanonicalOrigin}
	}
	for _, c := range candidates {
		if c == "" {
			continue
		}
		u, err := parseOrigin(c)
		if err != nil {
			continue
		}
		return u.String(), nil
	}
	return "", errNoRedirectOrigin
}

// isLocalDeployment reports whether the current origin may stand in for the
// canonical one. The origin itself is never trusted to decide: in the example
// host it comes from the Host header.
func isLocalDeployment(environment string) bool {
	switch environment {
	case EnvironmentDevelopment, EnvironmentLocal:
		return true
	}
	return false
}
