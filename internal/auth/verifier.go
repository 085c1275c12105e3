package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v4"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// ErrUnauthenticated is returned for every verification failure: missing or
// malformed tokens, bad signatures, expired claims, and key-feed outages. The
// caller must not learn which one it was.
var ErrUnauthenticated = errors.New("auth: unauthenticated")

// IsUnauthenticated reports whether err represents a verification failure.
func IsUnauthenticated(err error) bool {
	return errors.Is(err, ErrUnauthenticated)
}

// Verifier validates a raw identity token and extracts the stable identity it
// proves.
type Verifier interface {
	Verify(ctx context.Context, rawToken string) (uid string, err error)
}

// TokenVerifier verifies RS256-signed identity tokens against the configured
// project, consulting the verification cache first so a warm token costs no
// signature check or network round-trip.
type TokenVerifier struct {
	projectID string
	keys      *KeySource
	cache     *VerificationCache
	group     singleflight.Group
	parser    *jwt.Parser
}

// NewTokenVerifier constructs a verifier for tokens issued to projectID.
func NewTokenVerifier(projectID string, keys *KeySource, cache *VerificationCache) *TokenVerifier {
	return &TokenVerifier{
		projectID: projectID,
		keys:      keys,
		cache:     cache,
		parser:    jwt.NewParser(jwt.WithValidMethods([]string{"RS256"})),
	}
}

// Verify implements Verifier.
func (v *TokenVerifier) Verify(ctx context.Context, rawToken string) (string, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return "", fmt.Errorf("%w: empty token", ErrUnauthenticated)
	}

	digest := DigestToken(rawToken)
	if uid, ok, err := v.cache.Lookup(ctx, digest); err != nil {
		// A broken cache must not reject valid tokens; fall through to a full verification.
		log.Warnf("verification cache lookup failed: %v", err)
	} else if ok {
		log.Debug("verification cache hit")
		return uid, nil
	}

	// Collapse concurrent cold verifications of the same token.
	result, err, _ := v.group.Do(digest, func() (any, error) {
		uid, errVerify := v.verifyCold(ctx, rawToken)
		if errVerify != nil {
			return "", errVerify
		}
		if errStore := v.cache.Store(ctx, digest, uid); errStore != nil {
			log.Warnf("verification cache store failed: %v", errStore)
		}
		return uid, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// verifyCold performs the full signature and claim verification.
func (v *TokenVerifier) verifyCold(ctx context.Context, rawToken string) (string, error) {
	token, err := v.parser.Parse(rawToken, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, fmt.Errorf("token has no kid header")
		}
		return v.keys.PublicKey(ctx, kid)
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("%w: invalid claims", ErrUnauthenticated)
	}

	if !claims.VerifyAudience(v.projectID, true) {
		return "", fmt.Errorf("%w: audience mismatch", ErrUnauthenticated)
	}
	issuer := "https://securetoken.google.com/" + v.projectID
	if !claims.VerifyIssuer(issuer, true) {
		return "", fmt.Errorf("%w: issuer mismatch", ErrUnauthenticated)
	}
	uid, _ := claims["sub"].(string)
	if strings.TrimSpace(uid) == "" {
		return "", fmt.Errorf("%w: token has no subject", ErrUnauthenticated)
	}
	return uid, nil
}

// BearerToken extracts the credential from an Authorization header value.
// It returns ErrUnauthenticated when the header is absent.
func BearerToken(header string) (string, error) {
	if strings.TrimSpace(header) == "" {
		return "", fmt.Errorf("%w: authorization header is missing", ErrUnauthenticated)
	}
	token := header
	if len(header) >= 7 && strings.EqualFold(header[:7], "Bearer ") {
		token = header[7:]
	}
	return strings.TrimSpace(token), nil
}
