package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const claimsKey = "claims"

// ErrNoToken is returned by FromRequest when no bearer credentials are sent.
var ErrNoToken = errors.New("missing bearer token")

// Verifier checks bearer tokens issued by Issue with one key and issuer.
type Verifier struct {
	key    string
	issuer string
}

func NewVerifier(key, issuer string) *Verifier {
	return &Verifier{key: key, issuer: issuer}
}

// FromRequest returns the claims of the request's bearer token.
func (v *Verifier) FromRequest(r *http.Request) (Claims, error) {
	const prefix = "bearer "
	authz := r.Header.Get("Authorization")
	if len(authz) <= len(prefix) || !strings.EqualFold(authz[:len(prefix)], prefix) {
		return Claims{}, ErrNoToken
	}
	return Parse(strings.TrimSpace(authz[len(prefix):]), v.key, v.issuer)
}

// Require admits requests carrying a valid token for one of roles and stores
// its claims on the context. Failures follow RFC 6750: 401 for missing or
// bad tokens, 403 for a role outside roles.
func (v *Verifier) Require(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := v.FromRequest(c.Request)
		switch {
		case errors.Is(err, ErrNoToken):
			c.Header("WWW-Authenticate", `Bearer realm="`+v.realm()+`"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		case err != nil:
			msg := "invalid token"
			if errors.Is(err, jwt.ErrTokenExpired) {
				msg = "token expired"
			}
			c.Header("WWW-Authenticate", `Bearer realm="`+v.realm()+`", error="invalid_token", error_description="`+msg+`"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
			return
		}
		if !hasRole(claims.Role, roles) {
			c.Header("WWW-Authenticate", `Bearer realm="`+v.realm()+`", error="insufficient_scope"`)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

func (v *Verifier) realm() string {
	if v.issuer == "" {
		return "api"
	}
	return v.issuer
}

func hasRole(role string, roles []string) bool {
	for _, r := range roles {
		if role == r {
			return true
		}
	}
	return false
}

// ClaimsFrom returns the claims stored by Require.
func ClaimsFrom(c *gin.Context) (Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return Claims{}, false
	}
	claims, ok := v.(Claims)
	return claims, ok
}
