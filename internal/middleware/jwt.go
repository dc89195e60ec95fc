package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/dronexam-api/internal/models"
	appErrors "github.com/noah-isme/dronexam-api/pkg/errors"
	"github.com/noah-isme/dronexam-api/pkg/response"
)

const (
	// ContextPrincipalKey is the gin context key storing the caller principal.
	ContextPrincipalKey = "principal"
	// ContextPrincipalIDKey carries the principal id for request logging.
	ContextPrincipalIDKey = "principal_id"
)

// PrincipalVerifier validates bearer tokens.
type PrincipalVerifier interface {
	Verify(token string) (models.Principal, error)
}

// JWT protects routes by requiring a valid bearer token. Browsers cannot set
// headers on websocket upgrades, so GET requests may pass the token as the
// access_token query parameter instead.
func JWT(verifier PrincipalVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := bearerToken(c)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		principal, err := verifier.Verify(token)
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		SetPrincipal(c, principal)
		c.Next()
	}
}

// SetPrincipal stores principal on the request context.
func SetPrincipal(c *gin.Context, principal models.Principal) {
	c.Set(ContextPrincipalKey, principal)
	c.Set(ContextPrincipalIDKey, principal.ID)
}

// Principal returns the authenticated caller, if any.
func Principal(c *gin.Context) (models.Principal, bool) {
	value, exists := c.Get(ContextPrincipalKey)
	if !exists {
		return models.Principal{}, false
	}
	principal, ok := value.(models.Principal)
	return principal, ok
}

func bearerToken(c *gin.Context) (string, error) {
	header := c.GetHeader("Authorization")
	if header == "" {
		if token := c.Query("access_token"); token != "" && c.Request.Method == "GET" {
			return token, nil
		}
		return "", appErrors.ErrUnauthorized
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", appErrors.Clone(appErrors.ErrUnauthorized, "invalid authorization header")
	}
	return strings.TrimSpace(parts[1]), nil
}
