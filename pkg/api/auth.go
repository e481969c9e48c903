package api

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/auth0/go-jwt-middleware/v2/jwks"
	"github.com/auth0/go-jwt-middleware/v2/validator"
	"github.com/gofiber/fiber/v2"
	"github.com/parcelwatch/parcelwatch/pkg/api/routes"
	"github.com/parcelwatch/parcelwatch/pkg/util"
)

type tokenValidator interface {
	ValidateToken(ctx context.Context, tokenString string) (interface{}, error)
}

// CustomClaims contains custom data we want from the token.
type CustomClaims struct {
	Scope string `json:"scope"`
}

func (c CustomClaims) Validate(ctx context.Context) error {
	return nil
}

func newAuth0Validator(domain string, audience string) (*validator.Validator, error) {
	issuerURL, err := url.Parse("https://" + domain + "/")
	if err != nil {
		return nil, fmt.Errorf("parsing issuer url: %w", err)
	}

	provider := jwks.NewCachingProvider(issuerURL, 5*time.Minute)

	return validator.New(
		provider.KeyFunc,
		validator.RS256,
		issuerURL.String(),
		[]string{audience},
		validator.WithCustomClaims(
			func() validator.CustomClaims {
				return &CustomClaims{}
			},
		),
		validator.WithAllowedClockSkew(time.Minute),
	)
}

// OperatorAuthFromEnvironment guards operator routes with Auth0 issued JWTs
// when PARCELWATCH_AUTH0_DOMAIN is set, otherwise with the static
// PARCELWATCH_ADMIN_TOKEN. With neither set the routes are open.
func OperatorAuthFromEnvironment() (fiber.Handler, error) {
	env := util.GetEnvironmentVariables()

	var jwtValidator tokenValidator
	if env["PARCELWATCH_AUTH0_DOMAIN"] != "" {
		auth0Validator, err := newAuth0Validator(env["PARCELWATCH_AUTH0_DOMAIN"], env["PARCELWATCH_AUTH0_AUDIENCE"])
		if err != nil {
			return nil, err
		}
		jwtValidator = auth0Validator
	}

	return NewOperatorAuth(jwtValidator, env["PARCELWATCH_ADMIN_TOKEN"]), nil
}

func unauthorized(c *fiber.Ctx, message string) error {
	c.SendStatus(fiber.StatusUnauthorized)
	return c.JSON(fiber.Map{
		"error": message,
	})
}

func NewOperatorAuth(jwtValidator tokenValidator, adminToken string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if jwtValidator == nil && adminToken == "" {
			c.Locals(routes.ActorLocal, "operator")
			return c.Next()
		}

		authHeader := c.Get(fiber.HeaderAuthorization)
		token, found := strings.CutPrefix(authHeader, "Bearer ")
		if authHeader == "" || !found {
			return unauthorized(c, "Authorization header is required")
		}

		if jwtValidator != nil {
			claimsI, err := jwtValidator.ValidateToken(c.UserContext(), token)
			if err == nil {
				subject := "operator"
				if claims, ok := claimsI.(*validator.ValidatedClaims); ok && claims.RegisteredClaims.Subject != "" {
					subject = claims.RegisteredClaims.Subject
				}

				c.Locals(routes.ActorLocal, subject)
				return c.Next()
			}
		}

		if adminToken != "" && subtle.ConstantTimeCompare([]byte(token), []byte(adminToken)) == 1 {
			c.Locals(routes.ActorLocal, "admin")
			return c.Next()
		}

		return unauthorized(c, "Invalid auth token")
	}
}
