package crypto

import "github.com/golang-jwt/jwt/v5"

// CallerClaims carries the identity a gateway minted for a callable request.
// Roles inside the token are informational only: authorization always
// resolves the caller's role from the user document.
type CallerClaims struct {
	jwt.RegisteredClaims
	Email     string `json:"email,omitempty"`
	ActorType string `json:"actor_type,omitempty"`
}

func (c *CallerClaims) GetActorType() string {
	if c.ActorType == "" {
		return "human"
	}
	return c.ActorType
}
