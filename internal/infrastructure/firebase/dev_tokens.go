package firebase

import (
	"context"
	"fmt"
	"strings"

	"agromarket/internal/domain/entity"
)

const devTokenPrefix = "dev:"

// DevTokenVerifier accepts tokens of the form "dev:<uid>" or
// "dev:<uid>:<display name>". It is only wired for the in-memory backend
// outside production.
type DevTokenVerifier struct{}

func (DevTokenVerifier) VerifyToken(ctx context.Context, token string) (entity.Identity, error) {
	if !strings.HasPrefix(token, devTokenPrefix) {
		return entity.Identity{}, fmt.Errorf("not a development token")
	}
	parts := strings.SplitN(strings.TrimPrefix(token, devTokenPrefix), ":", 2)
	uid := strings.TrimSpace(parts[0])
	if uid == "" {
		return entity.Identity{}, fmt.Errorf("development token without uid")
	}

	identity := entity.Identity{UID: uid}
	if len(parts) == 2 {
		identity.DisplayName = strings.TrimSpace(parts[1])
	}
	return identity, nil
}

// TestConnection always succeeds; there is nothing to reach.
func (DevTokenVerifier) TestConnection(ctx context.Context) error {
	return nil
}
