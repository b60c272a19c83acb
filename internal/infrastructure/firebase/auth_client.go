package firebase

import (
	"context"

	"firebase.google.com/go/v4/auth"
	"google.golang.org/api/iterator"

	"agromarket/internal/domain/entity"
)

type FirebaseAuthClient struct {
	client *auth.Client
}

func NewFirebaseAuthClient(client *auth.Client) *FirebaseAuthClient {
	return &FirebaseAuthClient{
		client: client,
	}
}

// VerifyToken checks a Firebase ID token and returns the identity it was
// issued for.
func (f *FirebaseAuthClient) VerifyToken(ctx context.Context, token string) (entity.Identity, error) {
	result, err := f.client.VerifyIDToken(ctx, token)
	if err != nil {
		return entity.Identity{}, err
	}

	identity := entity.Identity{UID: result.UID}
	if name, ok := result.Claims["name"].(string); ok {
		identity.DisplayName = name
	}
	if email, ok := result.Claims["email"].(string); ok {
		identity.Email = email
	}
	return identity, nil
}

// TestConnection lists a single user to confirm the admin credentials work.
func (f *FirebaseAuthClient) TestConnection(ctx context.Context) error {
	_, err := f.client.Users(ctx, "").Next()
	if err == iterator.Done {
		return nil
	}
	return err
}
