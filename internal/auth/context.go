package auth

import (
	"context"
	"errors"
)

// Identity is the authenticated caller.
type Identity struct {
	UserID   string
	Email    string
	FullName string
	Role     string
}

type ctxKey struct{}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func IdentityFrom(ctx context.Context) (Identity, error) {
	if id, ok := ctx.Value(ctxKey{}).(Identity); ok && id.UserID != "" {
		return id, nil
	}
	return Identity{}, errors.New("identity not in context")
}

func UserID(ctx context.Context) (string, error) {
	id, err := IdentityFrom(ctx)
	if err != nil {
		return "", errors.New("user_id not in context")
	}
	return id.UserID, nil
}

func Role(ctx context.Context) (string, error) {
	id, _ := IdentityFrom(ctx)
	if id.Role == "" {
		return "", errors.New("role not in context")
	}
	return id.Role, nil
}
