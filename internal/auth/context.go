package auth

import (
	"context"
	"errors"
)

type ctxKey struct{}

var ErrNoPrincipal = errors.New("principal not in context")

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func PrincipalFrom(ctx context.Context) (Principal, error) {
	if p, ok := ctx.Value(ctxKey{}).(Principal); ok && p.Valid() {
		return p, nil
	}
	return Principal{}, ErrNoPrincipal
}
