package identity

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/eyesofbreath/xray-api/internal/platform/apperr"
	"github.com/eyesofbreath/xray-api/internal/platform/auth"
	"github.com/eyesofbreath/xray-api/internal/platform/db"
)

// OwnedLookup fetches a resource filtered by both its id and ownerID. It
// returns db.ErrNotFound when no row matches the pair.
type OwnedLookup func(ctx context.Context, ownerID uuid.UUID) error

// Guard resolves the calling principal and checks ownership of resources.
type Guard struct {
	principals PrincipalRepository
	cache      *cache.Cache
}

func NewGuard(principals PrincipalRepository, ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Guard{principals: principals, cache: cache.New(ttl, 2*ttl)}
}

// ResolvePrincipal maps the authenticated subject on ctx to an account.
func (g *Guard) ResolvePrincipal(ctx context.Context) (*Principal, error) {
	email := auth.SubjectFromContext(ctx)
	if email == "" {
		return nil, apperr.Authorization("no authenticated session")
	}

	if v, ok := g.cache.Get(email); ok {
		p := *v.(*Principal)
		return &p, nil
	}

	p, err := g.principals.GetByEmail(ctx, email)
	if errors.Is(err, db.ErrNotFound) {
		return nil, apperr.Authorization("unknown account")
	}
	if err != nil {
		return nil, apperr.Persistence("resolve principal", err)
	}

	g.cache.Set(email, p, cache.DefaultExpiration)
	cp := *p
	return &cp, nil
}

// RequireOwner runs lookup scoped to principal. A resource that is missing and
// one owned by someone else are indistinguishable to the caller.
func (g *Guard) RequireOwner(ctx context.Context, principal *Principal, lookup OwnedLookup) error {
	if principal == nil {
		return apperr.Authorization("no authenticated session")
	}
	err := lookup(ctx, principal.ID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, db.ErrNotFound):
		return apperr.Authorization("resource does not exist or is not owned by the caller")
	case apperr.KindOf(err) != 0:
		return err
	default:
		return apperr.Persistence("ownership lookup", err)
	}
}
