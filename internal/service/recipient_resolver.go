package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/uni-request-api/internal/models"
	appErrors "github.com/noah-isme/uni-request-api/pkg/errors"
)

type recipientDirectory interface {
	ListActiveIDsByRoles(ctx context.Context, roles []models.UserRole, facultyID *int64) ([]int64, error)
}

// RecipientResolver turns role/faculty audiences into concrete user ids.
type RecipientResolver struct {
	directory recipientDirectory
	cache     *CacheService
	logger    *zap.Logger
}

// NewRecipientResolver constructs the resolver. cache may be nil.
func NewRecipientResolver(directory recipientDirectory, cache *CacheService, logger *zap.Logger) *RecipientResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecipientResolver{directory: directory, cache: cache, logger: logger}
}

// ResolveRecipients returns the sorted, de-duplicated ids of active users
// holding any of the roles, limited to facultyScope when it is set.
func (r *RecipientResolver) ResolveRecipients(ctx context.Context, roles []models.UserRole, facultyScope *int64) ([]int64, error) {
	roles = normalizeRoles(roles)
	if len(roles) == 0 {
		return nil, nil
	}
	key := recipientCacheKey(roles, facultyScope)

	if cached, ok := r.cache.Lookup(ctx, key); ok {
		return cached, nil
	}
	return r.load(ctx, key, roles, facultyScope)
}

// ResolveActiveRecipients reads the audience from the directory, skipping any
// cached set, and refreshes the cache with the result.
func (r *RecipientResolver) ResolveActiveRecipients(ctx context.Context, roles []models.UserRole, facultyScope *int64) ([]int64, error) {
	roles = normalizeRoles(roles)
	if len(roles) == 0 {
		return nil, nil
	}
	return r.load(ctx, recipientCacheKey(roles, facultyScope), roles, facultyScope)
}

func (r *RecipientResolver) load(ctx context.Context, key string, roles []models.UserRole, facultyScope *int64) ([]int64, error) {
	ids, err := r.directory.ListActiveIDsByRoles(ctx, roles, facultyScope)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve recipients")
	}
	ids = uniqueIDs(ids)
	r.logger.Debug("recipients resolved", zap.String("key", key), zap.Int("count", len(ids)))
	r.cache.Remember(ctx, key, ids)
	return ids, nil
}

func normalizeRoles(roles []models.UserRole) []models.UserRole {
	seen := make(map[models.UserRole]struct{}, len(roles))
	out := make([]models.UserRole, 0, len(roles))
	for _, role := range roles {
		if _, ok := seen[role]; ok || role == "" {
			continue
		}
		seen[role] = struct{}{}
		out = append(out, role)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func recipientCacheKey(roles []models.UserRole, facultyScope *int64) string {
	names := make([]string, len(roles))
	for i, role := range roles {
		names[i] = string(role)
	}
	scope := "all"
	if facultyScope != nil {
		scope = fmt.Sprintf("faculty:%d", *facultyScope)
	}
	return fmt.Sprintf("recipients:%s:%s", strings.Join(names, ","), scope)
}

func uniqueIDs(ids []int64) []int64 {
	if len(ids) == 0 {
		return []int64{}
	}
	out := append([]int64(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	n := 1
	for i := 1; i < len(out); i++ {
		if out[i] != out[n-1] {
			out[n] = out[i]
			n++
		}
	}
	return out[:n]
}

// excludeID drops one id from a recipient set.
func excludeID(ids []int64, id int64) []int64 {
	out := make([]int64, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
