package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/uni-request-api/pkg/errors"
)

func TestAudienceMembersRoundTrip(t *testing.T) {
	ids, err := parseMembers([]string{"31", "20", "30"})
	require.NoError(t, err)
	assert.Equal(t, []int64{20, 30, 31}, ids)

	assert.Equal(t, []interface{}{"20", "30"}, formatMembers([]int64{20, 30}))
}

func TestAudienceEmptySetIsCached(t *testing.T) {
	members := formatMembers(nil)
	assert.Equal(t, []interface{}{emptyAudience}, members)

	ids, err := parseMembers([]string{emptyAudience})
	require.NoError(t, err)
	assert.Equal(t, []int64{}, ids)
}

func TestAudienceCorruptMember(t *testing.T) {
	_, err := parseMembers([]string{"12", "abc"})
	assert.Error(t, err)
}

func TestAudienceCacheWithoutClient(t *testing.T) {
	cache := NewAudienceCache(nil, "uni:")
	_, err := cache.Members(context.Background(), "recipients:ADMIN:all")
	assert.True(t, errors.Is(err, appErrors.ErrCacheMiss))
	assert.NoError(t, cache.Store(context.Background(), "recipients:ADMIN:all", []int64{1}, time.Minute))
}
