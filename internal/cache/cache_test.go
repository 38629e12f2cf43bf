package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func useMiniredis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := NewClient(mr.Addr())
	require.NoError(t, err)
	SetClient(c)
	t.Cleanup(func() {
		SetClient(nil)
		_ = c.Close()
	})
	return mr
}

type page struct {
	Items []string `json:"items"`
}

func TestAside_FetchesOnceThenServesFromCache(t *testing.T) {
	mr := useMiniredis(t)
	ctx := context.Background()

	calls := 0
	fetch := func(dest *page) func() error {
		return func() error {
			calls++
			dest.Items = []string{"a", "b"}
			return nil
		}
	}

	var first page
	require.NoError(t, Aside(ctx, PublicPostsKey(1, 10), &first, PublicPostsTTL, fetch(&first)))
	var second page
	require.NoError(t, Aside(ctx, PublicPostsKey(1, 10), &second, PublicPostsTTL, fetch(&second)))

	assert.Equal(t, 1, calls)
	assert.Equal(t, []string{"a", "b"}, second.Items)
	assert.Equal(t, PublicPostsTTL, mr.TTL("posts:public:1:10"))
}

func TestAside_FetchErrorIsNotCached(t *testing.T) {
	mr := useMiniredis(t)

	var dest page
	err := Aside(context.Background(), "k", &dest, time.Minute, func() error { return errors.New("db down") })
	assert.Error(t, err)
	assert.False(t, mr.Exists("k"))
}

func TestAside_WithoutClientCallsFetch(t *testing.T) {
	SetClient(nil)
	calls := 0
	var dest page
	require.NoError(t, Aside(context.Background(), "k", &dest, time.Minute, func() error {
		calls++
		return nil
	}))
	assert.Equal(t, 1, calls)
}

func TestInvalidatePosts_DropsListingsAndPost(t *testing.T) {
	mr := useMiniredis(t)
	for _, k := range []string{"posts:public:1:10", "posts:public:2:10", "post:public:7", "post:public:8", "unrelated"} {
		require.NoError(t, mr.Set(k, "x"))
	}

	InvalidatePosts(context.Background(), 7)

	assert.False(t, mr.Exists("posts:public:1:10"))
	assert.False(t, mr.Exists("posts:public:2:10"))
	assert.False(t, mr.Exists("post:public:7"))
	assert.True(t, mr.Exists("post:public:8"))
	assert.True(t, mr.Exists("unrelated"))
}

func TestNewClient_ParsesURL(t *testing.T) {
	c, err := NewClient("redis://localhost:6390/2")
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, "localhost:6390", c.Options().Addr)
	assert.Equal(t, 2, c.Options().DB)

	_, err = NewClient("redis://%zz")
	assert.Error(t, err)
}

func TestInitRedis_UnreachableLeavesClientNil(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	InitRedis(addr)
	assert.Nil(t, GetClient())
}
