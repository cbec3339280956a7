package tokens

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/mailcrm/internal/resilience"
)

func TestTokenValid(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("empty token invalid", func(t *testing.T) {
		assert.False(t, Token{}.Valid(now))
	})

	t.Run("static token always valid", func(t *testing.T) {
		assert.True(t, Token{Value: "tok"}.Valid(now))
	})

	t.Run("unexpired token valid", func(t *testing.T) {
		tok := Token{Value: "tok", ExpiresAt: now.Add(time.Hour)}
		assert.True(t, tok.Valid(now))
	})

	t.Run("expired token invalid", func(t *testing.T) {
		tok := Token{Value: "tok", ExpiresAt: now.Add(-time.Minute)}
		assert.False(t, tok.Valid(now))
	})

	t.Run("token inside skew window invalid", func(t *testing.T) {
		tok := Token{Value: "tok", ExpiresAt: now.Add(10 * time.Second)}
		assert.False(t, tok.Valid(now))
	})
}

func TestAccessToken_CachesUntilExpiry(t *testing.T) {
	var calls int32
	cache := NewCache(func(ctx context.Context, userID string) (Token, error) {
		atomic.AddInt32(&calls, 1)
		return Token{Value: "tok-1", ExpiresAt: time.Now().Add(time.Hour)}, nil
	})

	for i := 0; i < 3; i++ {
		tok, err := cache.AccessToken(context.Background(), "blake")
		require.NoError(t, err)
		assert.Equal(t, "tok-1", tok)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestAccessToken_RefreshesExpired(t *testing.T) {
	var calls int32
	cache := NewCache(func(ctx context.Context, userID string) (Token, error) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			return Token{Value: "tok-old", ExpiresAt: time.Now().Add(time.Second)}, nil
		}
		return Token{Value: "tok-new", ExpiresAt: time.Now().Add(time.Hour)}, nil
	})

	tok, err := cache.AccessToken(context.Background(), "blake")
	require.NoError(t, err)
	assert.Equal(t, "tok-old", tok)

	// Inside the skew window the old token counts as expired.
	tok, err = cache.AccessToken(context.Background(), "blake")
	require.NoError(t, err)
	assert.Equal(t, "tok-new", tok)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestAccessToken_SingleFlightPerUser(t *testing.T) {
	var calls int32
	started := make(chan struct{})
	release := make(chan struct{})
	cache := NewCache(func(ctx context.Context, userID string) (Token, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(started)
			<-release
		}
		return Token{Value: "tok", ExpiresAt: time.Now().Add(time.Hour)}, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := cache.AccessToken(context.Background(), "blake")
			assert.NoError(t, err)
			assert.Equal(t, "tok", tok)
		}()
	}

	<-started
	close(release)
	wg.Wait()

	// All five callers shared the one in-flight refresh.
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestAccessToken_DistinctUsersIndependent(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]int{}
	cache := NewCache(func(ctx context.Context, userID string) (Token, error) {
		mu.Lock()
		seen[userID]++
		mu.Unlock()
		return Token{Value: "tok-" + userID, ExpiresAt: time.Now().Add(time.Hour)}, nil
	})

	tokA, err := cache.AccessToken(context.Background(), "alice")
	require.NoError(t, err)
	tokB, err := cache.AccessToken(context.Background(), "bob")
	require.NoError(t, err)

	assert.Equal(t, "tok-alice", tokA)
	assert.Equal(t, "tok-bob", tokB)
	assert.Equal(t, 1, seen["alice"])
	assert.Equal(t, 1, seen["bob"])
}

func TestAccessToken_RefreshError(t *testing.T) {
	cache := NewCache(func(ctx context.Context, userID string) (Token, error) {
		return Token{}, eris.New("provider unavailable")
	})

	_, err := cache.AccessToken(context.Background(), "blake")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tokens: refresh")
}

func TestAccessToken_EmptyTokenIsConfigError(t *testing.T) {
	cache := NewCache(func(ctx context.Context, userID string) (Token, error) {
		return Token{}, nil
	})

	_, err := cache.AccessToken(context.Background(), "blake")
	require.Error(t, err)
	assert.True(t, resilience.IsConfig(err))
}

func TestAccessToken_NoRefreshFunc(t *testing.T) {
	cache := NewCache(nil)
	_, err := cache.AccessToken(context.Background(), "blake")
	require.Error(t, err)
	assert.True(t, resilience.IsConfig(err))
}

func TestInvalidate_ForcesRefresh(t *testing.T) {
	var calls int32
	cache := NewCache(func(ctx context.Context, userID string) (Token, error) {
		atomic.AddInt32(&calls, 1)
		return Token{Value: "tok", ExpiresAt: time.Now().Add(time.Hour)}, nil
	})

	_, err := cache.AccessToken(context.Background(), "blake")
	require.NoError(t, err)
	cache.Invalidate("blake")
	_, err = cache.AccessToken(context.Background(), "blake")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestStaticTokens(t *testing.T) {
	refresh := StaticTokens(map[string]string{"blake": "tok-static"})

	tok, err := refresh(context.Background(), "blake")
	require.NoError(t, err)
	assert.Equal(t, "tok-static", tok.Value)
	assert.True(t, tok.ExpiresAt.IsZero())

	_, err = refresh(context.Background(), "stranger")
	require.Error(t, err)
	assert.True(t, resilience.IsConfig(err))
}
