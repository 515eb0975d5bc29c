package blob

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runlet/engine/common/redis"
)

type testLogger struct{}

func (testLogger) Info(msg string, keysAndValues ...interface{})  {}
func (testLogger) Error(msg string, keysAndValues ...interface{}) {}
func (testLogger) Warn(msg string, keysAndValues ...interface{})  {}
func (testLogger) Debug(msg string, keysAndValues ...interface{}) {}

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}), testLogger{})
	store := NewRedis(RedisStoreOpts{
		Redis:     client,
		Presigner: NewPresigner("test-secret", "http://blobs.test", 0, 0),
		MaxBytes:  1 << 20,
		Logger:    testLogger{},
	})
	return store, mr
}

func stores(t *testing.T) map[string]Store {
	redisStore, _ := newRedisStore(t)
	return map[string]Store{
		"memory": NewMemory(nil),
		"redis":  redisStore,
	}
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	payload := []byte("\x89PNG\r\n\x1a\nfake image bytes")

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ref, err := store.Write(ctx, payload, "image/png", WriteOptions{
				Filename:       "pic.png",
				OrganizationID: "org-1",
				ExecutionID:    "exec-1",
			})
			require.NoError(t, err)
			require.NotEmpty(t, ref.ID)
			assert.Equal(t, "image/png", ref.MimeType)
			assert.Equal(t, "pic.png", ref.Filename)

			data, meta, err := store.Read(ctx, ref.ID)
			require.NoError(t, err)
			assert.Equal(t, payload, data)
			assert.Equal(t, int64(len(payload)), meta.Size)
			assert.Equal(t, "org-1", meta.OrganizationID)
			assert.Equal(t, "exec-1", meta.ExecutionID)

			stat, err := store.Stat(ctx, ref.ID)
			require.NoError(t, err)
			assert.Equal(t, ref.ID, stat.ID)
		})
	}
}

func TestStoreUnknownID(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, _, err := store.Read(ctx, "no-such-object")
			var notFound *NotFoundError
			require.ErrorAs(t, err, &notFound)
			assert.Equal(t, "no-such-object", notFound.ID)

			_, err = store.Stat(ctx, "no-such-object")
			require.ErrorAs(t, err, &notFound)

			_, err = store.Presign(ctx, "no-such-object", 0)
			require.ErrorAs(t, err, &notFound)
		})
	}
}

func TestStoreDefaultMimeType(t *testing.T) {
	ctx := context.Background()
	store := NewMemory(nil)

	ref, err := store.Write(ctx, []byte("raw"), "", WriteOptions{})
	require.NoError(t, err)
	assert.Equal(t, DefaultMimeType, ref.MimeType)
}

func TestStoreWriteGeneratesUniqueIDs(t *testing.T) {
	ctx := context.Background()
	store := NewMemory(nil)

	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		ref, err := store.Write(ctx, []byte(fmt.Sprintf("payload-%d", i)), "text/plain", WriteOptions{})
		require.NoError(t, err)
		require.False(t, seen[ref.ID], "duplicate object id %s", ref.ID)
		seen[ref.ID] = true
	}
}

func TestRedisStoreSizeLimit(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}), testLogger{})
	store := NewRedis(RedisStoreOpts{
		Redis:     client,
		Presigner: NewPresigner("s", "http://blobs.test", 0, 0),
		MaxBytes:  8,
	})

	_, err := store.Write(ctx, []byte("way over the eight byte limit"), "text/plain", WriteOptions{})
	require.Error(t, err)
}

func TestRedisStoreKeyLayout(t *testing.T) {
	ctx := context.Background()
	store, mr := newRedisStore(t)

	ref, err := store.Write(ctx, []byte("hello"), "text/plain", WriteOptions{})
	require.NoError(t, err)

	require.True(t, mr.Exists("objects/"+ref.ID+"/object.data"))
	require.True(t, mr.Exists("objects/"+ref.ID+"/object.meta"))
}

func TestPresignVerify(t *testing.T) {
	p := NewPresigner("secret", "http://blobs.test", time.Hour, MaxPresignExpiry)

	signed := p.URL("obj-1", 0)
	u, err := url.Parse(signed)
	require.NoError(t, err)
	assert.Equal(t, "/objects/obj-1", u.Path)

	expires, err := strconv.ParseInt(u.Query().Get("expires"), 10, 64)
	require.NoError(t, err)
	sig := u.Query().Get("sig")

	require.NoError(t, p.Verify("obj-1", expires, sig))

	// Tampered object id fails verification.
	require.Error(t, p.Verify("obj-2", expires, sig))
	// Tampered expiry fails verification.
	require.Error(t, p.Verify("obj-1", expires+1, sig))

	// Another presigner with a different secret rejects the signature.
	other := NewPresigner("other-secret", "http://blobs.test", time.Hour, MaxPresignExpiry)
	require.Error(t, other.Verify("obj-1", expires, sig))
}

func TestPresignExpiryBounds(t *testing.T) {
	p := NewPresigner("secret", "http://blobs.test", time.Hour, MaxPresignExpiry)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	parseExpires := func(raw string) int64 {
		u, err := url.Parse(raw)
		require.NoError(t, err)
		expires, err := strconv.ParseInt(u.Query().Get("expires"), 10, 64)
		require.NoError(t, err)
		return expires
	}

	// Zero expiry falls back to the one hour default.
	assert.Equal(t, now.Add(time.Hour).Unix(), parseExpires(p.URL("obj", 0)))

	// Requests beyond the maximum clamp to seven days.
	assert.Equal(t, now.Add(MaxPresignExpiry).Unix(), parseExpires(p.URL("obj", 30*24*time.Hour)))

	// Expired URLs fail verification.
	expires := now.Add(-time.Minute).Unix()
	sig := p.sign("obj", expires)
	require.Error(t, p.Verify("obj", expires, sig))
}

func TestRefFromValue(t *testing.T) {
	ref := Ref{ID: "abc", MimeType: "image/png", Filename: "a.png"}

	got, ok := RefFromValue(ref)
	require.True(t, ok)
	assert.Equal(t, ref, got)

	got, ok = RefFromValue(&ref)
	require.True(t, ok)
	assert.Equal(t, ref, got)

	// The JSON-decoded shape.
	got, ok = RefFromValue(map[string]any{"id": "abc", "mime_type": "image/png", "filename": "a.png"})
	require.True(t, ok)
	assert.Equal(t, ref, got)

	_, ok = RefFromValue(map[string]any{"id": "abc"})
	assert.False(t, ok)
	_, ok = RefFromValue("not a ref")
	assert.False(t, ok)
	_, ok = RefFromValue((*Ref)(nil))
	assert.False(t, ok)
}
