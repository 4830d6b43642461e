package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	sqlite "github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

type counterRecord struct {
	Count int    `json:"count"`
	Label string `json:"label"`
}

func (r counterRecord) Validate() error {
	if r.Count < 0 {
		return errors.New("count must not be negative")
	}
	return nil
}

type failingBackend struct {
	loadErr error
	saveErr error
	saves   int
}

func (b *failingBackend) Load(context.Context, string) ([]byte, error) {
	return nil, b.loadErr
}

func (b *failingBackend) Save(context.Context, string, []byte) error {
	b.saves++
	return b.saveErr
}

func newMemoryStore(t *testing.T) (*Store, *MemoryBackend) {
	t.Helper()
	backend := NewMemoryBackend()
	s, err := New(backend, zap.NewNop())
	require.NoError(t, err)
	return s, backend
}

func TestReadMissingKeyPersistsDefault(t *testing.T) {
	s, backend := newMemoryStore(t)
	ctx := context.Background()

	value := Read(ctx, s, "counter:a", counterRecord{Count: 3, Label: "default"})
	require.Equal(t, counterRecord{Count: 3, Label: "default"}, value)

	payload, err := backend.Load(ctx, "counter:a")
	require.NoError(t, err)
	require.JSONEq(t, `{"count":3,"label":"default"}`, string(payload))
}

func TestReadReturnsStoredValue(t *testing.T) {
	s, _ := newMemoryStore(t)
	ctx := context.Background()

	Write(ctx, s, "counter:b", counterRecord{Count: 7, Label: "stored"})
	value := Read(ctx, s, "counter:b", counterRecord{})
	require.Equal(t, 7, value.Count)
	require.Equal(t, "stored", value.Label)
}

func TestReadHealsUndecodablePayload(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	backend := NewMemoryBackend()
	s, err := New(backend, zap.New(core))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, backend.Save(ctx, "counter:c", []byte("{not json")))

	value := Read(ctx, s, "counter:c", counterRecord{Label: "fresh"})
	require.Equal(t, "fresh", value.Label)

	payload, err := backend.Load(ctx, "counter:c")
	require.NoError(t, err)
	require.JSONEq(t, `{"count":0,"label":"fresh"}`, string(payload))

	entries := logs.FilterMessage("store record replaced with default").All()
	require.Len(t, entries, 1)
	require.Equal(t, zapcore.WarnLevel, entries[0].Level)
}

func TestReadHealsShapeInvalidPayload(t *testing.T) {
	s, backend := newMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, backend.Save(ctx, "counter:d", []byte(`{"count":-4,"label":"bad"}`)))

	value := Read(ctx, s, "counter:d", counterRecord{Count: 1})
	require.Equal(t, counterRecord{Count: 1}, value)

	healed := Read(ctx, s, "counter:d", counterRecord{Count: 99})
	require.Equal(t, 1, healed.Count, "the healed baseline should now be served")
}

func TestReadDoesNotOverwriteWhenBackendUnavailable(t *testing.T) {
	backend := &failingBackend{loadErr: errors.New("disk offline")}
	s, err := New(backend, zap.NewNop())
	require.NoError(t, err)

	value := Read(context.Background(), s, "counter:e", counterRecord{Count: 2})
	require.Equal(t, 2, value.Count)
	require.Zero(t, backend.saves)
}

func TestLookupReportsAbsenceAndCorruption(t *testing.T) {
	s, backend := newMemoryStore(t)
	ctx := context.Background()

	_, found := Lookup[counterRecord](ctx, s, "counter:f")
	require.False(t, found)

	require.NoError(t, backend.Save(ctx, "counter:f", []byte(`{"count":-1}`)))
	_, found = Lookup[counterRecord](ctx, s, "counter:f")
	require.False(t, found)

	payload, err := backend.Load(ctx, "counter:f")
	require.NoError(t, err)
	require.Equal(t, `{"count":-1}`, string(payload), "lookup must not rewrite records")

	Write(ctx, s, "counter:f", counterRecord{Count: 5})
	value, found := Lookup[counterRecord](ctx, s, "counter:f")
	require.True(t, found)
	require.Equal(t, 5, value.Count)
}

func TestWriteSwallowsAndLogsFailures(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	backend := &failingBackend{saveErr: errors.New("quota exceeded")}
	s, err := New(backend, zap.New(core))
	require.NoError(t, err)

	Write(context.Background(), s, "counter:g", counterRecord{Count: 1})

	require.Equal(t, 1, backend.saves)
	entries := logs.FilterMessage("store write failed").All()
	require.Len(t, entries, 1)
	require.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	require.Equal(t, "save_failed", entries[0].ContextMap()["reason"])
}

func TestGormBackendRoundTrip(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:store_gorm_backend?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Record{}))

	clockNow := time.Unix(1700000000, 0)
	backend, err := NewGormBackend(db, func() time.Time { return clockNow })
	require.NoError(t, err)
	s, err := New(backend, zap.NewNop())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = backend.Load(ctx, "counter:h")
	require.ErrorIs(t, err, ErrKeyNotFound)

	Write(ctx, s, "counter:h", counterRecord{Count: 1})
	clockNow = clockNow.Add(time.Minute)
	Write(ctx, s, "counter:h", counterRecord{Count: 2})

	value := Read(ctx, s, "counter:h", counterRecord{})
	require.Equal(t, 2, value.Count)

	var stored Record
	require.NoError(t, db.Where("record_key = ?", "counter:h").Take(&stored).Error)
	require.Equal(t, clockNow.Unix(), stored.UpdatedAtSeconds)
}

func TestKeysAreNamespaced(t *testing.T) {
	require.Equal(t, "gamification:u1", GamificationKey("u1"))
	require.Equal(t, "timer:u1", TimerKey("u1"))
	require.Equal(t, "task:t1", TaskKey("t1"))
	require.Equal(t, "tasks:owner:u1", OwnerTasksKey("u1"))
	require.NotEqual(t, TimerKey("u1"), GamificationKey("u1"))
}

func TestPersistReturnsSaveFailure(t *testing.T) {
	backendErr := errors.New("disk full")
	backend := &failingBackend{saveErr: backendErr}
	core, logs := observer.New(zapcore.DebugLevel)
	s, err := New(backend, zap.New(core))
	require.NoError(t, err)
	ctx := context.Background()

	err = Persist(ctx, s, "counter:p", counterRecord{Count: 1})
	require.ErrorIs(t, err, backendErr)
	require.Equal(t, 1, backend.saves)
	require.Equal(t, 1, logs.FilterMessage("store write failed").Len())

	require.ErrorIs(t, Persist(ctx, s, " ", counterRecord{}), ErrEmptyKey)
	require.Equal(t, 1, backend.saves)
}

func TestPersistSucceedsOnHealthyBackend(t *testing.T) {
	s, backend := newMemoryStore(t)
	ctx := context.Background()

	require.NoError(t, Persist(ctx, s, "counter:p", counterRecord{Count: 4}))
	payload, err := backend.Load(ctx, "counter:p")
	require.NoError(t, err)
	require.JSONEq(t, `{"count":4,"label":""}`, string(payload))
}

func newRedisStore(t *testing.T, prefix string) (*Store, *RedisBackend, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
	})
	backend := NewRedisBackendFromClient(client, prefix)
	s, err := New(backend, zap.NewNop())
	require.NoError(t, err)
	return s, backend, server
}

func TestRedisBackendRoundTrip(t *testing.T) {
	s, backend, server := newRedisStore(t, "")
	ctx := context.Background()

	_, err := backend.Load(ctx, "counter:r")
	require.ErrorIs(t, err, ErrKeyNotFound)

	require.NoError(t, Persist(ctx, s, "counter:r", counterRecord{Count: 3, Label: "redis"}))
	value := Read(ctx, s, "counter:r", counterRecord{})
	require.Equal(t, counterRecord{Count: 3, Label: "redis"}, value)

	stored, err := server.Get("tutorhub:counter:r")
	require.NoError(t, err)
	require.JSONEq(t, `{"count":3,"label":"redis"}`, stored)
	require.False(t, server.Exists("counter:r"))
	require.Zero(t, server.TTL("tutorhub:counter:r"))
}

func TestRedisBackendCustomPrefixAndHealing(t *testing.T) {
	s, _, server := newRedisStore(t, "staging:")
	ctx := context.Background()

	require.NoError(t, server.Set("staging:counter:c", "not json"))
	value := Read(ctx, s, "counter:c", counterRecord{Count: 9})
	require.Equal(t, 9, value.Count)

	healed, err := server.Get("staging:counter:c")
	require.NoError(t, err)
	require.JSONEq(t, `{"count":9,"label":""}`, healed)
}

func TestRedisBackendReportsUnavailableServer(t *testing.T) {
	s, backend, server := newRedisStore(t, "")
	ctx := context.Background()

	server.SetError("ERR backend unavailable")
	_, err := backend.Load(ctx, "counter:down")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrKeyNotFound)
	require.Error(t, Persist(ctx, s, "counter:down", counterRecord{Count: 1}))
}

func TestNewRedisBackendPingsServer(t *testing.T) {
	server := miniredis.RunT(t)
	ctx := context.Background()

	backend, err := NewRedisBackend(ctx, RedisConfig{Address: server.Addr(), KeyPrefix: "ping:"})
	require.NoError(t, err)
	require.NoError(t, backend.Close())

	_, err = NewRedisBackend(ctx, RedisConfig{})
	require.Error(t, err)
}
