package session

import (
	"context"
	"testing"
	"time"

	"coverserv/src/kv"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time          { return c.t }
func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestStore(t *testing.T) (*Store, *kv.Memory, *clock) {
	mem := kv.NewMemory()
	clk := &clock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	return NewStore(mem, zaptest.NewLogger(t), WithClock(clk.Now)), mem, clk
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "kn_abc_current_session", SessionKey("abc"))
	assert.Equal(t, "kn_abc_doi_completed", CompletionKey("abc"))
}

func TestStore_CreateAndCurrent(t *testing.T) {
	ctx := context.Background()
	s, _, clk := newTestStore(t)

	created, err := s.Create(ctx, "c1", []byte{0xff, 0xd8}, "summer")
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, clk.Now(), created.CreatedAt)

	got, err := s.Current(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, []byte{0xff, 0xd8}, got.ImageData)
	assert.Equal(t, "summer", got.TemplateID)
	assert.Nil(t, got.RegistrationStartedAt)
}

func TestStore_NewCaptureReplacesOld(t *testing.T) {
	ctx := context.Background()
	s, mem, _ := newTestStore(t)

	first, err := s.Create(ctx, "c1", []byte("a"), "")
	require.NoError(t, err)
	second, err := s.Create(ctx, "c1", []byte("b"), "")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	got, err := s.Current(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)
	assert.Equal(t, 1, mem.Len())
}

func TestStore_ClientsAreIsolated(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t)

	_, err := s.Create(ctx, "c1", []byte("a"), "")
	require.NoError(t, err)

	_, err = s.Current(ctx, "c2")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_LazyExpiry(t *testing.T) {
	ctx := context.Background()
	s, mem, clk := newTestStore(t)

	_, err := s.Create(ctx, "c1", []byte("a"), "")
	require.NoError(t, err)

	clk.Advance(24*time.Hour - time.Millisecond)
	_, err = s.Current(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, 1, mem.Len())

	clk.Advance(time.Millisecond)
	_, err = s.Current(ctx, "c1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, mem.Len(), "expired record is pruned on read")
}

func TestStore_UnreadableBlobIsDropped(t *testing.T) {
	ctx := context.Background()
	s, mem, _ := newTestStore(t)

	require.NoError(t, mem.Put(ctx, SessionKey("c1"), []byte("{not json")))
	_, err := s.Current(ctx, "c1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, mem.Len())
}

func TestStore_MarkRegistrationStart(t *testing.T) {
	ctx := context.Background()
	s, _, clk := newTestStore(t)

	_, err := s.MarkRegistrationStart(ctx, "c1")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Create(ctx, "c1", []byte("a"), "")
	require.NoError(t, err)
	clk.Advance(time.Minute)

	marked, err := s.MarkRegistrationStart(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, marked.RegistrationStartedAt)
	assert.Equal(t, clk.Now(), *marked.RegistrationStartedAt)

	got, err := s.Current(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, got.RegistrationStartedAt)
	assert.True(t, got.RegistrationStartedAt.Equal(clk.Now()))
}

func TestStore_Completion(t *testing.T) {
	ctx := context.Background()
	s, _, clk := newTestStore(t)

	_, err := s.Completion(ctx, "c1")
	assert.ErrorIs(t, err, ErrNotFound)

	rec := Completion{Timestamp: clk.Now(), SessionID: "s1"}
	require.NoError(t, s.SaveCompletion(ctx, "c1", rec))

	got, err := s.Completion(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "s1", got.SessionID)
	assert.True(t, got.Timestamp.Equal(rec.Timestamp))

	clk.Advance(24 * time.Hour)
	_, err = s.Completion(ctx, "c1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_Remove(t *testing.T) {
	ctx := context.Background()
	s, mem, clk := newTestStore(t)

	sess, err := s.Create(ctx, "c1", []byte("a"), "")
	require.NoError(t, err)
	require.NoError(t, s.SaveCompletion(ctx, "c1", Completion{Timestamp: clk.Now(), SessionID: sess.ID}))

	require.NoError(t, s.Remove(ctx, "c1"))
	assert.Equal(t, 0, mem.Len())
	require.NoError(t, s.Remove(ctx, "c1"))
}

func TestStore_RejectsEmptyClient(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newTestStore(t)

	_, err := s.Create(ctx, "", nil, "")
	assert.ErrorIs(t, err, ErrInvalidClient)
	_, err = s.Current(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidClient)
	assert.ErrorIs(t, s.Remove(ctx, ""), ErrInvalidClient)
}
