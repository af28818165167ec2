package doi

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestPoller_ReturnsImmediatelyWhenCompleted(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	g, store, _ := newTestGate(t)

	sess, err := store.Create(ctx, client, []byte("a"), "")
	require.NoError(t, err)
	_, err = g.RecordCompletion(ctx, client, sess.ID, time.Time{})
	require.NoError(t, err)

	p := NewPoller(g, time.Hour, zaptest.NewLogger(t))
	done, err := p.Wait(ctx, client)
	require.NoError(t, err)
	assert.True(t, done)
}

func TestPoller_StopsOnCompletion(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	g, store, _ := newTestGate(t)

	sess, err := store.Create(ctx, client, []byte("a"), "")
	require.NoError(t, err)
	_, err = g.StartRegistration(ctx, client)
	require.NoError(t, err)

	p := NewPoller(g, 5*time.Millisecond, zaptest.NewLogger(t))
	result := p.Watch(ctx, client)

	time.Sleep(20 * time.Millisecond)
	_, err = g.RecordCompletion(ctx, client, sess.ID, time.Time{})
	require.NoError(t, err)

	select {
	case done := <-result:
		assert.True(t, done)
	case <-ctx.Done():
		t.Fatal("poller did not observe completion")
	}
	_, open := <-result
	assert.False(t, open)
}

func TestPoller_StopsOnCancel(t *testing.T) {
	defer goleak.VerifyNone(t)
	g, store, _ := newTestGate(t)

	_, err := store.Create(context.Background(), client, []byte("a"), "")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	p := NewPoller(g, 5*time.Millisecond, zaptest.NewLogger(t))
	done, err := p.Wait(ctx, client)
	require.NoError(t, err)
	assert.False(t, done)
}

func TestNewPoller_DefaultInterval(t *testing.T) {
	g, _, _ := newTestGate(t)
	p := NewPoller(g, 0, nil)
	assert.Equal(t, DefaultPollInterval, p.interval)
}
