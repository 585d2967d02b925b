package dispatch

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/todoforai/edge/internal/protocol"
)

func TestDispatchRoutesByType(t *testing.T) {
	d := New(4, nil, false)
	var called int32
	done := make(chan struct{})
	d.Register("ping", func(ctx context.Context, msg *protocol.Message) {
		atomic.AddInt32(&called, 1)
		close(done)
	})

	require.NoError(t, d.Dispatch(context.Background(), []byte(`{"type":"ping","payload":{}}`)))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler never ran")
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&called))
}

func TestDispatchDropsUnparsableFrame(t *testing.T) {
	d := New(4, nil, false)
	err := d.Dispatch(context.Background(), []byte(`not json`))
	assert.NoError(t, err)
}

func TestDispatchClassifiesAuthError(t *testing.T) {
	d := New(4, nil, false)
	err := d.Dispatch(context.Background(), []byte(`{"type":"ERROR","payload":{"message":"Invalid API key"}}`))
	require.Error(t, err)
	var fe *FatalErr
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, AuthenticationError, fe.Kind)
}

func TestDispatchClassifiesServerError(t *testing.T) {
	d := New(4, nil, false)
	err := d.Dispatch(context.Background(), []byte(`{"type":"ERROR","payload":{"message":"internal failure"}}`))
	require.Error(t, err)
	var fe *FatalErr
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, ServerError, fe.Kind)
}

func TestDispatchHandlerPanicIsRecovered(t *testing.T) {
	d := New(4, nil, false)
	done := make(chan struct{})
	d.Register("boom", func(ctx context.Context, msg *protocol.Message) {
		defer close(done)
		panic("handler exploded")
	})
	require.NoError(t, d.Dispatch(context.Background(), []byte(`{"type":"boom","payload":{}}`)))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler never ran")
	}
}
