package websocket

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_Enqueue(t *testing.T) {
	m := NewManager()
	c := &Client{ID: "c1", UserID: "u1", Send: make(chan []byte, 1)}

	assert.False(t, m.Enqueue(c, []byte("early")), "unregistered clients get nothing")

	require.True(t, m.Register(c))
	assert.Equal(t, 1, m.Count())
	assert.True(t, m.Enqueue(c, []byte("one")))
	assert.False(t, m.Enqueue(c, []byte("two")), "full buffer drops the frame")
	assert.Equal(t, []byte("one"), <-c.Send)

	m.Unregister(c)
	m.Unregister(c)
	assert.Equal(t, 0, m.Count())
	_, open := <-c.Send
	assert.False(t, open)
	assert.False(t, m.Enqueue(c, []byte("late")))
}

func TestManager_Shutdown(t *testing.T) {
	m := NewManager()
	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)

	c := &Client{ID: "c1", UserID: "u1", Send: make(chan []byte, 1)}
	require.True(t, m.Register(c))
	cancel()

	assert.Eventually(t, func() bool { return m.Count() == 0 }, time.Second, 5*time.Millisecond)
	_, open := <-c.Send
	assert.False(t, open)
	assert.False(t, m.Register(&Client{ID: "c2", Send: make(chan []byte, 1)}))
}
