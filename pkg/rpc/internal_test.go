package rpc

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var notifyMethod = &Method{Name: "Changed", ServiceName: "Test", Service: "A0E4", Characteristic: "0000A0E5-0000-1000-8000-00805F9B34FB", Kind: MethodSubscribe}

func testCall(id uint64, m *Method) *call {
	return newCall(id, m, NewCallController(), nil, nil, func(Message) {})
}

func TestNewCallNormalizesTarget(t *testing.T) {
	c := testCall(1, notifyMethod)

	assert.Equal(t, "a0e4", c.service)
	assert.Equal(t, "a0e5", c.characteristic)
	assert.Equal(t, "2902", c.descriptor, "subscriptions default to the CCCD")
	assert.Equal(t, "#1 subscribe a0e4/a0e5", c.String())
}

func TestCallQueue(t *testing.T) {
	var q callQueue
	_, ok := q.peek()
	assert.False(t, ok)

	a, b := testCall(1, notifyMethod), testCall(2, notifyMethod)
	q.push(a)
	q.push(b)

	snap := q.snapshot()
	head, _ := q.pop()
	assert.Same(t, a, head)
	assert.Len(t, snap, 2, "snapshot is a copy")
	assert.Equal(t, 1, q.len())

	q.clear()
	_, ok = q.pop()
	assert.False(t, ok)
}

func TestRegistryGroupsByCharacteristic(t *testing.T) {
	r := newRegistry()
	a, b := testCall(1, notifyMethod), testCall(2, notifyMethod)

	g := r.join(a)
	assert.Same(t, g, r.join(b))
	assert.Equal(t, subscriptionPending, g.state)
	assert.Equal(t, []*call{a, b}, g.members())

	a.controller.(*CallController).StartCancel()
	b.controller.(*CallController).SetFailed("group failed")
	assert.Equal(t, 2, g.pruneCanceled())
	assert.True(t, g.empty())

	r.remove("a0e5")
	assert.Zero(t, r.len())
}

func TestSubscriptionTransitions(t *testing.T) {
	r := newRegistry()
	g := r.join(testCall(1, notifyMethod))

	g.transition(subscriptionPending, subscriptionSubscribing)
	assert.Same(t, g, r.mustGet("a0e5", subscriptionSubscribing))

	assert.PanicsWithValue(t,
		"rpc: subscription a0e5 is subscribing, expected subscribed before moving to unsubscribing",
		func() { g.transition(subscriptionSubscribed, subscriptionUnsubscribing) })
	assert.Panics(t, func() { r.mustGet("a0e5", subscriptionPending) })
	assert.Panics(t, func() { r.mustGet("ffff", subscriptionPending) })
}

func TestCallController(t *testing.T) {
	c := NewCallController()
	assert.False(t, c.Failed())
	assert.Empty(t, c.ErrorText())

	c.SetError(nil)
	assert.False(t, c.Failed())

	cause := errors.New("boom")
	setFailure(c, cause)
	assert.True(t, c.Failed())
	assert.Same(t, cause, c.Err())

	c.StartCancel()
	assert.True(t, c.IsCanceled())

	c.Reset()
	assert.False(t, c.IsCanceled())
	assert.False(t, c.Failed())
}

// textController only keeps the failure text.
type textController struct {
	failed string
}

func (c *textController) IsCanceled() bool        { return false }
func (c *textController) SetFailed(reason string) { c.failed = reason }
func (c *textController) Failed() bool            { return c.failed != "" }
func (c *textController) ErrorText() string       { return c.failed }

func TestSetFailureFallsBackToText(t *testing.T) {
	c := &textController{}
	setFailure(c, ErrChannelClosed)
	assert.Equal(t, "channel closed", c.ErrorText())
}

func TestDefaultInstance(t *testing.T) {
	type reading struct{ V int }

	assert.Nil(t, DefaultInstance(nil))
	assert.Equal(t, &reading{}, DefaultInstance(&reading{V: 3}))
	assert.Equal(t, reading{}, DefaultInstance(reading{V: 3}))
	assert.Equal(t, 0, DefaultInstance(42))

	p := &reading{V: 1}
	assert.NotSame(t, p, DefaultInstance(p))
}

func TestMethodKind(t *testing.T) {
	for in, want := range map[string]MethodKind{
		"read":      MethodRead,
		"WRITE":     MethodWrite,
		"subscribe": MethodSubscribe,
		" notify ":  MethodSubscribe,
	} {
		got, err := ParseMethodKind(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseMethodKind("indicate-ish")
	assert.ErrorIs(t, err, ErrUnsupportedMethodKind)
	assert.False(t, MethodUnknown.Supported())
	assert.Equal(t, "Test.Changed", notifyMethod.FullName())
	assert.Equal(t, "a0e4.a0e5", (&Method{Service: "a0e4", Characteristic: "a0e5"}).FullName())
}

func TestInlineExecutorNeverNests(t *testing.T) {
	e := NewInlineExecutor()
	var order []string

	e.Post(func() {
		order = append(order, "outer-start")
		assert.True(t, e.Post(func() { order = append(order, "inner") }))
		order = append(order, "outer-end")
	})

	assert.Equal(t, []string{"outer-start", "outer-end", "inner"}, order)
}

func TestSerialExecutorRunsInOrder(t *testing.T) {
	logger := logrus.New()
	e := NewSerialExecutor("test-executor", logger)

	var mu sync.Mutex
	var got []int
	for i := 0; i < 100; i++ {
		e.Post(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		})
	}
	e.Stop()
	assert.False(t, e.Post(func() { t.Error("task posted after stop must not run") }))

	select {
	case <-e.Done():
	case <-time.After(5 * time.Second):
		require.FailNow(t, "executor did not drain")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}
