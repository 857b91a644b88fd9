package broadcast

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hochfrequenz/court-booking-orchestrator/internal/domain"
)

func next(t *testing.T, sub *Subscription) (domain.Event, bool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return sub.Next(ctx)
}

func TestPublish_DroppedWithoutSubscriber(t *testing.T) {
	b := New()
	assert.False(t, b.Publish("r1", domain.LogEvent(domain.StreamStdout, "hello")))

	// No replay for late subscribers
	sub := b.Subscribe("r1")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, ok := sub.Next(ctx)
	assert.False(t, ok)
}

func TestPublish_DeliversInOrder(t *testing.T) {
	b := New()
	sub := b.Subscribe("r1")

	for _, line := range []string{"one", "two", "three"} {
		require.True(t, b.Publish("r1", domain.LogEvent(domain.StreamStdout, line)))
	}
	for _, want := range []string{"one", "two", "three"} {
		ev, ok := next(t, sub)
		require.True(t, ok)
		assert.Equal(t, want, ev.Message)
	}
}

func TestPublish_OnlyToMatchingRun(t *testing.T) {
	b := New()
	other := b.Subscribe("r2")

	assert.False(t, b.Publish("r1", domain.LogEvent(domain.StreamStdout, "for r1")))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, ok := other.Next(ctx)
	assert.False(t, ok)
}

func TestSubscribe_ReplacesPrevious(t *testing.T) {
	b := New()
	first := b.Subscribe("r1")
	second := b.Subscribe("r1")

	select {
	case <-first.Done():
	default:
		t.Fatal("first subscription should be closed")
	}

	require.True(t, b.Publish("r1", domain.NoticeEvent("hi")))
	ev, ok := next(t, second)
	require.True(t, ok)
	assert.Equal(t, "hi", ev.Message)

	_, ok = next(t, first)
	assert.False(t, ok)

	// Closing the replaced subscription must not detach its replacement
	first.Close()
	assert.True(t, b.Subscribed("r1"))
}

func TestUnsubscribe_KeepsBufferedEvents(t *testing.T) {
	b := New()
	sub := b.Subscribe("r1")

	res := domain.RunResult{RunID: "r1", Outcome: domain.OutcomeSucceeded}
	require.True(t, b.Publish("r1", domain.ResultEvent(res)))
	require.True(t, b.Publish("r1", domain.EndEvent()))
	b.Unsubscribe("r1")

	assert.False(t, b.Subscribed("r1"))
	assert.False(t, b.Publish("r1", domain.NoticeEvent("late")))

	ev, ok := next(t, sub)
	require.True(t, ok)
	assert.Equal(t, domain.EventResult, ev.Type)
	ev, ok = next(t, sub)
	require.True(t, ok)
	assert.Equal(t, domain.EventEnd, ev.Type)
	_, ok = next(t, sub)
	assert.False(t, ok)
}

func TestPublish_UnblocksWhenSubscriberLeaves(t *testing.T) {
	b := New()
	b.buffer = 1
	sub := b.Subscribe("r1")
	require.True(t, b.Publish("r1", domain.NoticeEvent("fills buffer")))

	done := make(chan bool)
	go func() {
		done <- b.Publish("r1", domain.NoticeEvent("blocked"))
	}()

	time.Sleep(20 * time.Millisecond)
	sub.Close()

	select {
	case delivered := <-done:
		assert.False(t, delivered)
	case <-time.After(time.Second):
		t.Fatal("publisher still blocked after subscriber left")
	}
}

func TestPublish_ClosesIdleSubscriber(t *testing.T) {
	b := New()
	b.SetSlowTimeout(20 * time.Millisecond)
	sub := b.Subscribe("sched-x")

	done := make(chan int)
	go func() {
		delivered := 0
		for i := 0; i < DefaultBuffer+50; i++ {
			if b.Publish("sched-x", domain.LogEvent(domain.StreamStdout, "line")) {
				delivered++
			}
		}
		done <- delivered
	}()

	select {
	case delivered := <-done:
		assert.Equal(t, DefaultBuffer, delivered)
	case <-time.After(2 * time.Second):
		t.Fatal("publisher stalled by a subscriber that never reads")
	}

	select {
	case <-sub.Done():
	default:
		t.Fatal("idle subscription should be closed")
	}
	assert.False(t, b.Subscribed("sched-x"))
	assert.Equal(t, int64(1), b.Evicted())

	// The buffered events are still readable after eviction
	ev, ok := next(t, sub)
	require.True(t, ok)
	assert.Equal(t, "line", ev.Message)
}

func TestConcurrentPublishSubscribe(t *testing.T) {
	b := New()
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				b.Publish("r1", domain.NoticeEvent("x"))
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				sub := b.Subscribe("r1")
				sub.Close()
			}
		}()
	}
	wg.Wait()
}

func TestSplitLines(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"one", []string{"one"}},
		{"one\n", []string{"one"}},
		{"one\ntwo\r\nthree", []string{"one", "two", "three"}},
		{"a\n\nb\n", []string{"a", "", "b"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SplitLines(tt.in), "%q", tt.in)
	}
}

func TestPublishLines(t *testing.T) {
	b := New()
	sub := b.Subscribe("r1")
	b.PublishLines("r1", domain.StreamStderr, "warn 1\nwarn 2\n")

	for _, want := range []string{"warn 1", "warn 2"} {
		ev, ok := next(t, sub)
		require.True(t, ok)
		assert.Equal(t, domain.EventLog, ev.Type)
		assert.Equal(t, domain.StreamStderr, ev.Stream)
		assert.Equal(t, want, ev.Message)
	}
}
