package eventbus

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/arch-linux-gui/alg-welcome/internal/model"
	"github.com/stretchr/testify/require"
)

func lines(n int) []model.LogLine {
	out := make([]model.LogLine, n)
	for i := range out {
		out[i] = model.LogLine{Seq: uint64(i + 1), Text: fmt.Sprintf("line %d", i+1)}
	}
	return out
}

func collect(t *testing.T, s *Subscription) []model.LogLine {
	t.Helper()
	var got []model.LogLine
	timeout := time.After(5 * time.Second)
	for {
		select {
		case line, ok := <-s.C():
			if !ok {
				return got
			}
			got = append(got, line)
		case <-timeout:
			t.Fatalf("subscription did not close, got %d lines", len(got))
		}
	}
}

func TestPublishRequiresRun(t *testing.T) {
	b := New(nil)
	require.ErrorIs(t, b.Publish(model.LogLine{Seq: 1, Text: "x"}), ErrNoActiveRun)

	require.NoError(t, b.BeginRun("r1"))
	require.ErrorIs(t, b.BeginRun("r2"), ErrRunActive)
	b.EndRun()
	b.EndRun()
}

func TestSubscribersSeeSameOrder(t *testing.T) {
	b := New(nil)
	subs := []*Subscription{b.Subscribe(), b.Subscribe(), b.Subscribe()}
	want := lines(500)

	require.NoError(t, b.BeginRun("run-1"))
	for _, s := range subs {
		require.Equal(t, "run-1", s.RunID())
	}
	for _, line := range want {
		require.NoError(t, b.Publish(line))
	}
	b.EndRun()

	for _, s := range subs {
		require.Equal(t, want, collect(t, s))
	}
}

func TestPublishDoesNotBlockOnSlowReader(t *testing.T) {
	b := New(nil)
	require.NoError(t, b.BeginRun("run-1"))
	s := b.Subscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, line := range lines(10000) {
			_ = b.Publish(line)
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked on an unread subscription")
	}
	b.EndRun()
	require.Len(t, collect(t, s), 10000)
}

func TestMidRunSubscriberSeesOnlyLaterLines(t *testing.T) {
	b := New(nil)
	require.NoError(t, b.BeginRun("run-1"))
	all := lines(4)
	require.NoError(t, b.Publish(all[0]))
	require.NoError(t, b.Publish(all[1]))

	late := b.Subscribe()
	require.NoError(t, b.Publish(all[2]))
	require.NoError(t, b.Publish(all[3]))
	b.EndRun()

	require.Equal(t, all[2:], collect(t, late))
}

func TestIdleSubscriberBindsToNextRun(t *testing.T) {
	b := New(nil)
	require.NoError(t, b.BeginRun("run-1"))
	require.NoError(t, b.Publish(model.LogLine{Seq: 1, Text: "first run"}))
	b.EndRun()

	s := b.Subscribe()
	require.Empty(t, s.RunID())
	require.NoError(t, b.BeginRun("run-2"))
	require.NoError(t, b.Publish(model.LogLine{Seq: 1, Text: "second run"}))
	b.EndRun()

	require.Equal(t, []model.LogLine{{Seq: 1, Text: "second run"}}, collect(t, s))
}

func TestCloseUnsubscribes(t *testing.T) {
	b := New(nil)
	s := b.Subscribe()
	s.Close()
	s.Close()

	require.NoError(t, b.BeginRun("run-1"))
	require.NoError(t, b.Publish(model.LogLine{Seq: 1, Text: "x"}))
	b.EndRun()

	_, ok := <-s.C()
	require.False(t, ok)
}

func TestFollowEveryRun(t *testing.T) {
	b := New(nil)
	var mu sync.Mutex
	var got []string
	unfollow := b.Follow(func(line model.LogLine) {
		mu.Lock()
		got = append(got, line.Text)
		mu.Unlock()
	})

	for run := 1; run <= 2; run++ {
		require.NoError(t, b.BeginRun(fmt.Sprintf("run-%d", run)))
		for _, line := range lines(3) {
			require.NoError(t, b.Publish(line))
		}
		// EndRun waits for followers to drain.
		b.EndRun()
	}

	mu.Lock()
	require.Equal(t, []string{"line 1", "line 2", "line 3", "line 1", "line 2", "line 3"}, got)
	mu.Unlock()

	unfollow()
	require.NoError(t, b.BeginRun("run-3"))
	require.NoError(t, b.Publish(model.LogLine{Seq: 1, Text: "ignored"}))
	b.EndRun()

	mu.Lock()
	require.Len(t, got, 6)
	mu.Unlock()
}

func TestFollowersShareOrder(t *testing.T) {
	b := New(nil)
	var a, c []model.LogLine
	b.Follow(func(line model.LogLine) { a = append(a, line) })
	b.Follow(func(line model.LogLine) { c = append(c, line) })

	want := lines(200)
	require.NoError(t, b.BeginRun("run-1"))
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for _, line := range want {
			_ = b.Publish(line)
		}
	}()
	wg.Wait()
	b.EndRun()

	require.Equal(t, want, a)
	require.Equal(t, want, c)
}
