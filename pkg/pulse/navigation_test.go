package pulse

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testclock "k8s.io/utils/clock/testing"
)

type transitionLog struct {
	mu  sync.Mutex
	got []Transition
}

func (l *transitionLog) emit(tr Transition) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.got = append(l.got, tr)
}

func (l *transitionLog) all() []Transition {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Transition(nil), l.got...)
}

func watch(t *testing.T, src NavigationSource, log *transitionLog) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Watch(ctx, log.emit) }()
	return func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("Watch did not return after cancel")
		}
	}
}

func TestPollingSource_EmitsOnPathChange(t *testing.T) {
	clk := testclock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	env := NewPageEnv("https://site.example/a", "A")
	src := NewPollingSource(env.Path, clk, 0)
	log := &transitionLog{}

	stop := watch(t, src, log)
	defer stop()
	require.Eventually(t, clk.HasWaiters, time.Second, time.Millisecond)

	clk.Step(DefaultPollInterval)
	assert.Never(t, func() bool { return len(log.all()) > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	env.Navigate("https://site.example/b?x=1", "B")
	clk.Step(DefaultPollInterval)
	require.Eventually(t, func() bool { return len(log.all()) == 1 }, time.Second, time.Millisecond)

	got := log.all()[0]
	assert.Equal(t, "/a", got.From)
	assert.Equal(t, "/b", got.To)
	assert.Equal(t, clk.Now(), got.At)
}

func TestPollingSource_QueryChangeIsNotNavigation(t *testing.T) {
	clk := testclock.NewFakeClock(time.Now())
	env := NewPageEnv("https://site.example/a?page=1", "A")
	src := NewPollingSource(env.Path, clk, time.Second)
	log := &transitionLog{}

	stop := watch(t, src, log)
	defer stop()
	require.Eventually(t, clk.HasWaiters, time.Second, time.Millisecond)

	env.Navigate("https://site.example/a?page=2", "A")
	clk.Step(time.Second)
	assert.Never(t, func() bool { return len(log.all()) > 0 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestPollingSource_PopStateChecksImmediately(t *testing.T) {
	clk := testclock.NewFakeClock(time.Now())
	env := NewPageEnv("https://site.example/a", "A")
	src := NewPollingSource(env.Path, clk, time.Hour)
	log := &transitionLog{}

	stop := watch(t, src, log)
	defer stop()
	require.Eventually(t, clk.HasWaiters, time.Second, time.Millisecond)

	env.Navigate("https://site.example/back", "Back")
	src.PopState()

	require.Eventually(t, func() bool { return len(log.all()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, "/back", log.all()[0].To)
}

func TestPollingSource_PopStateNeverBlocks(t *testing.T) {
	src := NewPollingSource(func() string { return "/" }, nil, 0)
	for i := 0; i < 10; i++ {
		src.PopState()
	}
}

func TestRouterSource_EmitsInOrderAndSkipsRepeats(t *testing.T) {
	clk := testclock.NewFakeClock(time.Now())
	src := NewRouterSource("/", clk)
	log := &transitionLog{}

	stop := watch(t, src, log)
	defer stop()

	src.Navigate("/a")
	src.Navigate("/a")
	src.Navigate("/b")

	require.Eventually(t, func() bool { return len(log.all()) == 2 }, time.Second, time.Millisecond)
	got := log.all()
	assert.Equal(t, Transition{From: "/", To: "/a", At: clk.Now()}, got[0])
	assert.Equal(t, Transition{From: "/a", To: "/b", At: clk.Now()}, got[1])
}

func TestIsAdminPath(t *testing.T) {
	tests := []struct {
		path   string
		prefix string
		want   bool
	}{
		{"/admin", "/admin", true},
		{"/admin/users", "/admin", true},
		{"/admin/users", "/admin/", true},
		{"/administrator", "/admin", false},
		{"/blog/admin", "/admin", false},
		{"/", "/admin", false},
		{"/admin", "", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsAdminPath(tt.path, tt.prefix), "IsAdminPath(%q, %q)", tt.path, tt.prefix)
	}
}
