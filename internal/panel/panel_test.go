package panel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Its-donkey/hello-near/internal/wallet"
)

var strategies = []Strategy{Legacy, Reconciled}

func TestStartIssuesExactlyOneRead(t *testing.T) {
	for _, strategy := range strategies {
		for _, restore := range []string{"", "alice.test"} {
			t.Run(strategy.String()+"/"+restore, func(t *testing.T) {
				conn := newFakeConn("hello", restore)
				p := startPanel(t, conn, strategy, nil)

				require.NoError(t, p.Start(context.Background()))
				require.NoError(t, p.SignIn(context.Background(), "bob.test"))
				require.NoError(t, p.SignOut(context.Background()))

				assert.Equal(t, 1, conn.viewCount())
			})
		}
	}
}

func TestLoggedInFollowsAccount(t *testing.T) {
	conn := newFakeConn("hello", "")
	p := startPanel(t, conn, Reconciled, nil)

	assert.False(t, p.LoggedIn())
	assert.False(t, p.Snapshot().LoggedIn)

	require.NoError(t, p.SignIn(context.Background(), "alice.test"))
	snap := p.Snapshot()
	assert.True(t, p.LoggedIn())
	assert.True(t, snap.LoggedIn)
	assert.Equal(t, "alice.test", snap.AccountID)

	require.NoError(t, p.SignOut(context.Background()))
	assert.False(t, p.LoggedIn())
	assert.Equal(t, "", p.Snapshot().AccountID)
}

func TestInitialReadShowsGreeting(t *testing.T) {
	for _, strategy := range strategies {
		t.Run(strategy.String(), func(t *testing.T) {
			p := startPanel(t, newFakeConn("hello", "alice.test"), strategy, nil)

			snap := p.Snapshot()
			assert.Equal(t, "hello", snap.Greeting)
			assert.Equal(t, "hello", snap.Confirmed)
			assert.False(t, snap.Spinner)
			assert.True(t, snap.LoggedIn)
			assert.Empty(t, snap.Error)
		})
	}
}

func TestGreetingIsLoadingBeforeStart(t *testing.T) {
	p := New(newFakeConn("hello", ""), Options{})
	defer p.Close()
	assert.Equal(t, LoadingGreeting, p.Snapshot().Greeting)
}

func TestSubmitShowsPendingDuringDelay(t *testing.T) {
	for _, strategy := range strategies {
		t.Run(strategy.String(), func(t *testing.T) {
			conn := newFakeConn("hello", "alice.test")
			conn.hold("hi")
			clock := newManualClock()
			p := startPanel(t, conn, strategy, clock)

			done := submitAsync(p, "hi")
			timer := clock.next(t)

			snap := p.Snapshot()
			assert.Equal(t, "hi", snap.Greeting)
			assert.True(t, snap.Spinner)
			assert.Equal(t, uint64(1), snap.Generation)

			timer <- time.Now()
			assert.Eventually(t, func() bool { return !p.Snapshot().Spinner }, time.Second, 5*time.Millisecond)
			assert.Equal(t, "hi", p.Snapshot().Greeting)

			conn.release("hi", nil)
			res := wait(t, done)
			require.NoError(t, res.err)
			assert.Equal(t, "hi", res.out.Greeting)
			assert.Eventually(t, func() bool { return p.Snapshot().Confirmed == "hi" }, time.Second, 5*time.Millisecond)
		})
	}
}

func TestLegacySubmitReturnsAfterDelay(t *testing.T) {
	conn := newFakeConn("hello", "alice.test")
	conn.hold("hi")
	p := New(conn, Options{ContractID: "hello.test", Strategy: Legacy, Delay: 30 * time.Millisecond})
	t.Cleanup(p.Close)
	require.NoError(t, p.Start(context.Background()))
	<-p.Loaded()

	start := time.Now()
	out, err := p.Submit(context.Background(), "hi")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.False(t, out.Confirmed)
	assert.Equal(t, "hi", p.Snapshot().Greeting)
	assert.False(t, p.Snapshot().Spinner)
}

func TestLegacyWriteFailureKeepsOptimisticGreeting(t *testing.T) {
	conn := newFakeConn("hello", "alice.test")
	conn.hold("hi")
	clock := newManualClock()
	p := startPanel(t, conn, Legacy, clock)

	done := submitAsync(p, "hi")
	clock.next(t) <- time.Now()
	require.NoError(t, wait(t, done).err)

	conn.release("hi", errors.New("rejected"))
	p.Close()

	snap := p.Snapshot()
	assert.Equal(t, "hi", snap.Greeting)
	assert.Equal(t, "hello", snap.Confirmed)
	assert.Empty(t, snap.Error)
}

func TestReconciledWriteFailureRollsBack(t *testing.T) {
	conn := newFakeConn("hello", "alice.test")
	conn.hold("hi")
	clock := newManualClock()
	p := startPanel(t, conn, Reconciled, clock)

	done := submitAsync(p, "hi")
	clock.next(t) <- time.Now()
	assert.Eventually(t, func() bool { return !p.Snapshot().Spinner }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "hi", p.Snapshot().Greeting)

	conn.release("hi", errors.New("rejected"))
	res := wait(t, done)

	failure, ok := AsFailure(res.err)
	require.True(t, ok)
	assert.Equal(t, WriteFailure, failure.Kind)
	assert.False(t, res.out.Confirmed)
	assert.Equal(t, "hello", res.out.Greeting)

	snap := p.Snapshot()
	assert.Equal(t, "hello", snap.Greeting)
	assert.Equal(t, WriteFailure, snap.ErrorKind)
	assert.NotEmpty(t, snap.Error)

	p.ClearError()
	assert.Empty(t, p.Snapshot().Error)
}

func TestReconciledWriteFailureWithoutConfirmedValue(t *testing.T) {
	conn := newFakeConn("hello", "alice.test")
	conn.failViews(errors.New("down"), errors.New("down"))
	conn.hold("hi")
	clock := newManualClock()
	p := startPanel(t, conn, Reconciled, clock)
	require.Equal(t, ReadFailure, p.Snapshot().ErrorKind)

	done := submitAsync(p, "hi")
	clock.next(t) <- time.Now()
	conn.release("hi", errors.New("rejected"))
	wait(t, done)

	assert.Equal(t, LoadingGreeting, p.Snapshot().Greeting)
}

func TestReconciledLateInitialReadReplacesRolledBackSentinel(t *testing.T) {
	conn := newFakeConn("hello", "alice.test")
	conn.holdViews()
	conn.hold("hi")
	clock := newManualClock()
	p := New(conn, Options{ContractID: "hello.test", Strategy: Reconciled, After: clock.After})
	t.Cleanup(p.Close)
	require.NoError(t, p.Start(context.Background()))

	done := submitAsync(p, "hi")
	clock.next(t) <- time.Now()
	conn.release("hi", errors.New("rejected"))
	res := wait(t, done)
	require.Error(t, res.err)
	require.Equal(t, LoadingGreeting, p.Snapshot().Greeting)

	conn.releaseViews()
	select {
	case <-p.Loaded():
	case <-time.After(2 * time.Second):
		t.Fatal("initial read did not settle")
	}

	snap := p.Snapshot()
	assert.Equal(t, "hello", snap.Greeting)
	assert.Equal(t, "hello", snap.Confirmed)
	assert.Equal(t, WriteFailure, snap.ErrorKind)
}

func TestReconciledLateInitialReadKeepsConfirmingSubmission(t *testing.T) {
	conn := newFakeConn("hello", "alice.test")
	conn.holdViews()
	conn.hold("hi")
	clock := newManualClock()
	p := New(conn, Options{ContractID: "hello.test", Strategy: Reconciled, After: clock.After})
	t.Cleanup(p.Close)
	require.NoError(t, p.Start(context.Background()))

	done := submitAsync(p, "hi")
	clock.next(t) <- time.Now()
	require.Eventually(t, func() bool { return !p.Snapshot().Spinner }, time.Second, 5*time.Millisecond)

	conn.releaseViews()
	select {
	case <-p.Loaded():
	case <-time.After(2 * time.Second):
		t.Fatal("initial read did not settle")
	}
	assert.Equal(t, "hi", p.Snapshot().Greeting, "in-flight submission owns the display")

	conn.release("hi", nil)
	res := wait(t, done)
	require.NoError(t, res.err)
	assert.Equal(t, "hi", p.Snapshot().Greeting)
}

func TestSubscribersSeeIncreasingVersions(t *testing.T) {
	conn := newFakeConn("hello", "alice.test")
	p := startPanel(t, conn, Reconciled, nil)

	updates := make(chan Snapshot, 512)
	unsubscribe := p.Subscribe(updates)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				p.SetPending(fmt.Sprintf("draft %d-%d", i, j))
			}
		}(i)
	}
	wg.Wait()
	unsubscribe()
	close(updates)

	var last uint64
	count := 0
	for snap := range updates {
		require.Greater(t, snap.Version, last, "snapshot %d delivered out of order", count)
		last = snap.Version
		count++
	}
	assert.Equal(t, 160, count)
	assert.Equal(t, last, p.Snapshot().Version)
}

func TestLegacyRapidSubmissionsLastResolvedWins(t *testing.T) {
	conn := newFakeConn("hello", "alice.test")
	conn.hold("a")
	conn.hold("b")
	clock := newManualClock()
	p := startPanel(t, conn, Legacy, clock)

	first := submitAsync(p, "a")
	clock.next(t) <- time.Now()
	wait(t, first)
	second := submitAsync(p, "b")
	clock.next(t) <- time.Now()
	wait(t, second)

	conn.release("b", nil)
	assert.Eventually(t, func() bool { return conn.viewCount() == 2 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return p.Snapshot().Greeting == "b" }, time.Second, 5*time.Millisecond)

	conn.release("a", nil)
	assert.Eventually(t, func() bool { return conn.viewCount() == 3 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return p.Snapshot().Greeting == "a" }, time.Second, 5*time.Millisecond)
}

func TestReconciledRapidSubmissionsKeepLatest(t *testing.T) {
	conn := newFakeConn("hello", "alice.test")
	conn.hold("a")
	conn.hold("b")
	clock := newManualClock()
	p := startPanel(t, conn, Reconciled, clock)

	first := submitAsync(p, "a")
	timerA := clock.next(t)
	second := submitAsync(p, "b")
	timerB := clock.next(t)
	timerA <- time.Now()
	timerB <- time.Now()

	conn.release("b", nil)
	resB := wait(t, second)
	require.NoError(t, resB.err)
	assert.True(t, resB.out.Confirmed)
	assert.Equal(t, "b", p.Snapshot().Greeting)

	conn.release("a", nil)
	resA := wait(t, first)
	require.NoError(t, resA.err)
	assert.True(t, resA.out.Superseded)

	snap := p.Snapshot()
	assert.Equal(t, "b", snap.Greeting)
	assert.Equal(t, "b", snap.Confirmed)
	assert.Equal(t, uint64(2), snap.Generation)
}

func TestReconciledSessionExpired(t *testing.T) {
	conn := newFakeConn("hello", "alice.test")
	clock := newManualClock()
	p := startPanel(t, conn, Reconciled, clock)
	conn.expire()

	done := submitAsync(p, "hi")
	clock.next(t) <- time.Now()
	res := wait(t, done)

	require.True(t, errors.Is(res.err, wallet.ErrNotSignedIn))
	failure, ok := AsFailure(res.err)
	require.True(t, ok)
	assert.Equal(t, SessionExpired, failure.Kind)

	snap := p.Snapshot()
	assert.False(t, snap.LoggedIn)
	assert.Equal(t, "hello", snap.Greeting)
	assert.Equal(t, SessionExpired, snap.ErrorKind)
	assert.Equal(t, 1, conn.signOutCount(), "connector is signed out too")

	require.NoError(t, p.SignIn(context.Background(), "alice.test"))
	assert.Empty(t, p.Snapshot().ErrorKind)
}

func TestReconciledConfirmReadFailureKeepsOptimisticValue(t *testing.T) {
	conn := newFakeConn("hello", "alice.test")
	clock := newManualClock()
	p := startPanel(t, conn, Reconciled, clock)
	conn.failViews(errors.New("timeout"), errors.New("timeout"))

	done := submitAsync(p, "hi")
	clock.next(t) <- time.Now()
	res := wait(t, done)

	failure, ok := AsFailure(res.err)
	require.True(t, ok)
	assert.Equal(t, ReadFailure, failure.Kind)
	assert.False(t, res.out.Confirmed)
	assert.NotNil(t, res.out.Receipt)

	snap := p.Snapshot()
	assert.Equal(t, "hi", snap.Greeting)
	assert.Equal(t, "hello", snap.Confirmed)
	assert.Equal(t, 3, conn.viewCount())
}

func TestReconciledConfirmReadRetriesOnce(t *testing.T) {
	conn := newFakeConn("hello", "alice.test")
	clock := newManualClock()
	p := startPanel(t, conn, Reconciled, clock)
	conn.failViews(errors.New("timeout"))

	done := submitAsync(p, "hi")
	clock.next(t) <- time.Now()
	res := wait(t, done)

	require.NoError(t, res.err)
	assert.True(t, res.out.Confirmed)
	assert.Equal(t, "hi", p.Snapshot().Confirmed)
}

func TestBootstrapReadFailure(t *testing.T) {
	t.Run("legacy leaves sentinel", func(t *testing.T) {
		conn := newFakeConn("hello", "")
		conn.failViews(errors.New("down"))
		p := startPanel(t, conn, Legacy, nil)

		snap := p.Snapshot()
		assert.Equal(t, LoadingGreeting, snap.Greeting)
		assert.Empty(t, snap.Error)
		assert.Equal(t, 1, conn.viewCount())
	})

	t.Run("reconciled retries once", func(t *testing.T) {
		conn := newFakeConn("hello", "")
		conn.failViews(errors.New("down"))
		p := startPanel(t, conn, Reconciled, nil)

		assert.Equal(t, "hello", p.Snapshot().Greeting)
		assert.Equal(t, 2, conn.viewCount())
	})

	t.Run("reconciled surfaces read failure", func(t *testing.T) {
		conn := newFakeConn("hello", "")
		conn.failViews(errors.New("down"), errors.New("down"))
		p := startPanel(t, conn, Reconciled, nil)

		snap := p.Snapshot()
		assert.Equal(t, LoadingGreeting, snap.Greeting)
		assert.Equal(t, ReadFailure, snap.ErrorKind)
	})
}

func TestRefreshReplacesStaleGreeting(t *testing.T) {
	conn := newFakeConn("hello", "alice.test")
	conn.hold("hi")
	clock := newManualClock()
	p := startPanel(t, conn, Legacy, clock)

	done := submitAsync(p, "hi")
	clock.next(t) <- time.Now()
	wait(t, done)
	conn.release("hi", errors.New("rejected"))
	require.Equal(t, "hi", p.Snapshot().Greeting)

	greeting, err := p.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hello", greeting)
	assert.Equal(t, "hello", p.Snapshot().Greeting)
}

func TestSetPendingAndSubscribe(t *testing.T) {
	p := startPanel(t, newFakeConn("hello", ""), Reconciled, nil)

	updates := make(chan Snapshot, 4)
	unsubscribe := p.Subscribe(updates)

	p.SetPending("draft")
	select {
	case snap := <-updates:
		assert.Equal(t, "draft", snap.Pending)
		assert.Equal(t, "hello", snap.Greeting)
	case <-time.After(time.Second):
		t.Fatal("no snapshot published")
	}

	unsubscribe()
	p.SetPending("again")
	select {
	case snap := <-updates:
		t.Fatalf("unexpected snapshot after unsubscribe: %+v", snap)
	default:
	}
	assert.Equal(t, "again", p.Snapshot().Pending)
}

func TestSubmitHonoursCancellation(t *testing.T) {
	conn := newFakeConn("hello", "alice.test")
	conn.hold("hi")
	clock := newManualClock()
	p := startPanel(t, conn, Reconciled, clock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := p.Submit(ctx, "hi")
		done <- err
	}()
	clock.next(t)
	cancel()

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(2 * time.Second):
		t.Fatal("submit ignored cancellation")
	}
	snap := p.Snapshot()
	assert.Equal(t, "hello", snap.Greeting)
	assert.False(t, snap.Spinner)
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("Legacy")
	require.NoError(t, err)
	assert.Equal(t, Legacy, s)

	s, err = ParseStrategy("")
	require.NoError(t, err)
	assert.Equal(t, Reconciled, s)

	_, err = ParseStrategy("eventual")
	assert.Error(t, err)
}
