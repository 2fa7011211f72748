package lock_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"crewboard/internal/domain"
	"crewboard/internal/lock"
)

func TestWithLockRuns(t *testing.T) {
	m := lock.New(t.TempDir(), time.Second, time.Millisecond)
	ran := false
	err := m.WithLock(context.Background(), func() error {
		ran = true
		return nil
	})
	if err != nil || !ran {
		t.Fatalf("expected fn to run: %v", err)
	}
}

func TestWithLockPropagatesError(t *testing.T) {
	m := lock.New(t.TempDir(), time.Second, time.Millisecond)
	sentinel := errors.New("boom")
	if err := m.WithLock(context.Background(), func() error { return sentinel }); !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel, got %v", err)
	}
}

func TestWithLockTimesOutWhileHeld(t *testing.T) {
	dir := t.TempDir()
	holder := lock.New(dir, time.Second, time.Millisecond)
	waiter := lock.New(dir, 150*time.Millisecond, 5*time.Millisecond)

	release := make(chan struct{})
	held := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = holder.WithLock(context.Background(), func() error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	err := waiter.WithLock(context.Background(), func() error { return nil })
	if domain.CodeOf(err) != domain.CodeLockTimeout {
		t.Fatalf("expected LOCK_TIMEOUT, got %v", err)
	}
	close(release)
	wg.Wait()
}

func TestLockReleasedAfterUse(t *testing.T) {
	dir := t.TempDir()
	first := lock.New(dir, time.Second, time.Millisecond)
	second := lock.New(dir, time.Second, time.Millisecond)
	if err := first.WithLock(context.Background(), func() error { return nil }); err != nil {
		t.Fatal(err)
	}
	if err := second.WithLock(context.Background(), func() error { return nil }); err != nil {
		t.Fatalf("lock not released: %v", err)
	}
}

func TestWithLockMutualExclusion(t *testing.T) {
	dir := t.TempDir()
	var active, peak int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m := lock.New(dir, 5*time.Second, time.Millisecond)
			_ = m.WithLock(context.Background(), func() error {
				mu.Lock()
				active++
				if active > peak {
					peak = active
				}
				mu.Unlock()
				time.Sleep(10 * time.Millisecond)
				mu.Lock()
				active--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()
	if peak != 1 {
		t.Fatalf("expected exclusive access, saw %d concurrent holders", peak)
	}
}
