package chat

import (
	"context"
	"sync"
	"testing"
)

func TestRegistryCreateGetRemove(t *testing.T) {
	r := NewRegistry()

	s := r.Create("conn-1")
	if s.ConnectionID != "conn-1" {
		t.Errorf("expected connection id on session, got %q", s.ConnectionID)
	}

	got, ok := r.Get("conn-1")
	if !ok || got != s {
		t.Error("expected to get back the created session")
	}

	if _, ok := r.Get("absent"); ok {
		t.Error("expected absent lookup to miss")
	}

	r.Remove("conn-1")
	if _, ok := r.Get("conn-1"); ok {
		t.Error("expected session gone after remove")
	}

	// removing twice is a no-op
	r.Remove("conn-1")
	r.Remove("never-existed")
}

func TestRegistryCreateReplacesExisting(t *testing.T) {
	r := NewRegistry()

	old := r.Create("conn-1")
	old.markForDeletion()

	fresh := r.Create("conn-1")
	if fresh == old {
		t.Error("expected create to replace the existing session")
	}
	fresh.mu.Lock()
	if fresh.pendingDeletion {
		t.Error("expected replacement session to start clean")
	}
	fresh.mu.Unlock()
	if r.Len() != 1 {
		t.Errorf("expected one session, got %d", r.Len())
	}
}

func TestSessionSingleWorker(t *testing.T) {
	s := &Session{ConnectionID: "conn-1"}

	if !s.beginWork(func() {}) {
		t.Fatal("expected first beginWork to succeed")
	}
	if s.beginWork(func() {}) {
		t.Fatal("expected second beginWork to fail while processing")
	}

	s.endWork()
	if !s.beginWork(func() {}) {
		t.Fatal("expected beginWork to succeed after endWork")
	}
	s.endWork()
}

func TestSessionConcurrentBeginWork(t *testing.T) {
	s := &Session{ConnectionID: "conn-1"}

	const attempts = 50
	var wg sync.WaitGroup
	wins := make(chan struct{}, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if s.beginWork(func() {}) {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	if count != 1 {
		t.Errorf("expected exactly one worker to win, got %d", count)
	}
}

func TestSessionCancelAckedOnce(t *testing.T) {
	s := &Session{ConnectionID: "conn-1"}
	_, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.beginWork(cancel)

	if s.ackCancel() {
		t.Error("expected no ack before a cancel request")
	}

	if _, _, live := s.requestCancel(); !live {
		t.Fatal("expected live worker")
	}
	if !s.ackCancel() {
		t.Error("expected first ack after request to succeed")
	}
	if s.ackCancel() {
		t.Error("expected second ack to be refused")
	}
	s.endWork()
}

func TestSessionCancelWithoutWorker(t *testing.T) {
	s := &Session{ConnectionID: "conn-1"}
	if _, _, live := s.requestCancel(); live {
		t.Error("expected no live worker on idle session")
	}
}
