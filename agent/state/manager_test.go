package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestManagerMutateCreatesSessionOnFirstUse(t *testing.T) {
	t.Parallel()

	mgr, err := NewManager(NewMemoryStore())
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	sess, err := mgr.Mutate(context.Background(), "fresh-session", func(sess *Session) error {
		sess.AppendTurn(RoleUser, "hello", nil, time.Now().UTC())
		return nil
	})
	if err != nil {
		t.Fatalf("Mutate() error = %v", err)
	}
	if sess.ID != "fresh-session" {
		t.Fatalf("session ID = %q, want %q", sess.ID, "fresh-session")
	}
	if len(sess.Turns) != 1 {
		t.Fatalf("len(Turns) = %d, want 1", len(sess.Turns))
	}

	reloaded, err := mgr.Load(context.Background(), "fresh-session")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(reloaded.Turns) != 1 {
		t.Fatalf("reloaded len(Turns) = %d, want 1", len(reloaded.Turns))
	}
}

func TestManagerLoadMissReturnsBlankWithoutPersisting(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	mgr, err := NewManager(store)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	sess, err := mgr.Load(context.Background(), "never-seen")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if sess.ID != "never-seen" || len(sess.Turns) != 0 {
		t.Fatalf("Load() = %+v, want blank session", sess)
	}

	if _, err := store.Load(context.Background(), "never-seen"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("store.Load() error = %v, want ErrSessionNotFound (blank must not persist)", err)
	}
}

func TestManagerMutateFnErrorSavesNothing(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	mgr, err := NewManager(store)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	wantErr := errors.New("boom")
	_, err = mgr.Mutate(context.Background(), "session-1", func(sess *Session) error {
		sess.AppendTurn(RoleUser, "hello", nil, time.Now().UTC())
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("Mutate() error = %v, want %v", err, wantErr)
	}

	if _, err := store.Load(context.Background(), "session-1"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("store.Load() error = %v, want ErrSessionNotFound after failed mutate", err)
	}
}

func TestManagerMutateRejectsCorruptMutation(t *testing.T) {
	t.Parallel()

	mgr, err := NewManager(NewMemoryStore())
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	_, err = mgr.Mutate(context.Background(), "session-1", func(sess *Session) error {
		sess.Turns = []Turn{{Seq: 7, Role: RoleUser, Content: "hi"}}
		return nil
	})
	if !errors.Is(err, ErrSeqCorrupt) {
		t.Fatalf("Mutate() error = %v, want ErrSeqCorrupt", err)
	}
}

func TestManagerConcurrentAppendsStayGapless(t *testing.T) {
	t.Parallel()

	mgr, err := NewManager(NewMemoryStore())
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	const workers = 16
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := mgr.Append(context.Background(), "shared", RoleUser, fmt.Sprintf("msg-%d", i), nil)
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	sess, err := mgr.Load(context.Background(), "shared")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(sess.Turns) != workers {
		t.Fatalf("len(Turns) = %d, want %d", len(sess.Turns), workers)
	}
	if err := sess.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestManagerDistinctSessionsDoNotBlockEachOther(t *testing.T) {
	t.Parallel()

	mgr, err := NewManager(NewMemoryStore())
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	holdA := make(chan struct{})
	aEntered := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		_, err := mgr.Mutate(context.Background(), "session-a", func(sess *Session) error {
			close(aEntered)
			<-holdA
			return nil
		})
		done <- err
	}()

	<-aEntered

	bDone := make(chan error, 1)
	go func() {
		_, err := mgr.Mutate(context.Background(), "session-b", func(sess *Session) error {
			sess.AppendTurn(RoleUser, "independent", nil, time.Now().UTC())
			return nil
		})
		bDone <- err
	}()

	select {
	case err := <-bDone:
		if err != nil {
			t.Fatalf("Mutate(session-b) error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Mutate(session-b) blocked behind session-a lock")
	}

	close(holdA)
	if err := <-done; err != nil {
		t.Fatalf("Mutate(session-a) error = %v", err)
	}
}

func TestManagerClockOverride(t *testing.T) {
	t.Parallel()

	fixed := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	mgr, err := NewManager(NewMemoryStore(), WithClock(func() time.Time { return fixed }))
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	turn, err := mgr.Append(context.Background(), "session-1", RoleUser, "hello", nil)
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if !turn.Timestamp.Equal(fixed) {
		t.Fatalf("turn.Timestamp = %v, want %v", turn.Timestamp, fixed)
	}
}

func TestNewManagerRequiresStore(t *testing.T) {
	t.Parallel()

	if _, err := NewManager(nil); err == nil {
		t.Fatalf("NewManager(nil) error = nil, want error")
	}
}
