package linkstate

import (
	"context"
	"errors"
	"testing"
)

// countingStore fails its first N calls to each method with a recoverable
// error, then succeeds; used to verify WithRetry's exactly-once retry.
type countingStore struct {
	failFirst int
	calls     int
}

func (s *countingStore) UpdateState(ctx context.Context, url string, typ StateType) error {
	s.calls++
	if s.calls <= s.failFirst {
		return newError("update-state", KindRecoverableFailure, errors.New("busy"))
	}
	return nil
}
func (s *countingStore) Upsert(ctx context.Context, url string, rec Record) error { return nil }
func (s *countingStore) Get(ctx context.Context, url string) (Record, bool, error) {
	return Record{}, false, nil
}
func (s *countingStore) CountState(ctx context.Context, typ StateType) (uint64, error) { return 0, nil }
func (s *countingStore) ScanAnyState(ctx context.Context, types []StateType) (bool, error) {
	return false, nil
}
func (s *countingStore) Close() error { return nil }

// damagedStore fails every UpdateState with a non-recoverable error.
type damagedStore struct{ countingStore }

func (s *damagedStore) UpdateState(ctx context.Context, url string, typ StateType) error {
	s.calls++
	return newError("update-state", KindDamaged, errors.New("corrupt"))
}

func TestWithRetryRetriesRecoverableFailureOnce(t *testing.T) {
	inner := &countingStore{failFirst: 1}
	store := WithRetry(inner)

	if err := store.UpdateState(context.Background(), "https://example.com", Discovered); err != nil {
		t.Fatalf("expected single retry to succeed, got: %v", err)
	}
	if inner.calls != 2 {
		t.Fatalf("expected exactly 2 calls (1 fail + 1 retry), got %d", inner.calls)
	}
}

func TestWithRetryDoesNotRetryTwice(t *testing.T) {
	inner := &countingStore{failFirst: 2}
	store := WithRetry(inner)

	err := store.UpdateState(context.Background(), "https://example.com", Discovered)
	if err == nil {
		t.Fatal("expected failure after a single retry is exhausted")
	}
	if inner.calls != 2 {
		t.Fatalf("expected exactly 2 calls (no second retry), got %d", inner.calls)
	}
}

func TestWithRetryDoesNotRetryNonRecoverable(t *testing.T) {
	inner := &damagedStore{}
	var target *DatabaseError
	nonRecoverable := newError("update-state", KindDamaged, errors.New("corrupt"))
	if asDatabaseError(nonRecoverable, &target) && target.Recoverable() {
		t.Fatal("KindDamaged must not be classified as recoverable")
	}

	store := WithRetry(inner)
	if err := store.UpdateState(context.Background(), "https://example.com", Discovered); err == nil {
		t.Fatal("expected the non-recoverable failure to propagate")
	}
	if inner.calls != 1 {
		t.Fatalf("expected exactly 1 call (no retry), got %d", inner.calls)
	}
}
