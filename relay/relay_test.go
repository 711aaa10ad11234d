package relay

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/aegis-relief/relay-go/models"
)

type fakeStore struct {
	mu   sync.Mutex
	seen map[string]models.Transaction
	err  error
}

func newFakeStore() *fakeStore {
	return &fakeStore{seen: make(map[string]models.Transaction)}
}

func (s *fakeStore) RecordTransaction(_ context.Context, tx models.Transaction) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	if _, dup := s.seen[tx.TxHash]; dup {
		return false, nil
	}
	s.seen[tx.TxHash] = tx
	return true, nil
}

type fakeBroadcaster struct {
	mu        sync.Mutex
	toSession map[string][]any
	toAll     []any
}

func newFakeBroadcaster() *fakeBroadcaster {
	return &fakeBroadcaster{toSession: make(map[string][]any)}
}

func (b *fakeBroadcaster) EmitToSession(id string, event any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.toSession[id] = append(b.toSession[id], event)
}

func (b *fakeBroadcaster) EmitToAll(event any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.toAll = append(b.toAll, event)
}

func (b *fakeBroadcaster) sessionFrames(id string) []any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.toSession[id]
}

func (b *fakeBroadcaster) allCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.toAll)
}

func transfer(hash, from, to string, tokenID int64, amount string) models.TransferEvent {
	return models.TransferEvent{
		TxHash:  hash,
		From:    from,
		To:      to,
		TokenID: tokenID,
		Amount:  amount,
	}
}

func TestHandleBroadcastsOnFirstInsert(t *testing.T) {
	store := newFakeStore()
	bcast := newFakeBroadcaster()
	router := NewRouter()
	router.Subscribe("sess-sender", "0xaa00000000000000000000000000000000000000")
	router.Subscribe("sess-recipient", "0xbb00000000000000000000000000000000000000")

	p := NewPipeline(store, bcast, router, nil)
	p.Handle(context.Background(), transfer(
		"0x01",
		"0xAA00000000000000000000000000000000000000",
		"0xBB00000000000000000000000000000000000000",
		2, "1000000000000000000",
	))

	if bcast.allCount() != 1 {
		t.Fatalf("expected 1 global frame, got %d", bcast.allCount())
	}

	sent := bcast.sessionFrames("sess-sender")
	if len(sent) != 1 {
		t.Fatalf("expected 1 frame to sender session, got %d", len(sent))
	}
	sf, ok := sent[0].(models.TokenTransferFrame)
	if !ok {
		t.Fatalf("unexpected frame type %T", sent[0])
	}
	if sf.Type != models.DirectionSent {
		t.Errorf("sender saw direction %q, want %q", sf.Type, models.DirectionSent)
	}
	if sf.Amount != "1" {
		t.Errorf("expected formatted amount 1, got %q", sf.Amount)
	}
	if sf.From != "0xaa00000000000000000000000000000000000000" {
		t.Errorf("from not normalized: %q", sf.From)
	}

	recv := bcast.sessionFrames("sess-recipient")
	if len(recv) != 1 {
		t.Fatalf("expected 1 frame to recipient session, got %d", len(recv))
	}
	rf := recv[0].(models.TokenTransferFrame)
	if rf.Type != models.DirectionReceived {
		t.Errorf("recipient saw direction %q, want %q", rf.Type, models.DirectionReceived)
	}
}

func TestHandleDuplicateBroadcastsNothing(t *testing.T) {
	store := newFakeStore()
	bcast := newFakeBroadcaster()
	router := NewRouter()
	router.Subscribe("sess", "0xaa00000000000000000000000000000000000000")

	p := NewPipeline(store, bcast, router, nil)
	ev := transfer("0xdead", "0xAA00000000000000000000000000000000000000",
		"0xBB00000000000000000000000000000000000000", 1, "5")

	p.Handle(context.Background(), ev)
	p.Handle(context.Background(), ev)
	p.Handle(context.Background(), ev)

	if bcast.allCount() != 1 {
		t.Errorf("expected exactly 1 global frame across redeliveries, got %d", bcast.allCount())
	}
	if n := len(bcast.sessionFrames("sess")); n != 1 {
		t.Errorf("expected exactly 1 session frame across redeliveries, got %d", n)
	}
	if len(store.seen) != 1 {
		t.Errorf("expected 1 stored transaction, got %d", len(store.seen))
	}
}

func TestHandleStoreErrorSuppressesBroadcast(t *testing.T) {
	store := newFakeStore()
	store.err = errors.New("connection refused")
	bcast := newFakeBroadcaster()
	p := NewPipeline(store, bcast, NewRouter(), nil)

	p.Handle(context.Background(), transfer("0x02", "0xaa00000000000000000000000000000000000000",
		"0xbb00000000000000000000000000000000000000", 1, "10"))

	if bcast.allCount() != 0 {
		t.Errorf("broadcast happened despite store failure")
	}
}

func TestHandleSkipsEmptyHash(t *testing.T) {
	store := newFakeStore()
	bcast := newFakeBroadcaster()
	p := NewPipeline(store, bcast, NewRouter(), nil)

	p.Handle(context.Background(), transfer("", "0xaa00000000000000000000000000000000000000",
		"0xbb00000000000000000000000000000000000000", 1, "10"))

	if len(store.seen) != 0 || bcast.allCount() != 0 {
		t.Error("event without tx hash was processed")
	}
}

func TestHandleSelfTransferNotifiesOnce(t *testing.T) {
	store := newFakeStore()
	bcast := newFakeBroadcaster()
	router := NewRouter()
	addr := "0xaa00000000000000000000000000000000000000"
	router.Subscribe("sess", addr)

	p := NewPipeline(store, bcast, router, nil)
	p.Handle(context.Background(), transfer("0x03", addr, addr, 1, "7"))

	frames := bcast.sessionFrames("sess")
	if len(frames) != 1 {
		t.Fatalf("self transfer delivered %d frames, want 1", len(frames))
	}
	if f := frames[0].(models.TokenTransferFrame); f.Type != models.DirectionSent {
		t.Errorf("self transfer direction %q, want %q", f.Type, models.DirectionSent)
	}
}

type fakeInvalidator struct {
	mu      sync.Mutex
	deleted []string
}

func (f *fakeInvalidator) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, key)
	return nil
}

func TestHandleInvalidatesBalancesOnInsert(t *testing.T) {
	store := newFakeStore()
	bcast := newFakeBroadcaster()
	inv := &fakeInvalidator{}
	p := NewPipeline(store, bcast, NewRouter(), inv)

	ev := transfer("0x10", "0xAA00000000000000000000000000000000000000",
		"0xBB00000000000000000000000000000000000000", 1, "5")
	p.Handle(context.Background(), ev)

	want := []string{
		"0xaa00000000000000000000000000000000000000",
		"0xbb00000000000000000000000000000000000000",
	}
	if len(inv.deleted) != 2 || inv.deleted[0] != want[0] || inv.deleted[1] != want[1] {
		t.Errorf("invalidated %v, want %v", inv.deleted, want)
	}

	// Duplicate delivery leaves the cache alone.
	p.Handle(context.Background(), ev)
	if len(inv.deleted) != 2 {
		t.Errorf("duplicate delivery invalidated again: %v", inv.deleted)
	}
}

func TestHandleSelfTransferInvalidatesOnce(t *testing.T) {
	store := newFakeStore()
	bcast := newFakeBroadcaster()
	inv := &fakeInvalidator{}
	p := NewPipeline(store, bcast, NewRouter(), inv)

	addr := "0xaa00000000000000000000000000000000000000"
	p.Handle(context.Background(), transfer("0x11", addr, addr, 1, "5"))

	if len(inv.deleted) != 1 || inv.deleted[0] != addr {
		t.Errorf("self transfer invalidated %v, want just %s", inv.deleted, addr)
	}
}

func TestRouterSubscribeReplacesPrevious(t *testing.T) {
	r := NewRouter()
	r.Subscribe("sess", "0xaa")
	r.Subscribe("sess", "0xbb")

	if got := r.Sessions("0xaa"); len(got) != 0 {
		t.Errorf("old address still routed: %v", got)
	}
	if got := r.Sessions("0xbb"); len(got) != 1 || got[0] != "sess" {
		t.Errorf("new address not routed: %v", got)
	}
}

func TestRouterUnsubscribeIdempotent(t *testing.T) {
	r := NewRouter()
	r.Subscribe("sess", "0xaa")
	r.Unsubscribe("sess")
	r.Unsubscribe("sess")

	if got := r.Sessions("0xaa"); len(got) != 0 {
		t.Errorf("session still routed after unsubscribe: %v", got)
	}
}

func TestRouterSharedAddress(t *testing.T) {
	r := NewRouter()
	r.Subscribe("a", "0xaa")
	r.Subscribe("b", "0xaa")

	if got := r.Sessions("0xaa"); len(got) != 2 {
		t.Fatalf("expected 2 sessions on shared address, got %v", got)
	}
	r.Unsubscribe("a")
	if got := r.Sessions("0xaa"); len(got) != 1 || got[0] != "b" {
		t.Errorf("expected b to survive, got %v", got)
	}
}
