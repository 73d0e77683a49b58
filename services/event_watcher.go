package services

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"makanMatesAPI/internal/event"
	"makanMatesAPI/internal/store"
)

// EventWatcher subscribes to users' event collections and reconciles every
// confirmed copy it sees, so a pair completes even when the partner's client
// only flips its own flag. A subscription ends by itself once the collection
// holds no half-confirmed pair.
type EventWatcher struct {
	store         store.Store
	confirmations *ConfirmationService

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	subs map[string]*subscription
}

// subscription is one live Subscribe call. gen moves on every Watch of the
// same user, so a release decided before that Watch is dropped.
type subscription struct {
	gen         uint64
	unsubscribe func()
}

func NewEventWatcher(st store.Store, confirmations *ConfirmationService) *EventWatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &EventWatcher{
		store:         st,
		confirmations: confirmations,
		ctx:           ctx,
		cancel:        cancel,
		subs:          make(map[string]*subscription),
	}
}

// Watch subscribes to uid's events. Watching an already watched user keeps
// the existing subscription alive.
func (w *EventWatcher) Watch(uid string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.ctx.Err() != nil {
		return w.ctx.Err()
	}
	if sub, ok := w.subs[uid]; ok {
		sub.gen++
		return nil
	}

	sub := &subscription{}
	unsubscribe, err := w.store.Subscribe(w.ctx, store.EventsPath(uid), func(children map[string]json.RawMessage) {
		w.mu.Lock()
		gen := sub.gen
		w.mu.Unlock()

		if w.handle(uid, children) == 0 {
			go w.release(uid, sub, gen)
		}
	})
	if err != nil {
		return err
	}

	sub.unsubscribe = unsubscribe
	w.subs[uid] = sub
	return nil
}

func (w *EventWatcher) Unwatch(uid string) {
	w.mu.Lock()
	sub, ok := w.subs[uid]
	delete(w.subs, uid)
	w.mu.Unlock()

	if ok {
		sub.unsubscribe()
	}
}

// release ends sub after a quiet snapshot. It does nothing when sub was
// replaced or watched again since gen was read. The collection is read once
// more after the subscription is gone, and a copy confirmed in between
// starts a fresh subscription.
func (w *EventWatcher) release(uid string, sub *subscription, gen uint64) {
	w.mu.Lock()
	if w.subs[uid] != sub || sub.gen != gen {
		w.mu.Unlock()
		return
	}
	delete(w.subs, uid)
	w.mu.Unlock()

	sub.unsubscribe()

	ctx, cancel := context.WithTimeout(w.ctx, 10*time.Second)
	defer cancel()

	children, err := w.store.List(ctx, store.EventsPath(uid))
	switch {
	case errors.Is(err, store.ErrNotFound):
		return
	case err != nil:
		if w.ctx.Err() != nil {
			return
		}
		log.Printf("EventWatcher: recheck of %s failed: %v", uid, err)
	case pendingCopies(uid, children) == 0:
		return
	}

	if err := w.Watch(uid); err != nil && w.ctx.Err() == nil {
		log.Printf("EventWatcher: rewatch of %s failed: %v", uid, err)
	}
}

func (w *EventWatcher) Watching(uid string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.subs[uid]
	return ok
}

func (w *EventWatcher) Stop() {
	w.cancel()

	w.mu.Lock()
	subs := w.subs
	w.subs = make(map[string]*subscription)
	w.mu.Unlock()

	for _, sub := range subs {
		sub.unsubscribe()
	}
	log.Println("Event watcher stopped")
}

// handle reconciles the confirmed copies of one snapshot and returns how many
// copies still belong to a half-confirmed pair.
func (w *EventWatcher) handle(uid string, children map[string]json.RawMessage) int {
	pending := 0
	for _, ev := range decodeEvents(uid, children) {
		if !ev.ConfirmedByUser {
			if ev.ConfirmedByPartner {
				pending++
			}
			continue
		}

		if w.reconcile(ev) != StateRemoved {
			pending++
		}
	}
	return pending
}

// pendingCopies counts the copies that still wait on a confirmation, without
// reconciling them.
func pendingCopies(uid string, children map[string]json.RawMessage) int {
	pending := 0
	for _, ev := range decodeEvents(uid, children) {
		if ev.ConfirmedByUser || ev.ConfirmedByPartner {
			pending++
		}
	}
	return pending
}

func (w *EventWatcher) reconcile(ev *event.Event) PairState {
	ctx, cancel := context.WithTimeout(w.ctx, 10*time.Second)
	defer cancel()

	result, err := w.confirmations.Reconcile(ctx, ev)
	if err != nil {
		log.Printf("EventWatcher: reconcile %s/%s failed: %v", ev.OwnerUID, ev.ID, err)
		return StateOneSided
	}
	return result.State
}
