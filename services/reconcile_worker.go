package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"makanMatesAPI/internal/store"
)

const DefaultReconcileSchedule = "@every 15m"

// ReconcileWorker periodically sweeps every user's events and completes
// finalizations that a crashed or offline client left half done.
type ReconcileWorker struct {
	store         store.Store
	events        *EventService
	confirmations *ConfirmationService
	cron          *cron.Cron
}

type SweepStats struct {
	Users     int
	Confirmed int
	Removed   int
	Failed    int
}

func NewReconcileWorker(st store.Store, events *EventService, confirmations *ConfirmationService, loc *time.Location) *ReconcileWorker {
	if loc == nil {
		loc = time.UTC
	}
	return &ReconcileWorker{
		store:         st,
		events:        events,
		confirmations: confirmations,
		cron:          cron.New(cron.WithLocation(loc)),
	}
}

func (w *ReconcileWorker) Start(schedule string) error {
	if schedule == "" {
		schedule = DefaultReconcileSchedule
	}

	_, err := w.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		stats, err := w.RunOnce(ctx)
		if err != nil {
			log.Printf("ReconcileWorker: sweep failed: %v", err)
			return
		}
		if stats.Confirmed > 0 {
			log.Printf("ReconcileWorker: %d users, %d confirmed events, %d pairs closed, %d failed",
				stats.Users, stats.Confirmed, stats.Removed, stats.Failed)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid reconcile schedule %q: %w", schedule, err)
	}

	w.cron.Start()
	log.Printf("Reconcile worker scheduled (%s)", schedule)
	return nil
}

// Stop waits for a running sweep to finish.
func (w *ReconcileWorker) Stop() {
	<-w.cron.Stop().Done()
	log.Println("Reconcile worker stopped")
}

// RunOnce reconciles every owner-confirmed event in the store. Failures of
// single events are counted and logged; only a failure to enumerate users
// aborts the sweep.
func (w *ReconcileWorker) RunOnce(ctx context.Context) (*SweepStats, error) {
	uids, err := w.store.Keys(ctx, "users")
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	stats := &SweepStats{Users: len(uids)}
	for _, uid := range uids {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}

		events, err := w.events.List(ctx, uid)
		if err != nil {
			log.Printf("ReconcileWorker: list events of %s: %v", uid, err)
			stats.Failed++
			continue
		}

		for _, ev := range events {
			if !ev.ConfirmedByUser {
				continue
			}
			stats.Confirmed++

			result, err := w.confirmations.Reconcile(ctx, ev)
			if err != nil {
				log.Printf("ReconcileWorker: reconcile %s/%s: %v", uid, ev.ID, err)
				stats.Failed++
				continue
			}
			if result.State == StateRemoved {
				stats.Removed++
			}
		}
	}
	return stats, nil
}
