package services

import (
	"context"
	"log"
	"sync"
	"time"

	"makanMatesAPI/internal/metrics"
	"makanMatesAPI/internal/notification"
)

type PushProvider interface {
	SendPush(ctx context.Context, tokens []notification.DeviceToken, title, body string, data map[string]any) error
}

type TokenSource func(ctx context.Context, uid string) ([]notification.DeviceToken, error)

// NotificationDispatcher sends queued notifications from a fixed worker pool.
type NotificationDispatcher struct {
	pushProvider PushProvider
	tokens       TokenSource
	workers      int
	jobQueue     chan *notification.Notification
	stopChan     chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup
}

func NewNotificationDispatcher(provider PushProvider, tokens TokenSource, workers int) *NotificationDispatcher {
	if workers <= 0 {
		workers = 5
	}
	if provider == nil {
		provider = LogPushProvider{}
	}

	d := &NotificationDispatcher{
		pushProvider: provider,
		tokens:       tokens,
		workers:      workers,
		jobQueue:     make(chan *notification.Notification, 100),
		stopChan:     make(chan struct{}),
	}
	d.startWorkers()
	return d
}

func (d *NotificationDispatcher) startWorkers() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
}

func (d *NotificationDispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case notif := <-d.jobQueue:
			d.process(notif)
		case <-d.stopChan:
			return
		}
	}
}

func (d *NotificationDispatcher) process(notif *notification.Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tokens, err := d.tokens(ctx, notif.UserID)
	if err != nil {
		log.Printf("Dispatcher: failed to load devices for %s: %v", notif.UserID, err)
		metrics.NotificationsSent.WithLabelValues(string(notif.Type), "error").Inc()
		return
	}
	if len(tokens) == 0 {
		metrics.NotificationsSent.WithLabelValues(string(notif.Type), "no_device").Inc()
		return
	}

	if err := d.pushProvider.SendPush(ctx, tokens, notif.Title, notif.Body, notif.Data); err != nil {
		log.Printf("Dispatcher: push failed for user %s: %v", notif.UserID, err)
		metrics.NotificationsSent.WithLabelValues(string(notif.Type), "error").Inc()
		return
	}
	metrics.NotificationsSent.WithLabelValues(string(notif.Type), "sent").Inc()
}

// Dispatch queues a notification. A full queue drops it after a short wait.
func (d *NotificationDispatcher) Dispatch(notif *notification.Notification) {
	select {
	case d.jobQueue <- notif:
	case <-d.stopChan:
		log.Printf("Dispatcher: stopped, dropping %s for %s", notif.Type, notif.UserID)
	case <-time.After(2 * time.Second):
		log.Printf("Dispatcher: queue full, dropping %s for %s", notif.Type, notif.UserID)
		metrics.NotificationsSent.WithLabelValues(string(notif.Type), "dropped").Inc()
	}
}

func (d *NotificationDispatcher) Stop() {
	d.stopOnce.Do(func() {
		log.Println("Stopping notification dispatcher...")
		close(d.stopChan)
		d.wg.Wait()
		log.Println("Notification dispatcher stopped")
	})
}

// LogPushProvider only logs; used when no FCM credentials are configured.
type LogPushProvider struct{}

func (LogPushProvider) SendPush(ctx context.Context, tokens []notification.DeviceToken, title, body string, data map[string]any) error {
	log.Printf("PUSH (log only): %d devices: %s - %s", len(tokens), title, body)
	return nil
}
