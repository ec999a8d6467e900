package server

import (
	"context"
	"sync"
	"time"
)

const (
	// SyncEventFitness signals that a fresh fitness snapshot was stored.
	SyncEventFitness = "fitness-sync"
	// SyncEventCalendar signals that the calendar event list was refreshed.
	SyncEventCalendar = "calendar-sync"

	syncEventHeartbeat = "heartbeat"
)

// SyncMessage notifies connected dashboards that integration data changed
// for a user and which widget should re-render.
type SyncMessage struct {
	UserID    string
	EventType string
	Timestamp time.Time
}

// SyncDispatcher fans integration sync events out to per-user subscribers.
// Slow subscribers drop messages rather than block the publisher.
type SyncDispatcher struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*syncSubscriber
	nextID      int64
	bufferSize  int
}

type syncSubscriber struct {
	id     int64
	stream chan SyncMessage
}

func NewSyncDispatcher() *SyncDispatcher {
	return &SyncDispatcher{
		subscribers: make(map[string]map[int64]*syncSubscriber),
		bufferSize:  16,
	}
}

func (d *SyncDispatcher) Subscribe(ctx context.Context, userID string) (<-chan SyncMessage, func()) {
	if userID == "" {
		ch := make(chan SyncMessage)
		close(ch)
		return ch, func() {}
	}
	subscriber := &syncSubscriber{
		id:     d.nextSequence(),
		stream: make(chan SyncMessage, d.bufferSize),
	}
	d.registerSubscriber(userID, subscriber)
	cleanup := func() {
		d.unregisterSubscriber(userID, subscriber.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

func (d *SyncDispatcher) Publish(message SyncMessage) {
	if message.UserID == "" || message.EventType == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[message.UserID]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*syncSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- message:
		default:
		}
	}
}

func (d *SyncDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *SyncDispatcher) registerSubscriber(userID string, subscriber *syncSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[userID]; !ok {
		d.subscribers[userID] = make(map[int64]*syncSubscriber)
	}
	d.subscribers[userID][subscriber.id] = subscriber
}

func (d *SyncDispatcher) unregisterSubscriber(userID string, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[userID]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, userID)
		}
	}
	d.mu.Unlock()
}
