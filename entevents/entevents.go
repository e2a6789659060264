package entevents

import (
	"cmp"
	"context"
	"errors"
	"io"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/tarik02/apiproxy/logging"
	"go.uber.org/zap"
)

const (
	EventTypeInit   = "init"
	EventTypeAdd    = "add"
	EventTypeDel    = "del"
	EventTypeUpdate = "update"
)

var ErrShutdown = errors.New("entevents is shutting down")

type EntityEvent[T any] struct {
	ID      string
	Type    string
	Entity  T
	Payload any
}

type clientChan[T any] chan EntityEvent[T]

// Manager keeps a keyed snapshot of entities and fans out changes to subscribed
// clients. All state is owned by the run loop.
type Manager[T any] struct {
	newClients    chan clientChan[T]
	closedClients chan clientChan[T]
	events        chan EntityEvent[T]

	shutdown   bool
	shutdownMu sync.Mutex
	shutdownCh chan struct{}
	runDoneCh  chan struct{}
}

func New[T any](ctx context.Context) *Manager[T] {
	e := &Manager[T]{
		newClients:    make(chan clientChan[T]),
		closedClients: make(chan clientChan[T]),
		events:        make(chan EntityEvent[T]),

		shutdownCh: make(chan struct{}),
		runDoneCh:  make(chan struct{}),
	}

	go e.run(ctx)

	return e
}

func (e *Manager[T]) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-e.runDoneCh:
		return ErrShutdown
	}
}

func (e *Manager[T]) Close() error {
	e.shutdownMu.Lock()
	if e.shutdown {
		e.shutdownMu.Unlock()
		<-e.runDoneCh
		return nil
	}
	e.shutdown = true
	close(e.shutdownCh)
	e.shutdownMu.Unlock()

	<-e.runDoneCh
	return nil
}

func (e *Manager[T]) send(ctx context.Context, ev EntityEvent[T]) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-e.runDoneCh:
		return ErrShutdown
	case e.events <- ev:
		return nil
	}
}

func (e *Manager[T]) Add(ctx context.Context, id string, entity T) error {
	return e.send(ctx, EntityEvent[T]{ID: id, Type: EventTypeAdd, Entity: entity, Payload: entity})
}

func (e *Manager[T]) Update(ctx context.Context, id string, entity T) error {
	return e.send(ctx, EntityEvent[T]{ID: id, Type: EventTypeUpdate, Entity: entity, Payload: entity})
}

func (e *Manager[T]) Del(ctx context.Context, id string) error {
	return e.send(ctx, EntityEvent[T]{ID: id, Type: EventTypeDel, Payload: id})
}

// Subscribe returns a channel that first receives an init event with the snapshot
// and then every change. cancel must be called to release the subscription.
func (e *Manager[T]) Subscribe(ctx context.Context) (<-chan EntityEvent[T], func(), error) {
	client := make(clientChan[T], 16)

	select {
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	case <-e.runDoneCh:
		return nil, nil, ErrShutdown
	case e.newClients <- client:
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			select {
			case <-e.runDoneCh:
			case e.closedClients <- client:
			}
		})
	}

	return client, cancel, nil
}

func (e *Manager[T]) run(ctx context.Context) {
	defer close(e.runDoneCh)

	log := logging.FromContext(ctx).Named("entevents")

	clients := make(map[clientChan[T]]bool)
	snapshot := make(map[string]T)

	defer func() {
		for client := range clients {
			close(client)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case <-e.shutdownCh:
			return

		case client := <-e.newClients:
			clients[client] = true
			client <- EntityEvent[T]{Type: EventTypeInit, Payload: sortedSnapshot(snapshot)}

		case client := <-e.closedClients:
			if clients[client] {
				delete(clients, client)
				close(client)
			}

		case ev := <-e.events:
			if !apply(snapshot, ev) {
				continue
			}
			for client := range clients {
				select {
				case client <- ev:
				default:
					log.Warn("dropping slow client")
					delete(clients, client)
					close(client)
				}
			}
		}
	}
}

func apply[T any](snapshot map[string]T, ev EntityEvent[T]) bool {
	_, exists := snapshot[ev.ID]

	switch ev.Type {
	case EventTypeAdd:
		if exists {
			return false
		}
		snapshot[ev.ID] = ev.Entity

	case EventTypeDel:
		if !exists {
			return false
		}
		delete(snapshot, ev.ID)

	default:
		if !exists {
			return false
		}
		snapshot[ev.ID] = ev.Entity
	}

	return true
}

func sortedSnapshot[T any](snapshot map[string]T) []T {
	ids := make([]string, 0, len(snapshot))
	for id := range snapshot {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, compareIDs)

	res := make([]T, len(ids))
	for i, id := range ids {
		res[i] = snapshot[id]
	}
	return res
}

// compareIDs orders numeric ids by value, ahead of any non-numeric ids, which
// sort as strings.
func compareIDs(a, b string) int {
	na, errA := strconv.ParseInt(a, 10, 64)
	nb, errB := strconv.ParseInt(b, 10, 64)
	switch {
	case errA == nil && errB == nil:
		return cmp.Compare(na, nb)
	case errA == nil:
		return -1
	case errB == nil:
		return 1
	}
	return strings.Compare(a, b)
}

func (e *Manager[T]) ServeSnapshot(c *gin.Context) {
	events, cancel, err := e.Subscribe(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	defer cancel()

	snapshot, ok := <-events
	if !ok {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": ErrShutdown.Error()})
		return
	}

	logging.FromContext(c.Request.Context()).Debug("serving snapshot", zap.Any("payload", snapshot.Payload))
	c.JSON(http.StatusOK, snapshot.Payload)
}

func (e *Manager[T]) ServeSSE(c *gin.Context) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	events, cancel, err := e.Subscribe(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	defer cancel()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case msg, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(msg.Type, msg.Payload)
			return true
		}
	})
}
