package server

import (
	"context"
	"sync"

	"github.com/creachadair/jrpc2"

	"github.com/portplayer/portplayer/pkg/logger"
)

const notifyQueueSize = 256

type notification struct {
	method string
	params any
}

// Notifier pushes notifications to every connected jrpc2 server. Workers
// enqueue with Publish, which never blocks; a single goroutine started by
// Run delivers them in order.
type Notifier struct {
	mu      sync.RWMutex
	servers map[*jrpc2.Server]struct{}
	queue   chan notification
	log     logger.Logger
}

// NewNotifier returns a notifier without servers.
func NewNotifier(l logger.Logger) *Notifier {
	return &Notifier{
		servers: make(map[*jrpc2.Server]struct{}),
		queue:   make(chan notification, notifyQueueSize),
		log:     logger.Prefixed(l, "notify"),
	}
}

// Register adds srv to the broadcast set.
func (n *Notifier) Register(srv *jrpc2.Server) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.servers[srv] = struct{}{}
}

// Unregister removes srv from the broadcast set.
func (n *Notifier) Unregister(srv *jrpc2.Server) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.servers, srv)
}

// Count returns the number of registered servers.
func (n *Notifier) Count() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.servers)
}

// Publish queues a notification. When the queue is full the notification
// is dropped.
func (n *Notifier) Publish(method string, params any) {
	select {
	case n.queue <- notification{method: method, params: params}:
	default:
		n.log.Debug("Queue full, dropping %s.", method)
	}
}

// Run delivers queued notifications until ctx is done.
func (n *Notifier) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-n.queue:
			n.Broadcast(ctx, msg.method, msg.params)
		}
	}
}

// Broadcast sends a notification to every registered server. Servers that
// fail to receive it are unregistered.
func (n *Notifier) Broadcast(ctx context.Context, method string, params any) {
	n.mu.RLock()
	servers := make([]*jrpc2.Server, 0, len(n.servers))
	for srv := range n.servers {
		servers = append(servers, srv)
	}
	n.mu.RUnlock()

	var failed []*jrpc2.Server
	for _, srv := range servers {
		if err := srv.Notify(ctx, method, params); err != nil {
			n.log.Warning("Push of %s failed: %v", method, err)
			failed = append(failed, srv)
		}
	}
	if len(failed) == 0 {
		return
	}
	n.mu.Lock()
	for _, srv := range failed {
		delete(n.servers, srv)
	}
	n.mu.Unlock()
}
