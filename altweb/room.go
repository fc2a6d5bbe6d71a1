// Package altweb streams filter estimates to browsers over websockets.
//
// Client-server layout adapted from Mat Ryer's Go Blueprints chat room,
// see https://github.com/matryer/goblueprints
package altweb

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/westphae/altfusion/altkal"
)

var (
	// ErrClosed is returned when publishing to a room that has stopped.
	ErrClosed = errors.New("altweb: room closed")
	// ErrNotStarted is returned when publishing to a room nobody runs.
	ErrNotStarted = errors.New("altweb: room not started")
)

type Room struct {
	// forward is a channel that holds incoming messages
	// that should be forwarded to the clients.
	forward chan []byte
	// join is a channel for clients wishing to join the room.
	join chan *client
	// leave is a channel for clients wishing to leave the room.
	leave chan *client
	// clients holds all current clients in this room.
	clients map[*client]bool

	done    chan struct{}
	started atomic.Bool // Start was called
	running atomic.Bool // Run was called
	cancel  context.CancelFunc
	n       atomic.Int32
	log     *slog.Logger
}

// NewRoom makes a new room that is ready to go once Run is called.
func NewRoom(logger *slog.Logger) *Room {
	if logger == nil {
		logger = slog.Default()
	}
	return &Room{
		forward: make(chan []byte),
		join:    make(chan *client),
		leave:   make(chan *client),
		clients: make(map[*client]bool),
		done:    make(chan struct{}),
		cancel:  func() {},
		log:     logger,
	}
}

// Start runs the room in its own goroutine until ctx is done or Close is called.
func (r *Room) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.started.Store(true)
	go r.Run(ctx)
}

// Run forwards published messages to every client until ctx is done.
func (r *Room) Run(ctx context.Context) {
	r.running.Store(true)
	defer func() {
		close(r.done)
		for c := range r.clients {
			delete(r.clients, c)
			close(c.send)
		}
		r.n.Store(0)
		r.log.Debug("AltWeb: room closed")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case c := <-r.join:
			r.clients[c] = true
			r.n.Store(int32(len(r.clients)))
			r.log.Info("AltWeb: new client joined", "remote", c.socket.RemoteAddr())
		case c := <-r.leave:
			if r.clients[c] {
				delete(r.clients, c)
				close(c.send)
			}
			r.n.Store(int32(len(r.clients)))
			r.log.Info("AltWeb: client left", "remote", c.socket.RemoteAddr())
		case msg := <-r.forward:
			for c := range r.clients {
				select {
				case c.send <- msg:
				default:
					r.log.Debug("AltWeb: couldn't send to client, dropping message", "remote", c.socket.RemoteAddr())
				}
			}
		}
	}
}

// Clients returns the number of connected clients.
func (r *Room) Clients() int {
	return int(r.n.Load())
}

// Publish sends est to every client as JSON.
func (r *Room) Publish(est altkal.Estimate) error {
	if !r.started.Load() && !r.running.Load() {
		return ErrNotStarted
	}
	msg, err := json.Marshal(est.Finite())
	if err != nil {
		return err
	}
	select {
	case r.forward <- msg:
		return nil
	case <-r.done:
		return ErrClosed
	}
}

// Write publishes est, so a Room can serve as a report.Sink.
func (r *Room) Write(est altkal.Estimate) error {
	return r.Publish(est)
}

// Close stops a room started with Start and disconnects its clients.
func (r *Room) Close() error {
	if !r.started.Load() {
		return nil
	}
	r.cancel()
	<-r.done
	return nil
}

const (
	socketBufferSize  = 1024
	messageBufferSize = 256
)

var upgrader = &websocket.Upgrader{ReadBufferSize: socketBufferSize, WriteBufferSize: socketBufferSize}

func (r *Room) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	socket, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.log.Warn("AltWeb: can't upgrade connection", "remote", req.RemoteAddr, "err", err)
		return
	}
	c := &client{
		socket: socket,
		send:   make(chan []byte, messageBufferSize),
		room:   r,
	}
	select {
	case r.join <- c:
	case <-r.done:
		socket.Close()
		return
	}
	defer func() {
		select {
		case r.leave <- c:
		case <-r.done:
		}
	}()
	go c.write()
	c.read()
}
