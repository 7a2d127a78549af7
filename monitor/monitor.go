/*
Copyright © 2021 the Krogh authors.
This file is part of Krogh.

Krogh is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

Krogh is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with Krogh.  If not, see <http://www.gnu.org/licenses/>.
*/

// Package monitor broadcasts the progress of a sweep to websocket
// clients.
package monitor

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/spatialmodel/krogh/sweep"
)

// writeWait is the time allowed to write a message to a client.
const writeWait = 10 * time.Second

// Hub maintains the set of connected clients and sends every status
// to each of them. A newly connected client first receives the latest
// status of every job seen so far.
type Hub struct {
	// Log receives connection errors. The default is the standard logger.
	Log logrus.FieldLogger

	upgrader   websocket.Upgrader
	status     chan sweep.Status
	register   chan *client
	unregister chan *client
	done       chan struct{}
}

type client struct {
	conn *websocket.Conn
	send chan sweep.Status
}

// NewHub returns a hub. Run must be called for it to do anything.
func NewHub() *Hub {
	return &Hub{
		status:     make(chan sweep.Status, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
	}
}

func (h *Hub) log() logrus.FieldLogger {
	if h.Log == nil {
		return logrus.StandardLogger()
	}
	return h.Log
}

// Notify queues s for broadcast. It can be used as sweep.Runner.Notify.
// Statuses sent after Run has returned are discarded.
func (h *Hub) Notify(s sweep.Status) {
	select {
	case h.status <- s:
	case <-h.done:
	}
}

// Run distributes statuses to clients until ctx is done. It must only
// be called once.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	clients := make(map[*client]bool)
	latest := make(map[int]sweep.Status)
	for {
		select {
		case <-ctx.Done():
			for c := range clients {
				close(c.send)
			}
			return
		case c := <-h.register:
			clients[c] = true
			for _, s := range snapshot(latest) {
				select {
				case c.send <- s:
				default:
				}
			}
		case c := <-h.unregister:
			if clients[c] {
				delete(clients, c)
				close(c.send)
			}
		case s := <-h.status:
			latest[s.Job] = s
			for c := range clients {
				select {
				case c.send <- s:
				default:
					// The client is not keeping up.
					delete(clients, c)
					close(c.send)
				}
			}
		}
	}
}

func snapshot(latest map[int]sweep.Status) []sweep.Status {
	o := make([]sweep.Status, 0, len(latest))
	for _, s := range latest {
		o = append(o, s)
	}
	sort.Slice(o, func(i, j int) bool { return o[i].Job < o[j].Job })
	return o
}

// ServeHTTP upgrades the connection to a websocket and streams statuses
// to it as JSON.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log().WithError(err).Warn("monitor: upgrading connection")
		return
	}
	c := &client{conn: conn, send: make(chan sweep.Status, 1024)}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	go c.readPump(h)
	c.writePump(h.log())
}

// readPump discards incoming messages and unregisters the client when
// the connection closes.
func (c *client) readPump(h *Hub) {
	for {
		if _, _, err := c.conn.NextReader(); err != nil {
			select {
			case h.unregister <- c:
			case <-h.done:
			}
			return
		}
	}
}

func (c *client) writePump(log logrus.FieldLogger) {
	defer c.conn.Close()
	for s := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(s); err != nil {
			log.WithError(err).Debug("monitor: writing status")
			return
		}
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// Serve listens on addr and serves the hub at path /status until ctx is
// done.
func (h *Hub) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/status", h)
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), writeWait)
		defer cancel()
		srv.Shutdown(shutdown)
	}()
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
