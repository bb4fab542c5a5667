package cache

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"sync/atomic"
	"time"
)

// Daemon serves the cache/read and cache/add protocol described in
// spec.md §4.8 over a single listener, single-threaded per connection but
// with independent, non-blocking clients — mirroring §5's description of
// the daemon's event loop ("non-blocking sockets with a per-client message
// parser that accumulates bytes across reads; clients are independent and
// may not block each other").
type Daemon struct {
	store      *Store
	evictor    *Evictor
	IdleExpiry time.Duration // daemon exits after this long with no open clients

	clients  int32
	idleDone chan struct{}
}

// NewDaemon wires a Daemon against an already-open Store, per spec.md's
// "the SQLite database is accessed only from the daemon thread."
func NewDaemon(store *Store, evictor *Evictor) *Daemon {
	return &Daemon{store: store, evictor: evictor, IdleExpiry: 10 * time.Minute, idleDone: make(chan struct{}, 1)}
}

// Serve accepts connections on ln until it is closed or IdleExpiry elapses
// with no open clients, per spec.md §4.8: "a daemon idle for 10 minutes
// with no open clients exits."
func (d *Daemon) Serve(ln net.Listener) error {
	go d.idleWatch(ln)
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		atomic.AddInt32(&d.clients, 1)
		go d.handleConn(conn)
	}
}

func (d *Daemon) idleWatch(ln net.Listener) {
	timer := time.NewTimer(d.IdleExpiry)
	defer timer.Stop()
	for {
		select {
		case <-timer.C:
			if atomic.LoadInt32(&d.clients) == 0 {
				ln.Close()
				return
			}
			timer.Reset(d.IdleExpiry)
		case <-d.idleDone:
			return
		}
	}
}

func (d *Daemon) handleConn(conn net.Conn) {
	defer func() {
		conn.Close()
		atomic.AddInt32(&d.clients, -1)
	}()

	reader := bufio.NewReader(conn)
	for {
		raw, err := reader.ReadBytes(0)
		if err != nil {
			return // client disconnected
		}
		raw = bytes.TrimSuffix(raw, []byte{0})

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			// Malformed JSON drops this connection; the daemon itself
			// keeps serving other clients.
			return
		}
		switch msg.Method {
		case MethodRead:
			d.handleRead(conn, msg.Params)
		case MethodAdd:
			d.handleAdd(msg.Params)
			// cache/add has no response, per spec.md §6.
		default:
			return // unknown method: drop this connection only
		}
	}
}

func (d *Daemon) handleRead(conn net.Conn, params any) {
	var req FindJobRequest
	if err := remarshal(params, &req); err != nil {
		return
	}
	match, found, err := d.store.Find(req)
	if found && err == nil {
		// Restore under the requester's dir_redirects before replying; a
		// restoration failure downgrades the hit to a miss and the caller
		// re-executes the job.
		if rerr := d.store.Restore(match, req.RedirectFn()); rerr != nil {
			found = false
		}
	}
	resp := ReadResponse{Found: found && err == nil}
	if resp.Found {
		resp.Match = match
	}
	body, err := json.Marshal(resp)
	if err != nil {
		return
	}
	conn.Write(append(body, 0))
	if found && d.evictor != nil {
		d.evictor.Read(match.JobID, time.Now())
	}
}

func (d *Daemon) handleAdd(params any) {
	var req AddJobRequest
	if err := remarshal(params, &req); err != nil {
		return
	}
	jobID, err := d.store.Add(req)
	if err != nil {
		// Insertion failures log and discard that single add, per
		// spec.md §7#5; they do not kill the daemon.
		log.Printf("cache: add discarded: %v", err)
		return
	}
	if d.evictor != nil {
		d.evictor.Write(req.Info.OBytes)
		_ = jobID
	}
}

// remarshal round-trips params through JSON into dst, since the params
// field arrives as `any` (decoded generically) but each handler knows its
// concrete shape.
func remarshal(params any, dst any) error {
	body, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("cache: remarshal params: %w", err)
	}
	return json.Unmarshal(body, dst)
}
