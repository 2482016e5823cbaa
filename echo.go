package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"i4.energy/across/espwifi/sockets"
)

// EchoRequest asks for a round trip of Message through the echo server at
// Address ("host:port").
type EchoRequest struct {
	ID      string `json:"id,omitempty"`
	Address string `json:"address"`
	Message string `json:"message"`
}

// EchoResult reports one self test.
type EchoResult struct {
	ID       string        `json:"id"`
	Address  string        `json:"address"`
	Attempts int           `json:"attempts"`
	Sent     int           `json:"sent"`
	Received int           `json:"received"`
	Match    bool          `json:"match"`
	Elapsed  time.Duration `json:"elapsed"`
	Error    string        `json:"error,omitempty"`
}

var errEchoMismatch = errors.New("echo mismatch")

// Rate is a sliding one minute window limiter.
type Rate struct {
	mu  sync.Mutex
	cap int
	win []time.Time
}

func NewRate(nPerMin int) *Rate { return &Rate{cap: nPerMin} }

// Allow records an event and reports whether it fits in the window. A
// non-positive capacity allows everything.
func (r *Rate) Allow() bool {
	if r.cap <= 0 {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cut := now.Add(-time.Minute)
	kept := r.win[:0]
	for _, t := range r.win {
		if t.After(cut) {
			kept = append(kept, t)
		}
	}
	r.win = kept
	if len(r.win) >= r.cap {
		return false
	}
	r.win = append(r.win, now)
	return true
}

type echoJob struct {
	req      EchoRequest
	deferred int
}

// EchoRunner connects to an echo server through the module, sends a message
// and checks that the same bytes come back. Queued requests are run one at a
// time by Work.
type EchoRunner struct {
	Logger  *slog.Logger
	Sockets *sockets.Manager
	// Address is used for requests that name none.
	Address string
	// Retries is the number of connection attempts.
	Retries int
	// Timeout bounds the exchange after connecting.
	Timeout time.Duration
	// Backoff is the base delay between connection attempts.
	Backoff time.Duration
	Limit   *Rate
	// OnResult receives the outcome of queued requests.
	OnResult func(EchoResult)

	queue chan echoJob
	once  sync.Once
}

func (e *EchoRunner) jobs() chan echoJob {
	e.once.Do(func() {
		e.queue = make(chan echoJob, 64)
	})
	return e.queue
}

// Enqueue schedules req for Work and returns its id.
func (e *EchoRunner) Enqueue(req EchoRequest) (string, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	select {
	case e.jobs() <- echoJob{req: req}:
		return req.ID, nil
	default:
		return "", fmt.Errorf("echo queue full, dropping %s", req.ID)
	}
}

// Work runs queued requests until ctx is done.
func (e *EchoRunner) Work(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-e.jobs():
			if e.Limit != nil && !e.Limit.Allow() {
				job.deferred++
				e.Logger.Warn("Echo rate exceeded, deferring", "id", job.req.ID, "deferred", job.deferred)
				select {
				case <-ctx.Done():
					return
				case <-time.After(2 * time.Second):
				}
				select {
				case e.jobs() <- job:
				default:
					e.Logger.Error("Echo queue full, dropping", "id", job.req.ID)
				}
				continue
			}
			res, _ := e.Run(ctx, job.req)
			if e.OnResult != nil {
				e.OnResult(res)
			}
		}
	}
}

// Run performs one self test. The returned result is filled in as far as the
// test got, also when an error is returned.
func (e *EchoRunner) Run(ctx context.Context, req EchoRequest) (EchoResult, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Address == "" {
		req.Address = e.Address
	}
	res := EchoResult{ID: req.ID, Address: req.Address}
	start := time.Now()

	err := e.run(ctx, req, &res)
	res.Elapsed = time.Since(start)
	if err != nil {
		res.Error = err.Error()
		e.Logger.Error("Echo failed", "id", res.ID, "address", res.Address, "attempts", res.Attempts, "error", err)
		return res, err
	}
	e.Logger.Info("Echo ok", "id", res.ID, "address", res.Address, "bytes", res.Received, "elapsed", res.Elapsed)
	return res, nil
}

func (e *EchoRunner) run(ctx context.Context, req EchoRequest, res *EchoResult) error {
	if req.Message == "" {
		return errors.New("empty message")
	}
	addr, err := e.resolve(ctx, req.Address)
	if err != nil {
		return err
	}

	retries := max(e.Retries, 1)
	var conn *sockets.Conn
	for {
		res.Attempts++
		conn, err = sockets.Dial(ctx, e.Sockets, addr)
		if err == nil {
			break
		}
		if res.Attempts >= retries {
			return fmt.Errorf("connect %s after %d attempts: %w", addr, res.Attempts, err)
		}
		back := e.Backoff + rand.N(e.Backoff/2+1)
		e.Logger.Warn("Echo connect failed, retrying", "id", req.ID, "error", err, "backoff", back)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(back):
		}
	}
	defer conn.Close()

	timeout := e.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}

	msg := []byte(req.Message)
	n, err := conn.Write(msg)
	res.Sent = n
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}

	buf := make([]byte, len(msg))
	n, err = io.ReadFull(conn, buf)
	res.Received = n
	if err != nil {
		return fmt.Errorf("receive: %w", err)
	}
	res.Match = bytes.Equal(buf, msg)
	if !res.Match {
		return errEchoMismatch
	}
	return nil
}

// resolve turns "host:port" into an address, asking the module for names.
func (e *EchoRunner) resolve(ctx context.Context, address string) (netip.AddrPort, error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("echo address %q: %w", address, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil || port == 0 {
		return netip.AddrPort{}, fmt.Errorf("echo address %q: invalid port", address)
	}
	ip, err := e.Sockets.GetHostByName(ctx, host)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("resolve %s: %w", host, err)
	}
	return netip.AddrPortFrom(ip, uint16(port)), nil
}
