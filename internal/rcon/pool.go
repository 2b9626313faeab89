// Package rcon maintains one authenticated Source RCON connection per
// (host, port) and fans out commands across the maps of a cluster, grounded
// on the source's gamercon_async.GameRCON context-manager lifecycle (open,
// authenticate, send, close) but adapted to a shared, long-lived connection
// cache instead of one connection per call.
package rcon

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/AngellusMortis/ark-operator/internal/arkerrors"
	"github.com/AngellusMortis/ark-operator/pkg/metrics"
)

const sendTimeout = 3 * time.Second

type endpoint struct {
	host string
	port int
	// namespace labels an eviction metric; it is not part of connection
	// identity (host, port already uniquely identify the TCP endpoint), so
	// two targets that differ only in namespace still share one connection.
	namespace string
}

// conn is one cached, authenticated connection plus its request-id counter.
type conn struct {
	mu     sync.Mutex
	netc   net.Conn
	nextID int32
}

// Pool caches one connection per (host, port). Safe for concurrent use.
type Pool struct {
	logger *zap.Logger

	mu    sync.Mutex
	conns map[endpoint]*conn
}

// NewPool returns an empty pool.
func NewPool(logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{logger: logger, conns: map[endpoint]*conn{}}
}

// Send acquires the cached connection for (host, port), opening and
// authenticating it if absent, sends cmd, and returns the reply. The
// connection is closed afterward unless keepOpen is true. The whole
// operation is bounded by a 3-second timeout; on timeout or transport error
// the cached entry is evicted.
func (p *Pool) Send(ctx context.Context, host string, port int, password, cmd string, keepOpen bool) (string, error) {
	return p.send(ctx, host, port, "", password, cmd, keepOpen)
}

func (p *Pool) send(ctx context.Context, host string, port int, namespace, password, cmd string, keepOpen bool) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	ep := endpoint{host: host, port: port, namespace: namespace}
	c, err := p.acquire(ctx, ep, password)
	if err != nil {
		return "", &arkerrors.RCONError{Host: host, Port: port, Op: "connect", Err: err}
	}

	reply, err := sendOnConn(ctx, c, cmd)
	if err != nil {
		p.evict(ep)
		return "", &arkerrors.RCONError{Host: host, Port: port, Op: "send", Err: err}
	}

	if !keepOpen {
		p.evict(ep)
	}
	return reply, nil
}

func (p *Pool) acquire(ctx context.Context, ep endpoint, password string) (*conn, error) {
	p.mu.Lock()
	if c, ok := p.conns[ep]; ok {
		p.mu.Unlock()
		return c, nil
	}
	// Reserve the slot before dialing so two callers for the same endpoint
	// share one connection instead of racing to create two.
	c := &conn{}
	p.conns[ep] = c
	p.mu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.netc != nil {
		return c, nil
	}

	dialer := net.Dialer{}
	netc, err := dialer.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", ep.host, ep.port))
	if err != nil {
		p.evict(ep)
		return nil, err
	}

	c.netc = netc
	if deadline, ok := ctx.Deadline(); ok {
		_ = netc.SetDeadline(deadline)
	}
	if err := authenticate(netc, &c.nextID, password); err != nil {
		_ = netc.Close()
		p.evict(ep)
		return nil, err
	}
	return c, nil
}

func authenticate(netc net.Conn, nextID *int32, password string) error {
	*nextID++
	id := *nextID
	if err := writePacket(netc, packet{ID: id, Type: packetTypeAuth, Body: password}); err != nil {
		return err
	}

	// The server replies with an empty response-value packet followed by the
	// auth-response packet; this tolerates either ordering.
	for i := 0; i < 2; i++ {
		resp, err := readPacket(netc)
		if err != nil {
			return err
		}
		if resp.Type == packetTypeAuthResponse {
			if resp.ID != id {
				return fmt.Errorf("rcon: authentication failed")
			}
			return nil
		}
	}
	return fmt.Errorf("rcon: no auth response received")
}

func sendOnConn(ctx context.Context, c *conn, cmd string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.netc.SetDeadline(deadline)
	}

	c.nextID++
	id := c.nextID
	if err := writePacket(c.netc, packet{ID: id, Type: packetTypeExecCommand, Body: cmd}); err != nil {
		return "", err
	}

	resp, err := readPacket(c.netc)
	if err != nil {
		return "", err
	}
	return resp.Body, nil
}

func (p *Pool) evict(ep endpoint) {
	p.mu.Lock()
	c, ok := p.conns[ep]
	delete(p.conns, ep)
	p.mu.Unlock()

	if ok && c.netc != nil {
		p.logger.Warn("evicting rcon connection", zap.String("host", ep.host), zap.Int("port", ep.port))
		if ep.namespace != "" {
			metrics.RecordRCONEviction(ep.namespace)
		}
		_ = c.netc.Close()
	}
}

// CloseAll closes and drops every cached connection.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	conns := p.conns
	p.conns = map[endpoint]*conn{}
	p.mu.Unlock()

	for _, c := range conns {
		if c.netc != nil {
			_ = c.netc.Close()
		}
	}
}

// Target identifies one map's RCON endpoint for a fan-out call. Namespace is
// optional and only used to label an eviction metric if the connection is
// later dropped; leave it empty to suppress labeling.
type Target struct {
	MapID     string
	Host      string
	Port      int
	Namespace string
}

// Result is one fan-out outcome, keyed by map id.
type Result struct {
	MapID string
	Reply string
	Err   error
}

// SendAll fans out one Send per target in parallel, preserving target order
// in the returned slice. If raiseExceptions is true, the first failure is
// returned as the error and results is nil; otherwise every target gets a
// Result (Err set on failure) and the returned error is always nil.
func (p *Pool) SendAll(ctx context.Context, cmd, password string, targets []Target, keepOpen, raiseExceptions bool) ([]Result, error) {
	results := make([]Result, len(targets))
	var wg sync.WaitGroup
	for i, t := range targets {
		wg.Add(1)
		go func(i int, t Target) {
			defer wg.Done()
			reply, err := p.send(ctx, t.Host, t.Port, t.Namespace, password, cmd, keepOpen)
			results[i] = Result{MapID: t.MapID, Reply: reply, Err: err}
		}(i, t)
	}
	wg.Wait()

	if raiseExceptions {
		for _, r := range results {
			if r.Err != nil {
				return nil, r.Err
			}
		}
	}
	return results, nil
}
