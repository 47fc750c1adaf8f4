// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

package arpc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/creachadair/arpc/catalog"
	"github.com/creachadair/arpc/channel"
	"github.com/creachadair/arpc/flag"
	"github.com/creachadair/arpc/future"
	"github.com/creachadair/arpc/queue"
	"github.com/creachadair/arpc/rpcctx"
	"github.com/creachadair/arpc/transport"
	"github.com/creachadair/taskgroup"
	"github.com/google/uuid"
)

// defaultRequestTimeout bounds a call when ClientOptions sets no
// RequestTimeout, matching spec §4.6's request path step 1.
const defaultRequestTimeout = time.Hour

// watchdogDelay bounds how long Call waits for a peer to acknowledge a
// locally issued cancellation before it gives up and reports CodeCanceled
// unilaterally, ported from chirp's Call watchdog.
const watchdogDelay = 50 * time.Millisecond

// ClientOptions configures a [Client]. The zero value is ready to use.
type ClientOptions struct {
	// RequestTimeout bounds each call's context. An earlier deadline on the
	// caller's context still applies. The default is one hour.
	RequestTimeout time.Duration

	// SignalQueueDepth bounds the scavenger's new-deadline and
	// cancelled-request signal queues (spec §4.6). These are best-effort:
	// a dropped signal is harmless because the scavenger re-scans the
	// pending table on every wake. The default is 16.
	SignalQueueDepth int

	// LogPackets, if set, is called synchronously for every envelope sent
	// or received on the connection.
	LogPackets PacketLogger
}

func (o ClientOptions) requestTimeout() time.Duration {
	if o.RequestTimeout <= 0 {
		return defaultRequestTimeout
	}
	return o.RequestTimeout
}

func (o ClientOptions) signalQueueDepth() int {
	if o.SignalQueueDepth <= 0 {
		return 16
	}
	return o.SignalQueueDepth
}

// A PacketLogger observes envelopes exchanged with the peer, the client
// analogue of chirp's PacketLogger.
type PacketLogger func(PacketInfo)

// PacketInfo combines an envelope with a flag reporting its direction.
type PacketInfo struct {
	Envelope Envelope
	Sent     bool // true if sent to the peer, false if received from it
}

// pendingCall is one entry of the client's pending-request table.
type pendingCall struct {
	ctx         *rpcctx.Context
	deadline    time.Time
	hasDeadline bool
	prom        future.Promise[*Response]
}

// A Client is a single logical connection to a remote peer: it allocates
// request IDs, tracks pending calls in a table guarded by pendingMu, and
// reconnects lazily (via [transport.Reconnecting]) on the next use after a
// transport failure. It is grounded on chirp's Peer, narrowed to this
// module's client-only scope — there is no Handle/dispatch surface here;
// serving requests is the concern of the arpctest stub dispatcher.
//
// A zero Client is not valid; construct one with [NewClient] and start it
// with [Client.Start] or [Client.Dial]. A Client is safe for concurrent use
// by multiple goroutines once started.
type Client struct {
	opts    ClientOptions
	metrics *clientMetrics

	rc *transport.Reconnecting
	ch channel.Channel

	readyMu sync.Mutex
	ready   *flag.Flag // set while the transport is believed connected

	tasks *taskgroup.Group

	rootCtx *rpcctx.Context
	recvCtx *rpcctx.Context
	scavCtx *rpcctx.Context

	pendingMu sync.Mutex
	sequence  uint32
	pending   map[uint32]*pendingCall

	newDeadline       *queue.Queue[struct{}]
	cancelledRequests *queue.Queue[uint32]

	instanceMu sync.Mutex
	instanceID uuid.UUID

	closeOnce sync.Once
}

// NewClient constructs an unstarted Client. Call [Client.Start] or
// [Client.Dial] to connect it.
func NewClient(opts ClientOptions) *Client {
	return &Client{opts: opts, metrics: newClientMetrics()}
}

// Start begins the client's receiver and scavenger loops, dialing its
// transport with dial. Start does not block for the dial to complete more
// than once: it returns once the first connection attempt finishes, but
// subsequent reconnects happen transparently on later use.
func (c *Client) Start(dial transport.DialFunc) error {
	rc := transport.NewReconnecting(dial)
	rc.OnConnect(c.onConnect)
	if err := c.startOn(rc, channel.New(rc)); err != nil {
		return err
	}
	return rc.Connect(c.recvCtx.Std())
}

// Dial is a convenience wrapper around Start that dials network/address
// with [transport.Dial].
func (c *Client) Dial(ctx context.Context, network, address string) error {
	return c.Start(func(dctx context.Context) (transport.Channel, error) {
		return transport.Dial(dctx, network, address)
	})
}

// StartChannel starts the client directly on an already-connected framed
// channel, bypassing the reconnecting transport layer entirely: ch is
// used exactly once and is never redialed if it fails. This is the entry
// point [github.com/creachadair/arpc/arpctest] uses for in-memory test
// pairs built with [github.com/creachadair/arpc/channel.Direct], mirroring
// chirp's Peer.Start(ch Channel), which has no reconnect layer at all.
func (c *Client) StartChannel(ch channel.Channel) error {
	if err := c.startOn(nil, ch); err != nil {
		return err
	}
	c.onConnect()
	return nil
}

// startOn wires up shared client state and launches the receiver and
// scavenger loops on ch. rc may be nil when ch needs no reconnecting
// wrapper (see StartChannel).
func (c *Client) startOn(rc *transport.Reconnecting, ch channel.Channel) error {
	if c.tasks != nil {
		panic("arpc: client is already started")
	}
	c.rc = rc
	c.ch = ch
	c.ready = flag.New()
	c.pending = make(map[uint32]*pendingCall)
	c.newDeadline = queue.New[struct{}](c.opts.signalQueueDepth())
	c.cancelledRequests = queue.New[uint32](c.opts.signalQueueDepth())

	c.rootCtx = rpcctx.Root()
	c.recvCtx = c.rootCtx.NewChild()
	c.scavCtx = c.rootCtx.NewChild()

	g := taskgroup.New(nil)
	c.tasks = g
	g.Go(c.receiveLoop)
	g.Go(c.scavengeLoop)
	return nil
}

// InstanceID reports a unique identifier for the client's current (or most
// recent) live transport connection, stamped fresh on every successful
// dial. It has no meaning to the peer; it exists to correlate log records
// from a reconnecting client with a specific underlying socket.
func (c *Client) InstanceID() uuid.UUID {
	c.instanceMu.Lock()
	defer c.instanceMu.Unlock()
	return c.instanceID
}

func (c *Client) onConnect() {
	c.instanceMu.Lock()
	c.instanceID = uuid.New()
	c.instanceMu.Unlock()
	c.metrics.reconnects.Add(1)
	c.currentReady().Set()
}

func (c *Client) currentReady() *flag.Flag {
	c.readyMu.Lock()
	defer c.readyMu.Unlock()
	return c.ready
}

func (c *Client) resetReady() {
	c.readyMu.Lock()
	c.ready = flag.New()
	c.readyMu.Unlock()
}

// Call invokes method on object, blocking until ctx ends or a response
// arrives. If ctx ends first, Call sends a best-effort cancellation to the
// peer and waits up to [watchdogDelay] for an acknowledgement before giving
// up unilaterally; the call's error then wraps ctx's own error
// (context.DeadlineExceeded or context.Canceled). An error reported by Call has concrete type
// *[CallError]. The returned request ID is valid even on error, for
// diagnostics.
func (c *Client) Call(ctx *rpcctx.Context, object, method string, hash catalog.MethodHash, data []byte) (*Response, uint32, error) {
	fut, id, err := c.AsyncCall(ctx, object, method, hash, data)
	if err != nil {
		return nil, id, err
	}

	rsp, err := fut.Wait(ctx.Std())
	if err == nil {
		if rsp.Code == CodeCanceled {
			return nil, id, &CallError{Err: context.Canceled, RequestID: id, Response: rsp}
		}
		return rsp, id, nil
	}

	// The local context ended before a reply arrived. Push a best-effort
	// cancellation to the peer, then keep waiting for the pending entry to
	// resolve: a watchdog guarantees this eventually happens even if the
	// peer never answers.
	c.cancelledRequests.MaybePut(id)
	c.metrics.cancelOut.Add(1)

	watchdog := time.AfterFunc(watchdogDelay, func() { c.forceCancel(id) })
	defer watchdog.Stop()

	rsp, werr := fut.Wait(context.Background())
	if werr != nil {
		return nil, id, callError(id, werr)
	}
	if rsp.Code == CodeCanceled {
		return nil, id, &CallError{Err: err, RequestID: id, Response: rsp} // err is ctx's own error
	}
	return rsp, id, nil
}

// AsyncCall begins a call for method on object and returns a future for its
// response, along with the allocated request ID, without blocking for the
// reply. The returned future resolves when a response is received, the
// call's deadline is swept by the scavenger, or the connection fails.
func (c *Client) AsyncCall(ctx *rpcctx.Context, object, method string, hash catalog.MethodHash, data []byte) (future.Future[*Response], uint32, error) {
	if ctx == nil {
		ctx = rpcctx.Root()
	}
	c.metrics.callOut.Add(1)

	callCtx := ctx.NewChild(rpcctx.WithTimeout(c.opts.requestTimeout()))
	prom, fut := future.New[*Response]()
	deadline, hasDeadline := callCtx.Deadline()

	c.pendingMu.Lock()
	c.sequence++
	id := c.sequence
	c.pending[id] = &pendingCall{ctx: callCtx, deadline: deadline, hasDeadline: hasDeadline, prom: prom}
	c.pendingMu.Unlock()
	c.metrics.callPending.Add(1)

	if hasDeadline {
		c.newDeadline.MaybePut(struct{}{})
	}

	env := Envelope{
		Type:      TypeRequest,
		RequestID: id,
		Payload: Request{
			Object:     object,
			Method:     method,
			MethodHash: hash,
			Context:    callCtx.Encode(),
			Args:       data,
		}.Encode(),
	}
	if err := c.sendEnvelope(callCtx.Std(), env); err != nil {
		c.metrics.callOutErr.Add(1)
		c.abandon(id, classify(err))
		var zero future.Future[*Response]
		return zero, id, callError(id, err)
	}
	return fut, id, nil
}

// forceCancel is the watchdog fired by Call after a local cancellation goes
// unacknowledged: it resolves the pending call with CodeCanceled but
// deliberately leaves the table entry in place (pinned), mirroring chirp's
// Call watchdog, so a late genuine response still finds and discards it
// cleanly instead of colliding with a reused ID.
func (c *Client) forceCancel(id uint32) {
	c.pendingMu.Lock()
	pc, ok := c.pending[id]
	c.pendingMu.Unlock()
	if !ok {
		return
	}
	pc.prom.Set(&Response{Code: CodeCanceled}, nil)
}

// abandon removes id from the pending table, if present, and resolves its
// promise with err.
func (c *Client) abandon(id uint32, err error) {
	c.pendingMu.Lock()
	pc, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()
	if !ok {
		return
	}
	c.metrics.callPending.Add(-1)
	pc.prom.Set(nil, err)
	pc.ctx.Close()
}

// deliver resolves the pending call for id with rsp, if it is still
// outstanding. A response for an unknown or already-resolved request ID is
// discarded silently: it was already cancelled or timed out locally.
func (c *Client) deliver(id uint32, rsp *Response) {
	c.pendingMu.Lock()
	pc, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()
	if !ok {
		return
	}
	c.metrics.callPending.Add(-1)
	pc.prom.Set(rsp, nil)
	pc.ctx.Close()
}

// failAllPending resolves every pending call with err, implementing the
// failure fan-out invariant: a single transport failure cancels every
// in-flight call on the connection, at most once per failure episode.
func (c *Client) failAllPending(err error) {
	c.pendingMu.Lock()
	pending := c.pending
	c.pending = make(map[uint32]*pendingCall)
	c.pendingMu.Unlock()

	for _, pc := range pending {
		c.metrics.callPending.Add(-1)
		pc.prom.Set(nil, err)
		pc.ctx.Close()
	}
}

// sendEnvelope encodes and transmits env, updating metrics and invoking the
// packet logger if one is configured.
func (c *Client) sendEnvelope(ctx context.Context, env Envelope) error {
	if c.opts.LogPackets != nil {
		c.opts.LogPackets(PacketInfo{Envelope: env, Sent: true})
	}
	if err := c.ch.Send(ctx, env.Encode()); err != nil {
		return classify(err)
	}
	c.metrics.packetSent.Add(1)
	return nil
}

// receiveLoop is the client's receiver worker loop (spec §4.6). It waits
// for the transport to be ready, then receives and dispatches envelopes
// until a failure occurs, at which point it resets and waits again.
func (c *Client) receiveLoop() error {
	ctx := c.recvCtx.Std()
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := c.currentReady().Wait(ctx); err != nil {
			return nil
		}
		if err := c.receiveOne(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.handleTransportFailure(err)
		}
	}
}

func (c *Client) receiveOne(ctx context.Context) error {
	payload, err := c.ch.Recv(ctx)
	if err != nil {
		return err
	}
	c.metrics.packetRecv.Add(1)

	env, err := DecodeEnvelope(payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDataMismatch, err)
	}
	if c.opts.LogPackets != nil {
		c.opts.LogPackets(PacketInfo{Envelope: env, Sent: false})
	}

	// A Client only ever expects RESPONSE messages; anything else is a
	// message type it has no handler for. Such a packet is counted as
	// dropped and reported as a data mismatch, which fails the connection
	// the same way a framing error does.
	if env.Type != TypeResponse {
		c.metrics.packetDropped.Add(1)
		return fmt.Errorf("%w: unexpected message type %v", ErrDataMismatch, env.Type)
	}
	var rsp Response
	if err := rsp.UnmarshalBinary(env.Payload); err != nil {
		return fmt.Errorf("%w: %v", ErrDataMismatch, err)
	}
	c.deliver(env.RequestID, &rsp)
	return nil
}

// handleTransportFailure implements spec §4.6's receiver failure path:
// reset ready, disconnect the transport, and broadcast the failure to
// every pending call.
func (c *Client) handleTransportFailure(err error) {
	c.resetReady()
	if c.rc != nil {
		c.rc.Disconnect()
	} else {
		c.ch.Close() // no reconnect wrapper: this channel is now permanently dead
	}
	c.failAllPending(classify(err))
}

// Close shuts down the client: it cancels the receiver and scavenger
// loops, disconnects the transport, fails every pending call, and blocks
// until both worker loops have exited. Close is idempotent.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.recvCtx.Cancel()
		c.scavCtx.Cancel()
		if c.ch != nil {
			c.ch.Close()
		}
		if c.tasks != nil {
			c.tasks.Wait()
		}
		c.failAllPending(fmt.Errorf("%w: client closed", ErrIOError))
		c.recvCtx.Close()
		c.scavCtx.Close()
		c.rootCtx.Close()
	})
	return nil
}
