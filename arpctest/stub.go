// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

// Package arpctest provides in-memory test support for package
// [github.com/creachadair/arpc]: a connected pair of channels with no
// client-side dispatch surface on the [arpc.Client] side, so this package
// also supplies the stub server that speaks the wire protocol directly,
// adapted from chirp's peers package and chirp's own inbound dispatch logic
// in Peer.dispatchRequestLocked/dispatchPacket.
package arpctest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/creachadair/arpc"
	"github.com/creachadair/arpc/catalog"
	"github.com/creachadair/arpc/channel"
	"github.com/creachadair/arpc/flag"
	"github.com/creachadair/arpc/rpcctx"
	"github.com/creachadair/taskgroup"
)

// A HandlerFunc answers one inbound request. A non-nil error that is not
// context.Canceled or context.DeadlineExceeded is reported to the caller as
// a service error carrying err.Error(); those two sentinels (however
// produced: by ctx ending, or returned directly) are instead reported as
// CodeCanceled, matching chirp's treatment of its own context.Err() check.
type HandlerFunc func(ctx context.Context, req *arpc.Request) ([]byte, error)

// A Stub is a minimal server for one object, dispatching inbound requests
// read from a [channel.Channel] to registered [HandlerFunc]s. It exists
// only to drive end-to-end tests against [arpc.Client]; it is not part of
// this module's public client-server contract, since arpc's Client has no
// dispatch surface of its own.
type Stub struct {
	object string
	cat    *catalog.Catalog

	mu       sync.Mutex
	handlers map[string]HandlerFunc

	inflightMu sync.Mutex
	inflight   map[uint32]context.CancelFunc
	cancelled  map[uint32]*flag.Flag

	ch    channel.Channel
	root  *rpcctx.Context
	tasks *taskgroup.Group
}

// NewStub constructs a Stub serving object over ch. cat is consulted to
// validate each inbound request's method hash with
// [catalog.Catalog.Check]; pass nil to skip hash validation entirely (useful for tests that deliberately send a
// stale hash).
func NewStub(object string, cat *catalog.Catalog, ch channel.Channel) *Stub {
	return &Stub{
		object:    object,
		cat:       cat,
		handlers:  make(map[string]HandlerFunc),
		inflight:  make(map[uint32]context.CancelFunc),
		cancelled: make(map[uint32]*flag.Flag),
		ch:        ch,
		root:      rpcctx.Root(),
		tasks:     taskgroup.New(nil),
	}
}

// Handle registers fn to serve method. Handle is safe to call concurrently
// with Serve: each inbound request is served by the handler registered for
// its method at the moment it is dispatched.
func (s *Stub) Handle(method string, fn HandlerFunc) *Stub {
	s.mu.Lock()
	s.handlers[method] = fn
	s.mu.Unlock()
	return s
}

// Serve reads and dispatches inbound envelopes from ch until ch reports an
// error (including io.EOF on orderly close) or ctx ends. It does not return
// until every in-flight handler goroutine it started has exited.
func (s *Stub) Serve(ctx context.Context) error {
	defer s.tasks.Wait()
	for {
		raw, err := s.ch.Recv(ctx)
		if err != nil {
			return err
		}
		env, err := arpc.DecodeEnvelope(raw)
		if err != nil {
			continue // malformed frame: drop it, matching chirp's non-fatal decode-error handling
		}
		if err := s.dispatch(ctx, env); err != nil {
			return err
		}
	}
}

// Stop cancels every in-flight handler and waits for them to exit.
func (s *Stub) Stop() {
	s.inflightMu.Lock()
	for _, cancel := range s.inflight {
		cancel()
	}
	s.inflightMu.Unlock()
	s.tasks.Wait()
}

// Close closes the channel underlying s, simulating an abrupt peer crash:
// any client reading from the paired channel observes an immediate io.EOF,
// rather than the graceful per-call CodeCanceled response Stop produces.
func (s *Stub) Close() error { return s.ch.Close() }

// CancelFlag reports the readiness flag that is set once a CANCEL_REQUEST
// for id has been observed, for use by tests verifying the "server observes
// a CANCEL_REQUEST with the matching request-id" property (spec §8,
// scenarios S5 and S9). The flag is created on first reference, so it is
// safe to call before the cancel arrives.
func (s *Stub) CancelFlag(id uint32) *flag.Flag {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	f, ok := s.cancelled[id]
	if !ok {
		f = flag.New()
		s.cancelled[id] = f
	}
	return f
}

func (s *Stub) dispatch(ctx context.Context, env arpc.Envelope) error {
	switch env.Type {
	case arpc.TypeRequest:
		var req arpc.Request
		if err := req.UnmarshalBinary(env.Payload); err != nil {
			return fmt.Errorf("arpctest: invalid request payload: %w", err)
		}
		return s.dispatchRequest(ctx, env.RequestID, &req)

	case arpc.TypeCancel:
		s.inflightMu.Lock()
		cancel, ok := s.inflight[env.RequestID]
		f := s.cancelFlagLocked(env.RequestID)
		s.inflightMu.Unlock()
		f.Set()
		if ok {
			cancel()
		}
		return nil

	default:
		// An unrecognized message type is a framing-level protocol error from
		// this peer's perspective, but tolerating it (rather than tearing
		// down the channel) lets a test send a deliberately bogus type
		// without killing the fixture.
		return nil
	}
}

func (s *Stub) cancelFlagLocked(id uint32) *flag.Flag {
	f, ok := s.cancelled[id]
	if !ok {
		f = flag.New()
		s.cancelled[id] = f
	}
	return f
}

func (s *Stub) dispatchRequest(ctx context.Context, id uint32, req *arpc.Request) error {
	s.inflightMu.Lock()
	if _, dup := s.inflight[id]; dup {
		s.inflightMu.Unlock()
		return s.sendResponse(ctx, id, &arpc.Response{Code: arpc.CodeDuplicateID})
	}

	if req.Object != s.object {
		s.inflightMu.Unlock()
		return s.sendResponse(ctx, id, &arpc.Response{Code: arpc.CodeUnknownMethod})
	}

	if s.cat != nil {
		if err := s.cat.Check(req.Method, req.MethodHash); err != nil {
			s.inflightMu.Unlock()
			code := arpc.CodeUnknownMethod
			if errors.Is(err, catalog.ErrDataMismatch) {
				code = arpc.CodeDataMismatch
			}
			return s.sendResponse(ctx, id, &arpc.Response{Code: code})
		}
	}

	s.mu.Lock()
	handler, ok := s.handlers[req.Method]
	s.mu.Unlock()
	if !ok {
		s.inflightMu.Unlock()
		return s.sendResponse(ctx, id, &arpc.Response{Code: arpc.CodeUnknownMethod})
	}

	callCtx, err := rpcctx.Decode(s.root, req.Context)
	if err != nil {
		s.inflightMu.Unlock()
		return s.sendResponse(ctx, id, &arpc.Response{Code: arpc.CodeDataMismatch})
	}
	hctx, cancel := context.WithCancel(callCtx.Std())
	s.inflight[id] = cancel
	s.inflightMu.Unlock()

	s.tasks.Go(func() error {
		defer func() {
			s.inflightMu.Lock()
			delete(s.inflight, id)
			s.inflightMu.Unlock()
			cancel()
			callCtx.Close()
		}()

		data, herr := handler(hctx, req)
		rsp := s.resultFor(hctx, data, herr)
		return s.sendResponse(ctx, id, rsp)
	})
	return nil
}

func (s *Stub) resultFor(ctx context.Context, data []byte, err error) *arpc.Response {
	switch {
	case ctx.Err() != nil, err == context.Canceled, err == context.DeadlineExceeded:
		return &arpc.Response{Code: arpc.CodeCanceled}
	case err == nil:
		return &arpc.Response{Code: arpc.CodeSuccess, Data: data}
	default:
		ed := arpc.ErrorData{Message: err.Error()}
		return &arpc.Response{Code: arpc.CodeServiceError, Data: ed.Encode()}
	}
}

func (s *Stub) sendResponse(ctx context.Context, id uint32, rsp *arpc.Response) error {
	env := arpc.Envelope{Type: arpc.TypeResponse, RequestID: id, Payload: rsp.Encode()}
	return s.ch.Send(ctx, env.Encode())
}
