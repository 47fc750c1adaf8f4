// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

// Package arpc implements an asynchronous remote-procedure-call runtime for
// a single process talking to one or more peer processes over a stream
// socket.
//
// # Clients
//
// The core type defined by this package is the [Client]. A client owns a
// single logical connection to a remote peer: it allocates request IDs,
// tracks pending calls, and reconnects lazily on the next use after a
// transport failure.
//
// To dial a peer and issue a call:
//
//	cli := arpc.NewClient(arpc.ClientOptions{})
//	cli.Dial(ctx, "tcp", "localhost:8080")
//	defer cli.Close()
//
//	rsp, _, err := cli.Call(rpcctx.Root(), "greeter", "Hello", 0, []byte("world"))
//
// The [github.com/creachadair/arpc/rpcctx.Context] passed to Call bounds
// the call: if it ends before the peer replies, the call is cancelled
// locally and a best-effort cancellation is sent to the peer. Callers with
// a typed method signature should prefer the generic [Call] proxy function
// over this raw, []byte-oriented form.
//
// # Contexts
//
// Package [github.com/creachadair/arpc/rpcctx] provides the context tree
// that carries deadlines, cancellation, and typed metadata across local and
// remote call boundaries, and that (de)serializes onto the wire inside each
// request envelope.
//
// # Concurrency primitives
//
// Packages [github.com/creachadair/arpc/awaitable],
// [github.com/creachadair/arpc/queue], [github.com/creachadair/arpc/flag],
// and [github.com/creachadair/arpc/future] provide the select-style
// concurrency core the client and its scavenger loop are built from. Most
// callers of this module will never need them directly.
//
// # Transport and framing
//
// Package [github.com/creachadair/arpc/transport] provides the raw,
// non-blocking stream Channel abstraction and the reconnecting connection
// wrapper. Package [github.com/creachadair/arpc/channel] layers the
// length-prefixed, CRC-32C-checked packet framing described by this module's
// wire format on top of a transport Channel.
//
// # Typed calls
//
// Packages [github.com/creachadair/arpc/catalog] and
// [github.com/creachadair/arpc/handler] provide the glue that turns a typed
// Go function signature into an envelope payload: a catalog maps method
// names to signature hashes, and the handler package adapts typed
// parameter/result functions to and from raw bytes.
package arpc
