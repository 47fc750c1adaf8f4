// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

package arpctest

import (
	"context"

	"github.com/creachadair/arpc"
	"github.com/creachadair/arpc/catalog"
	"github.com/creachadair/arpc/channel"
	"github.com/creachadair/taskgroup"
)

// A Local is a client and a stub server connected by an in-memory
// [channel.Direct] pair, suitable for testing without a real transport,
// grounded on chirp's peers.Local/NewLocal.
type Local struct {
	Client *arpc.Client
	Stub   *Stub

	cancel context.CancelFunc
	tasks  *taskgroup.Group
}

// NewLocal constructs a Local whose Stub serves object using cat for method
// hash validation (nil to skip validation), and whose Client is already
// started against the paired channel. Callers register handlers on
// l.Stub and then call l.Serve to start dispatching before issuing calls.
func NewLocal(object string, cat *catalog.Catalog) *Local {
	a, b := channel.Direct()

	cli := arpc.NewClient(arpc.ClientOptions{})
	if err := cli.StartChannel(a); err != nil {
		panic("arpctest: StartChannel on a fresh Direct pair cannot fail: " + err.Error())
	}

	return &Local{
		Client: cli,
		Stub:   NewStub(object, cat, b),
	}
}

// Serve starts l.Stub.Serve in the background under ctx, returning
// immediately. Call Stop (or cancel ctx and call Wait) to shut it down.
func (l *Local) Serve(ctx context.Context) {
	sctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	g := taskgroup.New(nil)
	l.tasks = g
	g.Go(func() error { return l.Stub.Serve(sctx) })
}

// Stop shuts down the client and the stub server and waits for both to
// finish.
func (l *Local) Stop() error {
	err := l.Client.Close()
	if l.cancel != nil {
		l.cancel()
	}
	l.Stub.Stop()
	if l.tasks != nil {
		l.tasks.Wait()
	}
	return err
}
