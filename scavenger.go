// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

package arpc

import (
	"context"
	"time"

	"github.com/creachadair/arpc/awaitable"
)

// scavengeLoop is the client's scavenger worker loop (spec §4.6). On each
// iteration it selects on three awaitables: a wake from newDeadline (a
// pending call was registered with a deadline), a wake from
// cancelledRequests (carrying a request ID to cancel), and a timer for the
// earliest deadline currently outstanding. Whichever fires, it then
// re-scans the pending table for expired deadlines; this is simpler than
// tracking exactly which entry expired and is cheap since the table is
// small in practice.
func (c *Client) scavengeLoop() error {
	ctx := c.scavCtx.Std()
	for {
		if ctx.Err() != nil {
			return nil
		}

		var timer awaitable.Awaitable
		if deadline, ok := c.earliestDeadline(); ok {
			timer = awaitable.Deadline(deadline)
		} else {
			timer = awaitable.Never()
		}

		results, err := awaitable.Select(ctx,
			c.newDeadline.AsyncGet(),
			c.cancelledRequests.AsyncGet(),
			timer,
		)
		if err != nil {
			return nil // the scavenger's context ended: shutting down
		}

		if results[1].Fired && results[1].Err == nil {
			if id, ok := results[1].Value.(uint32); ok {
				c.sendCancelRequest(ctx, id)
			}
		}
		// results[0] (new deadline) needs no action beyond the re-scan
		// below; results[2] (earliest-deadline timer) is handled the same
		// way, since expiry is detected by re-scanning the pending table
		// rather than by tracking which single entry the timer was for.
		c.sweepDeadlines()
	}
}

// sendCancelRequest composes and sends a CANCEL_REQUEST envelope for id.
// Transport errors are ignored here: the receiver loop's failure fan-out
// will observe and report the same underlying failure.
func (c *Client) sendCancelRequest(ctx context.Context, id uint32) {
	env := Envelope{Type: TypeCancel, RequestID: id, Payload: Cancel{}.Encode()}
	_ = c.sendEnvelope(ctx, env)
}

// earliestDeadline reports the tightest deadline among all pending calls
// that have one.
func (c *Client) earliestDeadline() (time.Time, bool) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	var earliest time.Time
	found := false
	for _, pc := range c.pending {
		if !pc.hasDeadline {
			continue
		}
		if !found || pc.deadline.Before(earliest) {
			earliest, found = pc.deadline, true
		}
	}
	return earliest, found
}

// sweepDeadlines resolves every pending call whose deadline has passed
// with context.DeadlineExceeded and removes it from the table.
func (c *Client) sweepDeadlines() {
	now := time.Now()

	c.pendingMu.Lock()
	var expired []*pendingCall
	for id, pc := range c.pending {
		if pc.hasDeadline && !pc.deadline.After(now) {
			expired = append(expired, pc)
			delete(c.pending, id)
		}
	}
	c.pendingMu.Unlock()

	for _, pc := range expired {
		c.metrics.callPending.Add(-1)
		pc.prom.Set(nil, context.DeadlineExceeded)
		pc.ctx.Close()
	}
}
