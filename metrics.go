// Copyright (C) 2022 Michael J. Fromberger. All Rights Reserved.

package arpc

import "expvar"

// clientMetrics record per-Client activity counters, adapted from chirp's
// peerMetrics. Unlike chirp, which keeps a single process-wide
// rootMetrics, each Client owns its own map so that multiple Clients in one
// process (as in tests) do not share counters.
type clientMetrics struct {
	packetRecv    expvar.Int
	packetSent    expvar.Int
	packetDropped expvar.Int
	callOut       expvar.Int // number of calls initiated
	callOutErr    expvar.Int // number of calls reporting an error
	callPending   expvar.Int // calls currently awaiting a response
	cancelOut     expvar.Int // number of cancellation requests sent
	reconnects    expvar.Int // number of transport reconnections

	emap *expvar.Map
}

func newClientMetrics() *clientMetrics {
	cm := &clientMetrics{emap: new(expvar.Map)}
	cm.emap.Set("packets_received", &cm.packetRecv)
	cm.emap.Set("packets_sent", &cm.packetSent)
	cm.emap.Set("packets_dropped", &cm.packetDropped)
	cm.emap.Set("calls_out", &cm.callOut)
	cm.emap.Set("calls_out_failed", &cm.callOutErr)
	cm.emap.Set("calls_pending", &cm.callPending)
	cm.emap.Set("cancels_out", &cm.cancelOut)
	cm.emap.Set("reconnects", &cm.reconnects)
	return cm
}

// Metrics returns a metrics map for the client. It is safe for the caller
// to add additional metrics to the map while the client is active.
func (c *Client) Metrics() *expvar.Map { return c.metrics.emap }
