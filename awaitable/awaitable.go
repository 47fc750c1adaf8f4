// Copyright (C) 2019 Google LLC. All Rights Reserved.

// Package awaitable provides a description of "wait on a readiness signal,
// OR a timer, OR never", carrying a reaction function run once the trigger
// fires, plus a [Select] engine that waits concurrently on a heterogeneous,
// dynamically-sized set of such descriptions.
//
// An Awaitable is a description, not a running task: constructing one does
// not start waiting. Only [Select] evaluates triggers, and it does so for
// every Awaitable passed to it concurrently.
package awaitable

import (
	"context"
	"reflect"
	"time"
)

// trigger identifies the single wait condition an Awaitable describes.
type trigger int

const (
	triggerNever trigger = iota
	triggerAlways
	triggerTimeout
	triggerPolling
	triggerSignal
)

// An exceptHandler matches and replaces a failure raised by a reaction
// function, implementing the "except<E>" error handler chain of the
// original awaitable<R>::except.
type exceptHandler struct {
	matches func(error) bool
	handle  func(error) (any, error)
}

// An Awaitable describes a single wait trigger plus a reaction function
// executed once that trigger fires. The zero value is not valid; construct
// one with [Never], [Always], [Timeout], [Deadline], [Polling], or
// [FromSignal].
type Awaitable struct {
	trigger trigger
	dur     time.Duration // for triggerTimeout and triggerPolling
	when    time.Time     // for triggerTimeout (absolute form)
	hasWhen bool
	signal  <-chan struct{} // for triggerSignal

	react   func() (any, error)
	excepts []exceptHandler
}

// Never returns an Awaitable that never fires. It contributes neither a file
// descriptor nor a timeout to a [Select] call: per spec §9 Open Question
// (c), a no-op trigger must not affect the minimum timeout computation.
func Never() Awaitable {
	return Awaitable{trigger: triggerNever, react: func() (any, error) { return nil, nil }}
}

// Always returns an Awaitable that fires immediately.
func Always() Awaitable {
	return Awaitable{trigger: triggerAlways, react: func() (any, error) { return nil, nil }}
}

// Timeout returns an Awaitable that fires once, after d elapses.
func Timeout(d time.Duration) Awaitable {
	return Awaitable{trigger: triggerTimeout, dur: d, react: func() (any, error) { return nil, nil }}
}

// Deadline returns an Awaitable that fires once, at the absolute time when.
// Deadlines in the past fire immediately.
func Deadline(when time.Time) Awaitable {
	return Awaitable{trigger: triggerTimeout, when: when, hasWhen: true, react: func() (any, error) { return nil, nil }}
}

// Polling returns an Awaitable that repeats every d until the outer Select
// call finishes for some other reason. A polling trigger alone never
// satisfies Select's "at least one" guarantee; it only bounds the maximum
// time Select will wait before re-checking other conditions.
func Polling(d time.Duration) Awaitable {
	return Awaitable{trigger: triggerPolling, dur: d, react: func() (any, error) { return nil, nil }}
}

// FromSignal returns an Awaitable that fires whenever sig is readable
// (has a value or is closed). It is the building block [flag.Flag] and
// [queue.Queue] use to expose an fd-style readiness channel as an
// Awaitable.
func FromSignal(sig <-chan struct{}) Awaitable {
	return Awaitable{trigger: triggerSignal, signal: sig, react: func() (any, error) { return nil, nil }}
}

// Then returns a new Awaitable with the same trigger as a, whose reaction
// pipes a's result through f.
func (a Awaitable) Then(f func(any) (any, error)) Awaitable {
	prev := a.react
	a.react = func() (any, error) {
		v, err := prev()
		if err != nil {
			return nil, err
		}
		return f(v)
	}
	return a
}

// Decorate returns a new Awaitable with the same trigger as a, whose
// reaction is wrapped by f. f receives a's original reaction function and
// controls whether, and how, it is invoked.
func (a Awaitable) Decorate(f func(func() (any, error)) (any, error)) Awaitable {
	prev := a.react
	a.react = func() (any, error) { return f(prev) }
	return a
}

// Except installs an error handler for a's reaction. When the reaction
// raises an error, handlers are tried in the order installed; the first
// whose matches function reports true replaces the error with its return
// value. An Awaitable keeps one handler list for its whole composed
// reaction: Then and Decorate carry the installed handlers along, and the
// handlers see the error of the final composed reaction. If none matches,
// the error propagates to the caller of Select in that Awaitable's Result.
func (a Awaitable) Except(matches func(error) bool, handle func(error) (any, error)) Awaitable {
	a.excepts = append(a.excepts[:len(a.excepts):len(a.excepts)], exceptHandler{matches, handle})
	return a
}

func (a Awaitable) fire() (any, error) {
	v, err := a.react()
	if err == nil {
		return v, nil
	}
	for _, h := range a.excepts {
		if h.matches(err) {
			return h.handle(err)
		}
	}
	return v, err
}

// A Result is the outcome of one Awaitable's participation in a [Select]
// call.
type Result struct {
	Fired bool  // whether this Awaitable's trigger fired this call
	Value any   // the reaction's result, valid only if Fired && Err == nil
	Err   error // the reaction's error, if any
}

// Select blocks the calling goroutine until at least one of aws fires, then
// runs the reaction of every Awaitable that fired and returns their results
// in the same order as aws. Per the protocol's guarantees:
//
//  1. at least one Result has Fired == true;
//  2. all Awaitables ready at the moment Select wakes are reported in the
//     same call, not serialized across repeated calls;
//  3. if ctx is cancelled before any trigger fires, Select fails with
//     ctx.Err() (context.Canceled);
//  4. if ctx's deadline expires first, Select fails with ctx.Err()
//     (context.DeadlineExceeded);
//  5. Polling awaitables alone never satisfy guarantee 1.
//
// Select itself never returns an error for an individual Awaitable's
// reaction failing: that failure is carried in the corresponding Result.
func Select(ctx context.Context, aws ...Awaitable) ([]Result, error) {
	start := time.Now()
	for {
		cases, indices := buildCases(ctx, aws, start)
		ctxCase := len(indices) // the ctx.Done() case, if ctx != nil, is appended last

		chosen, _, _ := reflect.Select(cases)
		if ctx != nil && chosen == ctxCase {
			return nil, ctx.Err()
		}

		results := make([]Result, len(aws))
		any := false
		markFired(aws, results, indices, chosen, &any)

		// Drain every other currently-ready case without blocking, so that
		// all simultaneously-ready Awaitables are reported together. A case
		// is disabled once reported, so a permanently ready channel (a closed
		// signal) is not selected again and the drain ends.
		dcases := append(append([]reflect.SelectCase(nil), cases...), reflect.SelectCase{Dir: reflect.SelectDefault})
		dcases[chosen].Chan = reflect.Value{}
		for {
			dchosen, _, _ := reflect.Select(dcases)
			if dchosen == len(dcases)-1 {
				break // default: nothing else is ready right now
			}
			if ctx != nil && dchosen == ctxCase {
				return nil, ctx.Err()
			}
			markFired(aws, results, indices, dchosen, &any)
			dcases[dchosen].Chan = reflect.Value{}
		}

		if any {
			return results, nil
		}
		// Only polling/never triggers fired (or a spurious wakeup): loop again.
	}
}

func markFired(aws []Awaitable, results []Result, indices []int, chosen int, any *bool) {
	if chosen >= len(indices) {
		return // context Done case, handled by Select before this is reached
	}
	i := indices[chosen]
	if results[i].Fired {
		return // already recorded in an earlier drain iteration
	}
	v, err := aws[i].fire()
	results[i] = Result{Fired: true, Value: v, Err: err}
	if aws[i].trigger != triggerPolling {
		*any = true
	}
}

// buildCases constructs one reflect.SelectCase per non-never Awaitable (a
// timer case for each timeout, deadline, or polling trigger), plus a case
// for ctx ending. indices[i] gives the index into aws that cases[i]
// corresponds to; the context-Done case, if present, is last and has no
// entry in indices.
func buildCases(ctx context.Context, aws []Awaitable, start time.Time) ([]reflect.SelectCase, []int) {
	var cases []reflect.SelectCase
	var indices []int
	var minTimeout time.Duration = -1

	for i, a := range aws {
		switch a.trigger {
		case triggerNever:
			continue
		case triggerAlways:
			ch := make(chan struct{}, 1)
			ch <- struct{}{}
			cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf((<-chan struct{})(ch))})
			indices = append(indices, i)
		case triggerSignal:
			cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(a.signal)})
			indices = append(indices, i)
		case triggerTimeout, triggerPolling:
			d := a.dur
			if a.hasWhen {
				d = time.Until(a.when)
			} else if a.trigger == triggerPolling {
				elapsed := time.Since(start)
				d -= elapsed % d
			} else {
				d -= time.Since(start) // a relative timeout counts from the start of Select
			}
			if d < 0 {
				d = 0
			}
			if minTimeout < 0 || d < minTimeout {
				minTimeout = d
			}
			cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(time.After(d))})
			indices = append(indices, i)
		}
	}

	if ctx != nil {
		cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ctx.Done())})
	}

	return cases, indices
}
