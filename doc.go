// Package reactor implements a descriptor-multiplexing event loop, with
// per-descriptor deadlines, in the style of a classic C poller.
//
// A [Poller] owns a fixed-capacity registry of nodes, indexed by file
// descriptor. Each node carries an [Operation], which decides how the loop
// goroutine handles readiness, e.g. reading and framing messages
// ([OpRead]), gathering writes ([OpWrite]), or accepting connections
// ([OpListen]). Outcomes are delivered as a [Result], to a single callback.
//
// Deadlines are indexed by a red-black tree, ordered by absolute deadline,
// then by insertion sequence. Nodes without a deadline are kept on a
// separate list. The earliest deadline arms a native timer (timerfd on
// Linux, EVFILT_TIMER on Darwin), which shares the one wait with every
// registered descriptor.
//
// All methods are safe for concurrent use, including from within the result
// callback, with the exception of [Poller.Stop] and [Poller.Close].
package reactor
