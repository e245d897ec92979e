// Package engine defines the contract between the session lifecycle manager
// and a tunnel engine.
//
// A tunnel engine is constructed from a normalized startup [Contract], signals
// readiness once (Ready), and is torn down once (Shutdown). Concrete engines
// do not have to agree on a shutdown method name: [Adapt] probes a raw engine
// for a graceful close, a destroy, or an internal close capability, in that
// order, and maps the first one present onto [Handle.Shutdown]. The lifecycle
// manager only ever talks to a [Handle].
package engine
