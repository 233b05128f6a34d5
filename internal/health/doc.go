// Package health holds the liveness and readiness probes served on the ops
// listener.
//
// A [Probe] returns nil when healthy and an error naming the reason
// otherwise. [All] and [Any] compose probes, [Fixed] pins a result, and
// [CheckFunc] adapts a plain function.
//
// [ShutdownGate] fails readiness as soon as shutdown begins so the load
// balancer stops routing auth traffic before the listener drains.
package health
