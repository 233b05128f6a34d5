// Package ratelimit is a per-client fixed-window request limiter for the
// authentication endpoints.
//
// Each Limiter owns a bounded cache of client key to window counter. A client
// gets limit requests per window, counted from its first request; the window
// is not aligned to the wall clock. When the cache is full the least recently
// touched client is evicted and starts over as if new. Entries whose window
// has closed are dropped on the limiter's own clock, before any live client
// is evicted for space.
//
// State lives in process memory only. It is not shared between instances and
// does not survive a restart, so it is one layer of defence in front of the
// user store, not a replacement for upstream WAF or CDN limits.
package ratelimit
