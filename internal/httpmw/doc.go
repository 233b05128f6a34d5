// Package httpmw provides HTTP middleware for the public API server.
//
// httpserver composes them outermost first: recover, security headers,
// request id, client key, otelhttp, metrics, request logger, access log,
// body limit, then the chi router. Rate limiting is not global; each auth
// route mounts its own limiter.
//
// Request bodies, query strings, cookies and user agents are kept out of the
// logs. Mobile numbers only ever travel in bodies.
package httpmw
