// Package authapi serves the mobile-number login and signup endpoints.
//
// Each route sits behind its own rate limiter, so a client throttled on
// login can still reach signup and vice versa. Validation failures mirror
// the field error map the web client already renders: field name to a
// list of messages.
package authapi
