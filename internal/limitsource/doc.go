// Package limitsource reads per-route rate limit overrides from an SSM
// parameter and optionally polls it for changes.
//
// The parameter holds a JSON object keyed by route name:
//
//	{"login":{"limit":5,"windowMs":300000},"signup":{"limit":3,"windowMs":600000}}
//
// Routes absent from the document keep their flag values. A document with any
// invalid entry is rejected whole so a typo never half-applies.
package limitsource
