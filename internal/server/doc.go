// Package server exposes the video vault over a single HTTP server.
//
// Every request passes through one middleware chain: request IDs, logging,
// audit, metrics, security headers, CORS and rate limiting. Handlers in the
// api package therefore share the same protections and instrumentation.
package server
