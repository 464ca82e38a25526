// Package api hosts the HTTP handlers of the video asset service.
//
// Handlers translate requests into calls on storage.Store and
// transfer.Service and map the resulting errors to status codes in one
// place. Filenames are taken from the escaped request path so the storage
// resolver decodes them exactly once. Error bodies carry fixed messages and
// never expose file-system paths; causes are logged instead.
//
// Handler implementations assume upstream middleware from internal/server
// has already applied request IDs, rate limiting, metrics, auditing and
// logging.
package api
