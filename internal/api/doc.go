// Package api hosts the HTTP handlers for the song catalog.
//
// Handler maps the five catalog endpoints onto a storage.Repository injected
// at construction time and shapes every outcome into a JSON body with a
// human-readable message. Validation runs before the repository is touched,
// not-found results become 404 responses, and datastore failures become 500
// responses that embed the underlying error.
//
// Successful writes are announced through an events.Publisher. Delivery
// failures are logged and counted but never change the response already
// decided by the repository result.
//
// Handlers assume middleware from internal/server has already applied request
// IDs, logging, metrics, CORS, and rate limiting.
package api
