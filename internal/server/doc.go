// Package server hosts the song catalog API and the /user sub-router behind a
// single HTTP server.
//
// Every route shares one middleware chain of request IDs, logging, metrics,
// security headers, CORS, and rate limiting.
package server
