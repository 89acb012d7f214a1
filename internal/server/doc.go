// Package server hosts the Fiber HTTP surface in front of the image engine.
// It attaches the recover and request-id middlewares, exposes GET /fetch,
// which loads an image through the engine and waits for its lifecycle to
// finish, and leaves the /-/ diagnostics routes to the routes subpackage.
package server
