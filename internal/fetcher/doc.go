// Package fetcher provides the default HTTP transport for the image engine.
// It shares one tuned http.Transport across requests, reports download
// progress from Content-Length, and retries transient upstream failures with
// exponential backoff.
package fetcher
