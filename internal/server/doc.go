// Package server exposes mailsweep over HTTP.
//
// The API server carries the Google consent flow (/auth/google/login,
// /auth/google/callback, /auth/me, /auth/logout), the clean endpoint
// (POST /api/clean) and Kubernetes health probes. Sessions are opaque
// random cookies mapped to the authorized email and swept after a period
// of inactivity.
//
// Prometheus metrics are served by a separate MetricsServer on a dedicated
// port so operational data never shares a listener with user traffic.
package server
