// Package httpapi exposes the service's HTTP surface: fact-check
// lifecycle endpoints, the session pre-warm endpoint used by external
// identity flows, a health check, and the WebSocket upgrade mount.
package httpapi
