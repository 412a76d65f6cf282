// Package httpserver configures the server carrying the replica's read,
// mutation, and admin surface.
package httpserver

import (
	"net/http"
	"time"
)

// New builds the server. Directory requests are small and answered from
// local state, so the timeouts are tight; slow-header clients must not pin
// connections on a replica.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
