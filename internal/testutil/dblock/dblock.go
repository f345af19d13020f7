// Package dblock serializes Postgres integration tests across test binaries
// that share one database.
package dblock

import (
	"net"
	"os"
	"time"
)

const defaultLockAddr = "127.0.0.1:45432"

// Acquire blocks until no other test binary holds the lock. The returned
// function releases it.
func Acquire() func() {
	addr := os.Getenv("TEST_DB_LOCK_ADDR")
	if addr == "" {
		addr = defaultLockAddr
	}
	for {
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			return func() { ln.Close() }
		}
		time.Sleep(50 * time.Millisecond)
	}
}
