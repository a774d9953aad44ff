//go:build !unix

package server

import "syscall"

// control is a no-op where the platform has no SO_REUSEADDR semantics to set.
func control(_, _ string, _ syscall.RawConn) error {
	return nil
}
