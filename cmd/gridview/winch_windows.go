//go:build windows

package main

import "os"

// Windows has no SIGWINCH; resizes are simply not forwarded.
func notifyWinch() (<-chan os.Signal, func()) {
	return nil, func() {}
}
