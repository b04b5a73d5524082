package watcher

import (
	"errors"
	"syscall"
)

// isWatchLimit reports whether err is the kernel refusing more watches.
func isWatchLimit(err error) bool {
	return errors.Is(err, syscall.ENOSPC) || errors.Is(err, syscall.EMFILE)
}
