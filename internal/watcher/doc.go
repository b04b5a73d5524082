// Package watcher reports changes to an explicit set of files.
//
// Native notification (fsnotify on each file's parent directory) is used
// while it works. Every watched path is also stat'ed on a heartbeat; a
// change the heartbeat sees that no native event reported is a missed
// heartbeat. Consecutive misses move the path to DEGRADED, and a path left
// DEGRADED past a grace period falls back to POLLING: its native watch is
// released first, then interval polling takes over.
//
// A missing path is never an error. It is reported as a deleted event and
// picked up again as created when it reappears.
//
// Usage:
//
//	src := watcher.NewSource(watcher.DefaultOptions())
//	defer src.Close()
//
//	h, err := src.Start("/docs/board.md")
//	if err != nil {
//	    return err
//	}
//	defer src.Stop(h)
//
//	for {
//	    select {
//	    case batch := <-src.Events():
//	        for _, ev := range batch {
//	            // ev.Path, ev.Op
//	        }
//	    case ev := <-src.Health():
//	        // ev.State
//	    case <-ctx.Done():
//	        return ctx.Err()
//	    }
//	}
package watcher
