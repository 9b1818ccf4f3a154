package daemon

import (
	"context"
	"time"

	"golang.org/x/sys/unix"

	"scribe/internal/api"
)

type stateCounter interface {
	Counts(ctx context.Context) (map[string]int, error)
}

type driverNamer interface {
	Driver() string
}

// Health reports store reachability, journal backlog and data directory free space.
func (d *Daemon) Health(ctx context.Context) api.HealthResponse {
	resp := api.HealthResponse{Status: "ok", DataDir: d.cfg.Paths.DataDir}
	if !d.startedAt.IsZero() {
		resp.UptimeSeconds = int64(time.Since(d.startedAt) / time.Second)
	}

	resp.Store.Driver = "memory"
	if named, ok := d.backend.(driverNamer); ok {
		resp.Store.Driver = named.Driver()
	}
	if err := d.backend.Ping(ctx); err != nil {
		resp.Status = "degraded"
		resp.Store.Error = err.Error()
		return resp
	}
	resp.Store.OK = true
	if counter, ok := d.backend.(stateCounter); ok {
		if counts, err := counter.Counts(ctx); err == nil {
			resp.Store.Counts = counts
		}
	}
	if pending, err := d.backend.Pending(ctx); err == nil {
		resp.Store.Pending = len(pending)
	}

	var fs unix.Statfs_t
	if err := unix.Statfs(d.cfg.Paths.DataDir, &fs); err == nil {
		resp.FreeBytes = fs.Bavail * uint64(fs.Bsize)
	}
	return resp
}
