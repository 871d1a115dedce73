package worker

import (
	"context"
	"log"
	"time"

	"token-manager/internal/activity"
)

// Presence is the part of the presence tracker the reaper needs.
type Presence interface {
	Stale(ctx context.Context) ([]string, error)
	MarkOffline(ctx context.Context, username string) error
}

// Reaper clears the online flag of users whose client stopped heartbeating
// without logging out.
type Reaper struct {
	Presence Presence
	Sink     *activity.Sink
	Interval time.Duration
}

func NewReaper(p Presence, sink *activity.Sink, interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reaper{
		Presence: p,
		Sink:     sink,
		Interval: interval,
	}
}

// Start blocks until ctx is done.
func (r *Reaper) Start(ctx context.Context) {
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()
	log.Println("Background presence reaper started")

	// Run once at start
	r.Sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Println("Background presence reaper stopped")
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep marks every stale user offline and returns how many it changed.
func (r *Reaper) Sweep(ctx context.Context) int {
	stale, err := r.Presence.Stale(ctx)
	if err != nil {
		log.Printf("Error querying stale sessions: %v", err)
		return 0
	}

	n := 0
	for _, username := range stale {
		if err := r.Presence.MarkOffline(ctx, username); err != nil {
			log.Printf("Failed to mark %s offline: %v", username, err)
			continue
		}
		n++
		log.Printf("Marked %s offline after missed heartbeats", username)
		if r.Sink != nil {
			r.Sink.Log(ctx, username, "logout", "Sesi berakhir tanpa logout")
		}
	}
	return n
}
