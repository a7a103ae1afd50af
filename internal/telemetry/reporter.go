package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// DefaultInterval between stats reports.
const DefaultInterval = 10 * time.Second

// Report is the JSON document published on every tick.
type Report struct {
	Camera    string    `json:"camera"`
	Timestamp time.Time `json:"timestamp"`
	Engine    any       `json:"engine"`
	Output    any       `json:"output,omitempty"`
}

// Source produces the engine and output snapshots of one report.
type Source func() (engine, output any)

// Reporter publishes a Report to Topic every Interval.
type Reporter struct {
	Emitter  *Emitter
	Topic    string
	Camera   string
	Interval time.Duration
	Source   Source

	now func() time.Time
}

// PublishOnce builds and publishes a single report.
func (r *Reporter) PublishOnce() error {
	now := time.Now
	if r.now != nil {
		now = r.now
	}
	eng, out := r.Source()
	payload, err := json.Marshal(Report{
		Camera:    r.Camera,
		Timestamp: now().UTC(),
		Engine:    eng,
		Output:    out,
	})
	if err != nil {
		return fmt.Errorf("telemetry: marshal report: %w", err)
	}
	return r.Emitter.Publish(r.Topic, payload)
}

// Run reports until ctx is done. Publish failures are logged, not fatal.
func (r *Reporter) Run(ctx context.Context) {
	interval := r.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.PublishOnce(); err != nil {
				slog.Warn("telemetry: report not published", "topic", r.Topic, "error", err)
			}
		}
	}
}
