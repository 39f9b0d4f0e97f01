package world

// Config carries the per-session parameters. Zero values get defaults so
// tests can construct worlds with only an ID.
type Config struct {
	ID          string
	FrameRateHz int

	// SnapshotEveryFrames controls how often the runtime exports a full
	// snapshot between frames; 0 picks the default.
	SnapshotEveryFrames int

	// StreamEveryFrames controls how often observer state messages go out.
	StreamEveryFrames int

	// ObserverQueue is the per-observer outbound buffer; slow observers
	// drop frames rather than stall the loop.
	ObserverQueue int
}

func (c *Config) applyDefaults() {
	if c.FrameRateHz <= 0 {
		c.FrameRateHz = 30
	}
	if c.SnapshotEveryFrames <= 0 {
		c.SnapshotEveryFrames = 900
	}
	if c.StreamEveryFrames <= 0 {
		c.StreamEveryFrames = 3
	}
	if c.ObserverQueue <= 0 {
		c.ObserverQueue = 16
	}
}
