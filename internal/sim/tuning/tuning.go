package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	FrameRateHz         int `yaml:"frame_rate_hz"`
	SnapshotEveryFrames int `yaml:"snapshot_every_frames"`
	StreamEveryFrames   int `yaml:"stream_every_frames"`
	ObserverQueue       int `yaml:"observer_queue"`
}

// Defaults mirror the fallback values applied by the runtime config.
func Defaults() Tuning {
	return Tuning{
		ProtocolVersion:     "1.0",
		FrameRateHz:         30,
		SnapshotEveryFrames: 900,
		StreamEveryFrames:   3,
		ObserverQueue:       16,
	}
}

func Load(path string) (Tuning, error) {
	var t Tuning
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}
