package sim

import (
	"context"
	"math/rand"
	"time"

	"github.com/benbjohnson/clock"
	"go.viam.com/rdk/logging"

	"swerve/drive"
	"swerve/estimator"
	"swerve/geometry"
)

// CameraConfig describes the simulated vision pipeline.
type CameraConfig struct {
	// Interval between captures.
	Interval time.Duration `yaml:"interval"`
	// Latency between capture and delivery. Samples keep their capture timestamp.
	Latency time.Duration `yaml:"latency"`
	// NoiseStdDev is the position noise in metres; heading noise is this in radians.
	NoiseStdDev float64 `yaml:"noise_std_dev"`
	Seed        int64   `yaml:"seed"`
}

// Camera observes the plant's ground-truth pose and delivers delayed, noisy samples.
type Camera struct {
	plant  *Plant
	clock  clock.Clock
	cfg    CameraConfig
	rng    *rand.Rand
	logger logging.Logger
}

// NewCamera returns a camera watching plant.
func NewCamera(plant *Plant, clk clock.Clock, cfg CameraConfig, logger logging.Logger) *Camera {
	if clk == nil {
		clk = clock.New()
	}
	return &Camera{
		plant:  plant,
		clock:  clk,
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		logger: logger,
	}
}

// Capture samples the pose now. Not safe for concurrent use with Run.
func (c *Camera) Capture() estimator.VisionSample {
	pose := c.plant.TruePose()
	if c.cfg.NoiseStdDev > 0 {
		pose = geometry.NewPose2D(
			pose.X()+c.rng.NormFloat64()*c.cfg.NoiseStdDev,
			pose.Y()+c.rng.NormFloat64()*c.cfg.NoiseStdDev,
			pose.Rotation.Radians()+c.rng.NormFloat64()*c.cfg.NoiseStdDev,
		)
	}
	return estimator.VisionSample{Pose: pose, Timestamp: drive.Timestamp(c.clock.Now())}
}

// Run captures every interval and offers each sample to out after the latency, until
// ctx is done.
func (c *Camera) Run(ctx context.Context, out *estimator.Mailbox[estimator.VisionSample]) error {
	interval := c.cfg.Interval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.clock.After(interval):
		}
		sample := c.Capture()
		if c.cfg.Latency > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-c.clock.After(c.cfg.Latency):
			}
		}
		c.logger.Debugw("vision sample", "pose", sample.Pose.String(), "timestamp", sample.Timestamp)
		out.Offer(sample)
	}
}
