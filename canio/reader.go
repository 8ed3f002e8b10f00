package canio

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-daq/canbus"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	viamutils "go.viam.com/utils"

	"swerve/drive"
	"swerve/geometry"
	"swerve/kinematics"
)

// DefaultStaleAfter is how old a module status may get before reads fail.
const DefaultStaleAfter = 100 * time.Millisecond

// Receiver is the receive side of a CAN socket. The module controllers broadcast status
// continuously, so Recv returns often enough for the loop to notice cancellation.
type Receiver interface {
	Recv() (canbus.Frame, error)
	Close() error
}

// Gyro supplies the chassis heading.
type Gyro interface {
	Heading(ctx context.Context) (geometry.Rotation, error)
}

// ReaderConfig tunes the sensor reader.
type ReaderConfig struct {
	// AngleOffsets are subtracted from each module's reported steering angle.
	AngleOffsets [kinematics.NumModules]geometry.Rotation
	// StaleAfter fails reads when a module has not reported for this long; zero means
	// DefaultStaleAfter.
	StaleAfter time.Duration
}

type moduleStatus struct {
	distance      float64
	angleDeg      float64
	velocity      float64
	current       float64
	absoluteAngle float64
	updated       time.Time
	reported      bool
}

// SensorReader decodes module status frames into the latest reading per module.
type SensorReader struct {
	gyro   Gyro
	clock  clock.Clock
	cfg    ReaderConfig
	logger logging.Logger

	mu      sync.Mutex
	modules [kinematics.NumModules]moduleStatus
	// zero re-zeroes the relative steering angle, set by ResetToAbsolute.
	zero    [kinematics.NumModules]geometry.Rotation

	receiver                Receiver
	activeBackgroundWorkers sync.WaitGroup
	cancel                  func()
	closeOnce               sync.Once
}

// NewSensorReader starts the receive loop on receiver.
func NewSensorReader(receiver Receiver, gyro Gyro, clk clock.Clock, cfg ReaderConfig, logger logging.Logger) *SensorReader {
	if clk == nil {
		clk = clock.New()
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	cancelCtx, cancel := context.WithCancel(context.Background())
	r := &SensorReader{
		gyro:     gyro,
		clock:    clk,
		cfg:      cfg,
		logger:   logger,
		receiver: receiver,
		cancel:   cancel,
	}
	r.activeBackgroundWorkers.Add(1)
	viamutils.ManagedGo(func() {
		r.receiveThread(cancelCtx)
	}, r.activeBackgroundWorkers.Done)
	return r
}

// receiveThread receives CAN frames and stores module data.
func (r *SensorReader) receiveThread(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		frame, err := r.receiver.Recv()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Errorw("CAN Rx error", "error", err)
			if !viamutils.SelectContextOrWait(ctx, 10*time.Millisecond) {
				return
			}
			continue
		}
		r.handle(frame)
	}
}

func (r *SensorReader) handle(frame canbus.Frame) {
	if len(frame.Data) < frameLength {
		return
	}
	now := r.clock.Now()
	if i, ok := moduleIndex(frame.ID, StatusBaseID); ok {
		r.mu.Lock()
		defer r.mu.Unlock()
		m := &r.modules[i]
		m.distance = signalStatusDistance.Extract(frame.Data)
		m.angleDeg = signalStatusAngle.Extract(frame.Data)
		m.velocity = signalStatusVelocity.Extract(frame.Data)
		m.updated = now
		m.reported = true
		return
	}
	if i, ok := moduleIndex(frame.ID, CurrentBaseID); ok {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.modules[i].current = signalCurrent.Extract(frame.Data)
		r.modules[i].absoluteAngle = signalAbsoluteAngle.Extract(frame.Data)
	}
}

// Read returns the gyro heading and the latest status of every module. It fails when
// any module has never reported or its status is stale.
func (r *SensorReader) Read(ctx context.Context) (drive.SensorReading, error) {
	var reading drive.SensorReading
	if r.gyro != nil {
		heading, err := r.gyro.Heading(ctx)
		if err != nil {
			return reading, errors.Wrap(err, "reading gyro")
		}
		reading.Gyro = heading
	}

	now := r.clock.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, m := range r.modules {
		if !m.reported {
			return reading, errors.Errorf("module %d has not reported", i)
		}
		if age := now.Sub(m.updated); age > r.cfg.StaleAfter {
			return reading, errors.Errorf("module %d status is stale (%v old)", i, age)
		}
		offset := r.cfg.AngleOffsets[i]
		reading.Modules[i] = drive.ModuleReading{
			Position: kinematics.ModulePosition{
				Distance: m.distance,
				Angle:    geometry.FromDegrees(m.angleDeg).Minus(offset).Minus(r.zero[i]),
			},
			Velocity:      m.velocity,
			Current:       m.current,
			AbsoluteAngle: geometry.FromDegrees(m.absoluteAngle).Minus(offset),
		}
	}
	return reading, nil
}

// ResetToAbsolute re-zeroes every module's relative steering angle so it matches the
// absolute encoder. Every module must have reported first.
func (r *SensorReader) ResetToAbsolute() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, m := range r.modules {
		if !m.reported {
			return errors.Errorf("module %d has not reported", i)
		}
	}
	for i, m := range r.modules {
		r.zero[i] = geometry.FromDegrees(m.angleDeg).Minus(geometry.FromDegrees(m.absoluteAngle))
		r.logger.Debugw("steering re-zeroed", "module", i, "correction_deg", r.zero[i].Degrees())
	}
	return nil
}

// Close stops the receive loop and closes the receiver.
func (r *SensorReader) Close() error {
	var err error
	r.closeOnce.Do(func() {
		r.cancel()
		err = r.receiver.Close()
		r.activeBackgroundWorkers.Wait()
	})
	return err
}
