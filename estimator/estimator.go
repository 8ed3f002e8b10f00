// Package estimator fuses swerve odometry with delayed, lower-rate vision pose
// measurements into a single field pose.
package estimator

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/spatialmath"

	"swerve/geometry"
	"swerve/kinematics"
)

// DefaultHistoryWindow is how far back, in seconds, odometry poses are kept for
// matching against late vision samples.
const DefaultHistoryWindow = 1.5

// VisionSample is a pose measured by the vision collaborator at Timestamp (seconds,
// same clock as the odometry updates).
type VisionSample struct {
	Pose      geometry.Pose2D
	Timestamp float64
}

// NewVisionSample collapses a 3-D pose estimate (rdk millimetres) onto the field plane.
func NewVisionSample(pose spatialmath.Pose, timestamp float64) VisionSample {
	return VisionSample{Pose: geometry.FromSpatialPose(pose), Timestamp: timestamp}
}

// Config tunes the estimator.
type Config struct {
	// HistoryWindow is the odometry history length in seconds; zero means DefaultHistoryWindow.
	HistoryWindow float64
	// VisionTrust weights the x, y and heading correction toward a vision sample. 1 snaps
	// to the vision pose, 0 ignores it. A zero-value Config trusts vision fully.
	VisionTrust *[3]float64
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.HistoryWindow < 0 || math.IsNaN(c.HistoryWindow) {
		return errors.Errorf("history window must be positive, got %v", c.HistoryWindow)
	}
	if c.VisionTrust != nil {
		for i, w := range c.VisionTrust {
			if !(w >= 0 && w <= 1) {
				return errors.Errorf("vision trust[%d] must be within [0, 1], got %v", i, w)
			}
		}
	}
	return nil
}

// correction ties a vision-corrected pose to the odometry pose at the same instant.
type correction struct {
	visionPose   geometry.Pose2D
	odometryPose geometry.Pose2D
}

// compensate carries odometry motion since the correction onto the corrected pose.
func (c correction) compensate(odometryPose geometry.Pose2D) geometry.Pose2D {
	return c.visionPose.TransformBy(odometryPose.RelativeTo(c.odometryPose))
}

// PoseEstimator owns the robot's field pose. It is not safe for concurrent use: the
// control loop is its only caller and vision samples reach it through a Mailbox.
type PoseEstimator struct {
	logger   logging.Logger
	odometry *Odometry
	history  *poseBuffer
	trust    [3]float64

	correction  *correction
	lastVision  float64
	haveVision  bool
	visionCount int
	estimate    geometry.Pose2D
}

// NewPoseEstimator returns an estimator starting at initial.
func NewPoseEstimator(
	kin *kinematics.SwerveKinematics,
	initial geometry.Pose2D,
	cfg Config,
	logger logging.Logger,
) (*PoseEstimator, error) {
	if kin == nil {
		return nil, errors.New("pose estimator needs kinematics")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	window := cfg.HistoryWindow
	if window == 0 {
		window = DefaultHistoryWindow
	}
	trust := [3]float64{1, 1, 1}
	if cfg.VisionTrust != nil {
		trust = *cfg.VisionTrust
	}
	return &PoseEstimator{
		logger:   logger,
		odometry: NewOdometry(kin, initial),
		history:  newPoseBuffer(window),
		trust:    trust,
		estimate: initial,
	}, nil
}

// Pose returns the current fused pose.
func (e *PoseEstimator) Pose() geometry.Pose2D {
	return e.estimate
}

// OdometryPose returns the pose from odometry alone.
func (e *PoseEstimator) OdometryPose() geometry.Pose2D {
	return e.odometry.Pose()
}

// VisionCount returns how many vision samples have been applied.
func (e *PoseEstimator) VisionCount() int {
	return e.visionCount
}

// LastVisionTimestamp returns the timestamp of the last applied vision sample.
func (e *PoseEstimator) LastVisionTimestamp() (float64, bool) {
	return e.lastVision, e.haveVision
}

// ResetPosition overrides the estimate with an externally trusted pose. History and
// vision corrections are discarded and the next update re-captures the odometry baseline.
func (e *PoseEstimator) ResetPosition(pose geometry.Pose2D) {
	e.odometry.Reset(pose)
	e.history.clear()
	e.correction = nil
	e.estimate = pose
	e.logger.Infow("pose reset", "pose", pose.String())
}

// Update integrates one cycle of gyro and module readings taken at timestamp (seconds)
// and returns the fused pose. Non-finite readings, or any failure inside the update,
// leave the previous pose in place.
func (e *PoseEstimator) Update(
	timestamp float64,
	gyro geometry.Rotation,
	positions [kinematics.NumModules]kinematics.ModulePosition,
) (pose geometry.Pose2D) {
	pose = e.estimate
	defer func() {
		if r := recover(); r != nil {
			e.logger.Errorw("pose update failed, holding last pose", "error", fmt.Sprint(r))
			pose = e.estimate
		}
	}()

	if math.IsNaN(timestamp) || math.IsNaN(gyro.Radians()) || math.IsInf(gyro.Radians(), 0) {
		e.logger.Warnw("invalid gyro reading, holding pose", "timestamp", timestamp)
		return e.estimate
	}
	for i, p := range positions {
		if !p.IsFinite() {
			e.logger.Warnw("invalid module position, holding pose", "module", i)
			return e.estimate
		}
	}

	odometryPose, ok := e.odometry.Update(gyro, positions)
	if !ok {
		e.logger.Warnw("odometry produced a non-finite pose, holding pose")
		return e.estimate
	}
	e.history.add(timestamp, odometryPose)

	if e.correction != nil {
		e.estimate = e.correction.compensate(odometryPose)
	} else {
		e.estimate = odometryPose
	}
	return e.estimate
}

// AddVisionMeasurement applies a vision sample and reports whether it was used.
//
// The odometry pose at the sample's timestamp is interpolated from history, the
// discrepancy to the vision pose is weighted by the trust settings, and the result
// is carried forward through the odometry accumulated since then. Samples that are
// not newer than the last applied one, that predate the history, or that are not
// finite are ignored.
func (e *PoseEstimator) AddVisionMeasurement(sample VisionSample) bool {
	if !sample.Pose.IsFinite() || math.IsNaN(sample.Timestamp) || math.IsInf(sample.Timestamp, 0) {
		e.logger.Warnw("ignoring non-finite vision sample")
		return false
	}
	if e.haveVision && sample.Timestamp <= e.lastVision {
		e.logger.Debugw("ignoring stale vision sample", "timestamp", sample.Timestamp, "last", e.lastVision)
		return false
	}
	oldest, ok := e.history.oldest()
	if !ok || sample.Timestamp < oldest {
		e.logger.Debugw("vision sample outside odometry history", "timestamp", sample.Timestamp)
		return false
	}

	odometryAtSample, _ := e.history.sample(sample.Timestamp)
	estimateAtSample := odometryAtSample
	if e.correction != nil {
		estimateAtSample = e.correction.compensate(odometryAtSample)
	}

	twist := estimateAtSample.Log(sample.Pose)
	twist.Dx *= e.trust[0]
	twist.Dy *= e.trust[1]
	twist.Dtheta *= e.trust[2]

	e.correction = &correction{
		visionPose:   estimateAtSample.Exp(twist),
		odometryPose: odometryAtSample,
	}
	e.estimate = e.correction.compensate(e.odometry.Pose())
	e.lastVision = sample.Timestamp
	e.haveVision = true
	e.visionCount++
	return true
}
