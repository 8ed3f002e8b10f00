package drive

import (
	"fmt"
	"math"
	"sync"

	rdkutils "go.viam.com/rdk/utils"

	"swerve/geometry"
	"swerve/kinematics"
)

// ModuleTelemetry is the display view of one module.
type ModuleTelemetry struct {
	AngleDeg          float64
	Speed             float64
	Distance          float64
	EstimatedVelocity float64
	Current           float64
	AbsoluteAngleDeg  float64
	TargetAngleDeg    float64
	TargetSpeed       float64
}

// Snapshot is a read-only copy of the drive state for one cycle.
type Snapshot struct {
	Timestamp       float64
	Pose            geometry.Pose2D
	OdometryPose    geometry.Pose2D
	YawDeg          float64
	Modules         [kinematics.NumModules]ModuleTelemetry
	Measured        kinematics.ChassisSpeeds
	AngularVelocity float64
	VisionCount     int
	SensorFailures  int
}

const (
	telemX               = "x_m"
	telemY               = "y_m"
	telemTheta           = "theta_deg"
	telemOdometryX       = "odometry_x_m"
	telemOdometryY       = "odometry_y_m"
	telemOdometryTheta   = "odometry_theta_deg"
	telemYaw             = "yaw_deg"
	telemVx              = "vx_mps"
	telemVy              = "vy_mps"
	telemOmega           = "omega_degps"
	telemAngularVelocity = "gyro_rate_degps"
	telemVisionCount     = "vision_count"
	telemSensorFailures  = "sensor_failures"
	telemTimestamp       = "timestamp_s"
)

// TelemetryStore keeps the latest snapshot for readers on other goroutines.
type TelemetryStore struct {
	mu       sync.RWMutex
	snapshot Snapshot
	valid    bool
}

// NewTelemetryStore returns an empty store.
func NewTelemetryStore() *TelemetryStore {
	return &TelemetryStore{}
}

// Publish replaces the stored snapshot.
func (s *TelemetryStore) Publish(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = snap
	s.valid = true
}

// Latest returns the last published snapshot.
func (s *TelemetryStore) Latest() (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot, s.valid
}

// Map flattens the latest snapshot for DoCommand replies. Values that have not been
// published yet read as NaN.
func (s *TelemetryStore) Map() map[string]interface{} {
	snap, ok := s.Latest()
	if !ok {
		toReturn := map[string]interface{}{
			telemX:     math.NaN(),
			telemY:     math.NaN(),
			telemTheta: math.NaN(),
		}
		return toReturn
	}

	toReturn := map[string]interface{}{
		telemTimestamp:       snap.Timestamp,
		telemX:               snap.Pose.X(),
		telemY:               snap.Pose.Y(),
		telemTheta:           snap.Pose.Rotation.Degrees(),
		telemOdometryX:       snap.OdometryPose.X(),
		telemOdometryY:       snap.OdometryPose.Y(),
		telemOdometryTheta:   snap.OdometryPose.Rotation.Degrees(),
		telemYaw:             snap.YawDeg,
		telemVx:              snap.Measured.Vx,
		telemVy:              snap.Measured.Vy,
		telemOmega:           rdkutils.RadToDeg(snap.Measured.Omega),
		telemAngularVelocity: rdkutils.RadToDeg(snap.AngularVelocity),
		telemVisionCount:     snap.VisionCount,
		telemSensorFailures:  snap.SensorFailures,
	}
	for i, m := range snap.Modules {
		prefix := fmt.Sprintf("module_%d_", i)
		toReturn[prefix+"angle_deg"] = m.AngleDeg
		toReturn[prefix+"speed_mps"] = m.Speed
		toReturn[prefix+"distance_m"] = m.Distance
		toReturn[prefix+"estimated_velocity_mps"] = m.EstimatedVelocity
		toReturn[prefix+"current_a"] = m.Current
		toReturn[prefix+"absolute_angle_deg"] = m.AbsoluteAngleDeg
		toReturn[prefix+"target_angle_deg"] = m.TargetAngleDeg
		toReturn[prefix+"target_speed_mps"] = m.TargetSpeed
	}
	return toReturn
}
