package sim

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.viam.com/rdk/logging"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	"swerve/drive"
	"swerve/estimator"
	"swerve/geometry"
	"swerve/kinematics"
)

const period = 20 * time.Millisecond

func newKinematics(t *testing.T) *kinematics.SwerveKinematics {
	t.Helper()
	kin, err := kinematics.NewSwerveKinematics(
		geometry.Translation{X: 0.3, Y: 0.3},
		geometry.Translation{X: 0.3, Y: -0.3},
		geometry.Translation{X: -0.3, Y: 0.3},
		geometry.Translation{X: -0.3, Y: -0.3},
	)
	test.That(t, err, test.ShouldBeNil)
	return kin
}

func uniform(speed float64, angle geometry.Rotation, openLoop bool) [kinematics.NumModules]drive.ModuleCommand {
	var cmds [kinematics.NumModules]drive.ModuleCommand
	for i := range cmds {
		cmds[i] = drive.ModuleCommand{
			Index:    i,
			State:    kinematics.ModuleState{Speed: speed, Angle: angle},
			OpenLoop: openLoop,
		}
		if openLoop {
			cmds[i].PercentOutput = speed
		}
	}
	return cmds
}

func TestPlant(t *testing.T) {
	ctx := context.Background()

	t.Run("drives straight", func(t *testing.T) {
		p, err := NewPlant(newKinematics(t), geometry.Pose2D{}, PlantConfig{MaxSpeed: 4})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, p.Actuate(ctx, uniform(1, geometry.FromDegrees(90), false)), test.ShouldBeNil)
		for i := 0; i < 50; i++ {
			p.Step(period)
		}
		truth := p.TruePose()
		test.That(t, truth.X(), test.ShouldAlmostEqual, 0, 1e-9)
		test.That(t, truth.Y(), test.ShouldAlmostEqual, 1, 1e-9)

		reading, err := p.Read(ctx)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, reading.Modules[0].Position.Distance, test.ShouldAlmostEqual, 1, 1e-9)
		test.That(t, reading.Modules[0].Velocity, test.ShouldEqual, 1.0)
	})

	t.Run("open loop scales by max speed", func(t *testing.T) {
		p, err := NewPlant(newKinematics(t), geometry.Pose2D{}, PlantConfig{MaxSpeed: 2})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, p.Actuate(ctx, uniform(0.25, geometry.Rotation{}, true)), test.ShouldBeNil)
		p.Step(time.Second)
		test.That(t, p.TruePose().X(), test.ShouldAlmostEqual, 0.5, 1e-9)
	})

	t.Run("steer rate and slip", func(t *testing.T) {
		p, err := NewPlant(newKinematics(t), geometry.Pose2D{}, PlantConfig{MaxSpeed: 4, SteerRate: math.Pi / 2, WheelSlip: 0.1})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, p.Actuate(ctx, uniform(0, geometry.FromDegrees(90), false)), test.ShouldBeNil)
		p.Step(500 * time.Millisecond)
		reading, err := p.Read(ctx)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, reading.Modules[2].Position.Angle.Degrees(), test.ShouldAlmostEqual, 45, 1e-9)

		test.That(t, p.Actuate(ctx, uniform(1, geometry.FromDegrees(45), false)), test.ShouldBeNil)
		p.Step(time.Second)
		reading, err = p.Read(ctx)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, reading.Modules[2].Position.Distance, test.ShouldAlmostEqual, 1.1, 1e-9)
		test.That(t, p.TruePose().Translation.Norm(), test.ShouldAlmostEqual, 1, 1e-9)
	})

	t.Run("gyro drift and dropouts", func(t *testing.T) {
		p, err := NewPlant(newKinematics(t), geometry.Pose2D{}, PlantConfig{MaxSpeed: 4, GyroDrift: 0.01})
		test.That(t, err, test.ShouldBeNil)
		p.Step(10 * time.Second)
		p.FailReads(2)
		_, err = p.Read(ctx)
		test.That(t, err, test.ShouldNotBeNil)
		_, err = p.Read(ctx)
		test.That(t, err, test.ShouldNotBeNil)
		reading, err := p.Read(ctx)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, reading.Gyro.Radians(), test.ShouldAlmostEqual, 0.1, 1e-9)
		test.That(t, p.TruePose().Rotation.Radians(), test.ShouldEqual, 0.0)
	})

	t.Run("validates", func(t *testing.T) {
		_, err := NewPlant(newKinematics(t), geometry.Pose2D{}, PlantConfig{})
		test.That(t, err, test.ShouldNotBeNil)
		_, err = NewPlant(nil, geometry.Pose2D{}, PlantConfig{MaxSpeed: 1})
		test.That(t, err, test.ShouldNotBeNil)
	})
}

func TestCamera(t *testing.T) {
	mock := clock.NewMock()
	p, err := NewPlant(newKinematics(t), geometry.NewPose2D(1, 2, 0.5), PlantConfig{MaxSpeed: 4})
	test.That(t, err, test.ShouldBeNil)

	t.Run("capture", func(t *testing.T) {
		cam := NewCamera(p, mock, CameraConfig{}, logging.NewTestLogger(t))
		sample := cam.Capture()
		test.That(t, sample.Pose, test.ShouldResemble, p.TruePose())
		test.That(t, sample.Timestamp, test.ShouldEqual, drive.Timestamp(mock.Now()))

		noisy := NewCamera(p, mock, CameraConfig{NoiseStdDev: 0.05, Seed: 7}, logging.NewTestLogger(t)).Capture()
		test.That(t, noisy.Pose.X(), test.ShouldNotEqual, 1.0)
		test.That(t, math.Abs(noisy.Pose.X()-1), test.ShouldBeLessThan, 0.5)
	})

	t.Run("run delivers delayed samples", func(t *testing.T) {
		cam := NewCamera(p, mock, CameraConfig{Interval: 100 * time.Millisecond, Latency: 50 * time.Millisecond}, logging.NewTestLogger(t))
		var out estimator.Mailbox[estimator.VisionSample]
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- cam.Run(ctx, &out) }()

		earliest := drive.Timestamp(mock.Now().Add(100 * time.Millisecond))
		testutils.WaitForAssertion(t, func(tb testing.TB) {
			mock.Add(10 * time.Millisecond)
			sample, ok := out.Poll()
			test.That(tb, ok, test.ShouldBeTrue)
			test.That(tb, sample.Timestamp, test.ShouldBeGreaterThanOrEqualTo, earliest)
			// delivered no sooner than the latency after capture
			test.That(tb, drive.Timestamp(mock.Now())-sample.Timestamp, test.ShouldBeGreaterThanOrEqualTo, 0.05-1e-9)
		})
		cancel()
		test.That(t, <-done, test.ShouldBeNil)
	})
}

// TestClosedLoopWithVision drives the full stack against the plant: wheel slip makes
// odometry over-report distance and delayed vision samples pull the estimate back.
func TestClosedLoopWithVision(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewTestLogger(t)
	mock := clock.NewMock()
	kin := newKinematics(t)

	plant, err := NewPlant(kin, geometry.Pose2D{}, PlantConfig{MaxSpeed: 4, WheelSlip: 0.1})
	test.That(t, err, test.ShouldBeNil)
	est, err := estimator.NewPoseEstimator(kin, geometry.Pose2D{}, estimator.Config{}, logger)
	test.That(t, err, test.ShouldBeNil)
	var vision estimator.Mailbox[estimator.VisionSample]
	orch, err := drive.New(kin, est, plant, plant, &vision, nil, mock, drive.Config{
		MaxSpeed:           4,
		MaxAngularVelocity: 2 * math.Pi,
		Period:             period,
	}, logger)
	test.That(t, err, test.ShouldBeNil)
	cam := NewCamera(plant, mock, CameraConfig{}, logger)

	type pending struct {
		due    int
		sample estimator.VisionSample
	}
	var queue []pending
	for n := 0; n < 100; n++ {
		mock.Add(period)
		plant.Step(period)
		orch.Periodic(ctx)
		test.That(t, orch.Drive(ctx, kinematics.ChassisSpeeds{Vx: 1}, false, false), test.ShouldBeNil)

		if n%5 == 0 {
			queue = append(queue, pending{due: n + 3, sample: cam.Capture()})
		}
		if len(queue) > 0 && queue[0].due == n {
			vision.Offer(queue[0].sample)
			queue = queue[1:]
		}
	}
	orch.Periodic(ctx)

	truth := plant.TruePose()
	test.That(t, truth.X(), test.ShouldBeGreaterThan, 1.9)
	test.That(t, est.OdometryPose().X()-truth.X(), test.ShouldBeGreaterThan, 0.15)
	test.That(t, math.Abs(orch.Pose().X()-truth.X()), test.ShouldBeLessThan, 0.03)
	test.That(t, math.Abs(orch.Pose().Y()-truth.Y()), test.ShouldBeLessThan, 1e-6)
	test.That(t, est.VisionCount(), test.ShouldBeGreaterThan, 15)
}
