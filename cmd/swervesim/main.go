// Package main runs a scripted drive through the swerve stack against a simulated
// drivetrain and camera, and reports how far odometry and the fused estimate drifted.
package main

import (
	"context"

	"github.com/benbjohnson/clock"
	goutils "go.viam.com/utils"
	"golang.org/x/sync/errgroup"

	"go.viam.com/rdk/logging"

	"swerve/drive"
	"swerve/estimator"
	"swerve/geometry"
	"swerve/kinematics"
	"swerve/sim"
)

// Arguments for the command.
type Arguments struct {
	Scenario string `flag:"0,required,usage=scenario yaml file"`
	Realtime bool   `flag:"realtime,usage=pace the simulation against the wall clock"`
}

func main() {
	goutils.ContextualMain(mainWithArgs, logging.NewDebugLogger("swervesim"))
}

func mainWithArgs(ctx context.Context, args []string, logger logging.Logger) error {
	var argsParsed Arguments
	if err := goutils.ParseFlags(args, &argsParsed); err != nil {
		return err
	}
	sc, err := loadScenario(argsParsed.Scenario)
	if err != nil {
		return err
	}

	var clk clock.Clock = clock.NewMock()
	if argsParsed.Realtime {
		clk = clock.New()
	}
	result, err := run(ctx, sc, clk, logger)
	if err != nil {
		return err
	}
	logger.Infow("scenario finished",
		"cycles", result.Cycles,
		"true_pose", result.Truth.String(),
		"estimate", result.Estimate.String(),
		"odometry", result.Odometry.String(),
		"estimate_error_m", result.EstimateError(),
		"odometry_error_m", result.OdometryError(),
		"vision_count", result.VisionCount,
		"sensor_failures", result.SensorFailures,
	)
	return nil
}

// Result summarizes a finished scenario.
type Result struct {
	Cycles         int
	Truth          geometry.Pose2D
	Estimate       geometry.Pose2D
	Odometry       geometry.Pose2D
	VisionCount    int
	SensorFailures int
	ModuleStates   [kinematics.NumModules]kinematics.ModuleState
}

// EstimateError is the fused estimate's distance from the true position in metres.
func (r Result) EstimateError() float64 {
	return r.Estimate.Translation.Minus(r.Truth.Translation).Norm()
}

// OdometryError is the odometry-only distance from the true position in metres.
func (r Result) OdometryError() float64 {
	return r.Odometry.Translation.Minus(r.Truth.Translation).Norm()
}

// run wires the plant, camera and drive stack together and plays sc. A mock clock is
// advanced by the control loop itself; any other clock paces the loop.
func run(ctx context.Context, sc *Scenario, clk clock.Clock, logger logging.Logger) (Result, error) {
	kin, err := sc.kinematics()
	if err != nil {
		return Result{}, err
	}
	initial := sc.InitialPose.pose()
	plant, err := sim.NewPlant(kin, initial, sc.plantConfig())
	if err != nil {
		return Result{}, err
	}
	est, err := estimator.NewPoseEstimator(kin, initial, sc.estimatorConfig(), logger)
	if err != nil {
		return Result{}, err
	}
	telemetry := drive.NewTelemetryStore()
	var vision estimator.Mailbox[estimator.VisionSample]
	orch, err := drive.New(kin, est, plant, plant, &vision, telemetry, clk, sc.driveConfig(), logger)
	if err != nil {
		return Result{}, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	if sc.Camera != nil {
		cam := sim.NewCamera(plant, clk, *sc.Camera, logger)
		g.Go(func() error {
			return cam.Run(gctx, &vision)
		})
	}
	var cycles int
	g.Go(func() error {
		// the camera stops with the scenario
		defer cancel()
		var err error
		cycles, err = playScenario(gctx, sc, clk, plant, orch, logger)
		return err
	})
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	result := Result{
		Cycles:       cycles,
		Truth:        plant.TruePose(),
		Estimate:     est.Pose(),
		Odometry:     est.OdometryPose(),
		VisionCount:  est.VisionCount(),
		ModuleStates: orch.ModuleStates(),
	}
	if snap, ok := telemetry.Latest(); ok {
		result.SensorFailures = snap.SensorFailures
	}
	return result, nil
}

func playScenario(
	ctx context.Context,
	sc *Scenario,
	clk clock.Clock,
	plant *sim.Plant,
	orch *drive.Orchestrator,
	logger logging.Logger,
) (int, error) {
	mock, simulated := clk.(*clock.Mock)
	var ticker *clock.Ticker
	if !simulated {
		ticker = clk.Ticker(sc.Period)
		defer ticker.Stop()
	}

	var cycles int
	for i, seg := range sc.Segments {
		logger.Debugw("segment", "index", i, "duration", seg.Duration, "speeds", seg.speeds().String(),
			"lock", seg.Lock, "stop", seg.Stop)
		if seg.SensorDropouts > 0 {
			plant.FailReads(seg.SensorDropouts)
		}
		for n := 0; n < sc.cycles(seg); n++ {
			if simulated {
				if err := ctx.Err(); err != nil {
					return cycles, err
				}
				// step first so a capture fired by the clock sees the plant at the new time
				plant.Step(sc.Period)
				mock.Add(sc.Period)
			} else {
				select {
				case <-ctx.Done():
					return cycles, ctx.Err()
				case <-ticker.C:
				}
				plant.Step(sc.Period)
			}
			orch.Periodic(ctx)

			var err error
			switch {
			case seg.Lock:
				err = orch.Lock(ctx)
			case seg.Stop:
				err = orch.Stop(ctx)
			default:
				err = orch.Drive(ctx, seg.speeds(), seg.FieldRelative, seg.OpenLoop)
			}
			if err != nil {
				return cycles, err
			}
			cycles++
		}
	}
	return cycles, orch.Stop(ctx)
}
