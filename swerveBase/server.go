// Package main is a viam module serving a four-module swerve base over CAN.
package main

import (
	"context"

	"github.com/go-daq/canbus"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"go.viam.com/rdk/components/base"
	"go.viam.com/rdk/components/movementsensor"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/module"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/spatialmath"

	"swerve/canio"
	"swerve/geometry"
)

var model = resource.NewModel("swerve", "base", "swerve")

// Version number
var version = "1.0.0"

func main() {
	goutils.ContextualMain(mainWithArgs, logging.NewDebugLogger("swerveBaseModule"))
}

func mainWithArgs(ctx context.Context, args []string, logger logging.Logger) (err error) {
	registerBase()
	swerveModule, err := module.NewModuleFromArgs(ctx, logger)
	if err != nil {
		return err
	}
	if err := swerveModule.AddModelFromRegistry(ctx, base.API, model); err != nil {
		return err
	}

	err = swerveModule.Start(ctx)
	defer swerveModule.Close(ctx)
	if err != nil {
		return err
	}
	logger.Infow("swerve base module started", "version", version)
	<-ctx.Done()
	return nil
}

// registerBase adds the base's constructor and config to the component registry.
func registerBase() {
	resource.RegisterComponent(
		base.API,
		model,
		resource.Registration[base.Base, *Config]{Constructor: newBase})
}

// movementSensorGyro reads the chassis heading as the sensor's Euler yaw.
type movementSensorGyro struct {
	ms movementsensor.MovementSensor
}

func (g movementSensorGyro) Heading(ctx context.Context) (geometry.Rotation, error) {
	orientation, err := g.ms.Orientation(ctx, nil)
	if err != nil {
		return geometry.Rotation{}, err
	}
	return geometry.NewRotation(orientation.EulerAngles().Yaw), nil
}

// newBase opens the CAN sockets and starts the publish, receive and control loops.
func newBase(
	ctx context.Context,
	deps resource.Dependencies,
	conf resource.Config,
	logger logging.Logger,
) (base.Base, error) {
	cfg, err := resource.NativeConfig[*Config](conf)
	if err != nil {
		return nil, err
	}

	var geometries = []spatialmath.Geometry{}
	if conf.Frame != nil {
		frame, err := conf.Frame.ParseConfig()
		if err != nil {
			return nil, err
		}
		geometries = append(geometries, frame.Geometry())
	}

	ms, err := movementsensor.FromDependencies(deps, cfg.MovementSensor)
	if err != nil {
		return nil, errors.Wrapf(err, "no movement sensor named %q", cfg.MovementSensor)
	}

	socketSend, err := canbus.New()
	if err != nil {
		return nil, err
	}
	if err := socketSend.Bind(cfg.channel()); err != nil {
		return nil, multierr.Combine(err, socketSend.Close())
	}

	socketRecv, err := canbus.New()
	if err != nil {
		return nil, multierr.Combine(err, socketSend.Close())
	}
	if err := socketRecv.SetFilters(canio.Filters()); err != nil {
		return nil, multierr.Combine(err, socketSend.Close(), socketRecv.Close())
	}
	if err := socketRecv.Bind(cfg.channel()); err != nil {
		return nil, multierr.Combine(err, socketSend.Close(), socketRecv.Close())
	}

	actuator := canio.NewActuator(socketSend, nil, cfg.actuatorConfig(), logger)
	reader := canio.NewSensorReader(socketRecv, movementSensorGyro{ms: ms}, nil, cfg.readerConfig(), logger)
	closeActuator := func() error {
		actuator.Close()
		return nil
	}

	sb, err := newSwerveBase(conf.ResourceName().AsNamed(), cfg, geometries, actuator, reader, nil, logger,
		closeActuator, reader.Close)
	if err != nil {
		return nil, multierr.Combine(err, closeActuator(), reader.Close())
	}
	sb.startControlLoop()

	logger.Infow("swerve base ready", "channel", cfg.channel(), "period", cfg.period())
	return sb, nil
}
