package canio

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-daq/canbus"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"
	viamutils "go.viam.com/utils"

	"swerve/drive"
	"swerve/kinematics"
)

// Defaults for the publish loop.
const (
	DefaultHeartbeat    = 10 * time.Millisecond
	DefaultCommsTimeout = 500 * time.Millisecond
)

// Sender is the transmit side of a CAN socket.
type Sender interface {
	Send(frame canbus.Frame) (int, error)
	Close() error
}

// ActuatorConfig tunes the publish loop.
type ActuatorConfig struct {
	// Heartbeat is the resend period of the latest commands.
	Heartbeat time.Duration
	// CommsTimeout replaces the commands with zero-output holds when no new command has
	// arrived for this long. Negative disables it; zero means DefaultCommsTimeout.
	CommsTimeout time.Duration
}

// Actuator sends module commands over CAN. Every Actuate call replaces the commands a
// background loop re-sends each heartbeat, so the module controllers' own watchdogs stay
// fed even when the control loop is slower.
type Actuator struct {
	clock     clock.Clock
	heartbeat time.Duration
	timeout   time.Duration
	logger    logging.Logger

	nextCommandCh           chan [kinematics.NumModules]drive.ModuleCommand
	closed                  context.Context
	activeBackgroundWorkers sync.WaitGroup
	cancel                  func()
	closeOnce               sync.Once
}

// NewActuator starts the publish loop on sender. The loop owns sender and closes it on exit.
func NewActuator(sender Sender, clk clock.Clock, cfg ActuatorConfig, logger logging.Logger) *Actuator {
	if clk == nil {
		clk = clock.New()
	}
	heartbeat := cfg.Heartbeat
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	timeout := cfg.CommsTimeout
	if timeout == 0 {
		timeout = DefaultCommsTimeout
	}

	cancelCtx, cancel := context.WithCancel(context.Background())
	a := &Actuator{
		clock:         clk,
		heartbeat:     heartbeat,
		timeout:       timeout,
		logger:        logger,
		nextCommandCh: make(chan [kinematics.NumModules]drive.ModuleCommand),
		closed:        cancelCtx,
		cancel:        cancel,
	}
	a.activeBackgroundWorkers.Add(1)
	viamutils.ManagedGo(func() {
		a.publishThread(cancelCtx, sender)
	}, a.activeBackgroundWorkers.Done)
	return a
}

// Actuate hands cmds to the publish loop.
func (a *Actuator) Actuate(ctx context.Context, cmds [kinematics.NumModules]drive.ModuleCommand) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-a.closed.Done():
		return errors.New("actuator is closed")
	case a.nextCommandCh <- cmds:
	}
	return nil
}

// Close stops the publish loop, which sends a final round of hold frames first.
func (a *Actuator) Close() {
	a.closeOnce.Do(func() {
		a.cancel()
		a.activeBackgroundWorkers.Wait()
	})
}

func holdAll(cmds [kinematics.NumModules]drive.ModuleCommand) [kinematics.NumModules]drive.ModuleCommand {
	var held [kinematics.NumModules]drive.ModuleCommand
	for i, cmd := range cmds {
		held[i] = holdCommand(cmd)
		held[i].Index = i
	}
	return held
}

// publishThread continuously sends the latest module commands.
func (a *Actuator) publishThread(ctx context.Context, sender Sender) {
	defer func() {
		if err := sender.Close(); err != nil {
			a.logger.Errorw("closing CAN sender", "error", err)
		}
	}()

	var latest [kinematics.NumModules]drive.ModuleCommand
	cmds := holdAll(latest)
	deadline := a.clock.Now().Add(a.timeout)
	timedOut := false

	for {
		select {
		case <-ctx.Done():
			// leave the modules stopped at their current angles
			if err := a.send(sender, holdAll(latest)); err != nil {
				a.logger.Errorw("final module command send error", "error", err)
			}
			return
		case latest = <-a.nextCommandCh:
			cmds = latest
			deadline = a.clock.Now().Add(a.timeout)
			if timedOut {
				a.logger.Infow("module commands resumed")
				timedOut = false
			}
		case <-a.clock.After(a.heartbeat):
		}

		if a.timeout > 0 && !timedOut && a.clock.Now().After(deadline) {
			a.logger.Warnw("no module command within comms timeout, holding modules", "timeout", a.timeout)
			cmds = holdAll(latest)
			timedOut = true
		}
		if err := a.send(sender, cmds); err != nil {
			a.logger.Errorw("module command send error", "error", err)
		}
	}
}

func (a *Actuator) send(sender Sender, cmds [kinematics.NumModules]drive.ModuleCommand) error {
	var errs error
	for _, cmd := range cmds {
		if _, err := sender.Send(CommandFrame(cmd)); err != nil {
			errs = multierr.Append(errs, errors.Wrapf(err, "module %d", cmd.Index))
		}
	}
	return errs
}
