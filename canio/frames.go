package canio

import (
	"github.com/go-daq/canbus"
	"golang.org/x/sys/unix"

	"swerve/drive"
	"swerve/geometry"
	"swerve/kinematics"
)

// CAN IDs; module i uses base+i.
const (
	CommandBaseID uint32 = 0x300
	StatusBaseID  uint32 = 0x310
	CurrentBaseID uint32 = 0x320

	frameLength = 8
)

// Payload layouts, all little-endian signed fields. Speeds are m/s, distances m,
// angles degrees, feedforward volts, currents amps and percent output a fraction.
var (
	signalCommandSpeed       = Signal{Scalar: 0.001, Start: 0, Length: 16, LittleEndian: true, Signed: true}
	signalCommandPercent     = Signal{Scalar: 0.0001, Start: 0, Length: 16, LittleEndian: true, Signed: true}
	signalCommandAngle       = Signal{Scalar: 0.0078125, Start: 16, Length: 16, LittleEndian: true, Signed: true}
	signalCommandFeedforward = Signal{Scalar: 0.001, Start: 32, Length: 16, LittleEndian: true, Signed: true}
	signalCommandOpenLoop    = Signal{Scalar: 1, Start: 48, Length: 1, LittleEndian: true}

	signalStatusDistance = Signal{Scalar: 0.0001, Start: 0, Length: 32, LittleEndian: true, Signed: true}
	signalStatusAngle    = Signal{Scalar: 0.0078125, Start: 32, Length: 16, LittleEndian: true, Signed: true}
	signalStatusVelocity = Signal{Scalar: 0.001, Start: 48, Length: 16, LittleEndian: true, Signed: true}

	signalCurrent       = Signal{Scalar: 0.01, Start: 0, Length: 16, LittleEndian: true, Signed: true}
	signalAbsoluteAngle = Signal{Scalar: 0.0078125, Start: 16, Length: 16, LittleEndian: true, Signed: true}
)

// CommandFrame converts a module command to its CAN frame.
func CommandFrame(cmd drive.ModuleCommand) canbus.Frame {
	frame := canbus.Frame{
		ID:   CommandBaseID + uint32(cmd.Index),
		Data: make([]byte, frameLength),
		Kind: canbus.SFF,
	}
	if cmd.OpenLoop {
		signalCommandPercent.Insert(frame.Data, cmd.PercentOutput)
		signalCommandOpenLoop.Insert(frame.Data, 1)
	} else {
		signalCommandSpeed.Insert(frame.Data, cmd.State.Speed)
		signalCommandFeedforward.Insert(frame.Data, cmd.FeedforwardVolts)
	}
	signalCommandAngle.Insert(frame.Data, cmd.State.Angle.Degrees())
	return frame
}

// DecodeCommand is the inverse of CommandFrame, used by bench tools and tests.
func DecodeCommand(frame canbus.Frame) (drive.ModuleCommand, bool) {
	index, ok := moduleIndex(frame.ID, CommandBaseID)
	if !ok || len(frame.Data) < frameLength {
		return drive.ModuleCommand{}, false
	}
	cmd := drive.ModuleCommand{
		Index:    index,
		OpenLoop: signalCommandOpenLoop.Extract(frame.Data) == 1,
	}
	cmd.State.Angle = geometry.FromDegrees(signalCommandAngle.Extract(frame.Data))
	if cmd.OpenLoop {
		cmd.PercentOutput = signalCommandPercent.Extract(frame.Data)
	} else {
		cmd.State.Speed = signalCommandSpeed.Extract(frame.Data)
		cmd.FeedforwardVolts = signalCommandFeedforward.Extract(frame.Data)
	}
	return cmd, true
}

// holdCommand is the comms-timeout replacement for cmd: no drive output, same angle.
func holdCommand(cmd drive.ModuleCommand) drive.ModuleCommand {
	return drive.ModuleCommand{
		Index:    cmd.Index,
		State:    kinematics.ModuleState{Angle: cmd.State.Angle},
		OpenLoop: true,
	}
}

// StatusFrame encodes a module status frame; the module firmware side of the protocol,
// used by the simulator bridge and tests.
func StatusFrame(index int, distance, angleDeg, velocity float64) canbus.Frame {
	frame := canbus.Frame{
		ID:   StatusBaseID + uint32(index),
		Data: make([]byte, frameLength),
		Kind: canbus.SFF,
	}
	signalStatusDistance.Insert(frame.Data, distance)
	signalStatusAngle.Insert(frame.Data, angleDeg)
	signalStatusVelocity.Insert(frame.Data, velocity)
	return frame
}

// CurrentFrame encodes a module current frame.
func CurrentFrame(index int, current, absoluteAngleDeg float64) canbus.Frame {
	frame := canbus.Frame{
		ID:   CurrentBaseID + uint32(index),
		Data: make([]byte, frameLength),
		Kind: canbus.SFF,
	}
	signalCurrent.Insert(frame.Data, current)
	signalAbsoluteAngle.Insert(frame.Data, absoluteAngleDeg)
	return frame
}

func moduleIndex(id, base uint32) (int, bool) {
	if id < base || id >= base+kinematics.NumModules {
		return 0, false
	}
	return int(id - base), true
}

// Filters returns the receive filters for every module's status and current frames.
func Filters() []unix.CanFilter {
	filters := make([]unix.CanFilter, 0, 2*kinematics.NumModules)
	for i := uint32(0); i < kinematics.NumModules; i++ {
		filters = append(filters,
			unix.CanFilter{Id: StatusBaseID + i, Mask: unix.CAN_SFF_MASK},
			unix.CanFilter{Id: CurrentBaseID + i, Mask: unix.CAN_SFF_MASK},
		)
	}
	return filters
}
