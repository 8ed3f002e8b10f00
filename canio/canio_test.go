package canio

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-daq/canbus"
	"go.viam.com/rdk/logging"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	"swerve/drive"
	"swerve/geometry"
	"swerve/kinematics"
)

func TestSignalExtract(t *testing.T) {
	data := []byte{0x10, 0x27, 0x00, 0x00, 0x80, 0xFF, 0x12, 0x34}

	distance := Signal{Scalar: 0.0001, Start: 0, Length: 32, LittleEndian: true, Signed: true}
	test.That(t, distance.Extract(data), test.ShouldAlmostEqual, 1.0, 1e-12)

	angle := Signal{Scalar: 0.0078125, Start: 32, Length: 16, LittleEndian: true, Signed: true}
	test.That(t, angle.Extract(data), test.ShouldAlmostEqual, -1.0, 1e-12)

	unsigned := Signal{Scalar: 1, Start: 32, Length: 16, LittleEndian: true}
	test.That(t, unsigned.Extract(data), test.ShouldEqual, 65408.0)

	bigEndian := Signal{Scalar: 1, Start: 48, Length: 16}
	test.That(t, bigEndian.Extract(data), test.ShouldEqual, float64(0x1234))

	nibble := Signal{Scalar: 1, Offset: 10, Start: 52, Length: 4, LittleEndian: true}
	test.That(t, nibble.Extract(data), test.ShouldEqual, 11.0)

	tooLong := Signal{Scalar: 1, Start: 60, Length: 8, LittleEndian: true}
	test.That(t, math.IsNaN(tooLong.Extract(data)), test.ShouldBeTrue)
}

func TestSignalInsert(t *testing.T) {
	data := make([]byte, 8)
	s := Signal{Scalar: 0.0078125, Start: 16, Length: 16, LittleEndian: true, Signed: true}
	s.Insert(data, -90)
	test.That(t, s.Extract(data), test.ShouldEqual, -90.0)
	test.That(t, data[0], test.ShouldEqual, byte(0))

	// saturates instead of wrapping
	s.Insert(data, 1000)
	test.That(t, s.Extract(data), test.ShouldAlmostEqual, 32767*0.0078125, 1e-12)
	s.Insert(data, -1000)
	test.That(t, s.Extract(data), test.ShouldEqual, -256.0)

	flag := Signal{Scalar: 1, Start: 49, Length: 1, LittleEndian: true}
	flag.Insert(data, 1)
	test.That(t, data[6], test.ShouldEqual, byte(0x02))
	flag.Insert(data, 0)
	test.That(t, data[6], test.ShouldEqual, byte(0))
}

func TestFrames(t *testing.T) {
	t.Run("closed loop command", func(t *testing.T) {
		cmd := drive.ModuleCommand{
			Index:            2,
			State:            kinematics.ModuleState{Speed: -1.25, Angle: geometry.FromDegrees(135)},
			FeedforwardVolts: -3.1,
		}
		frame := CommandFrame(cmd)
		test.That(t, frame.ID, test.ShouldEqual, uint32(0x302))
		test.That(t, frame.Kind, test.ShouldEqual, canbus.SFF)
		test.That(t, len(frame.Data), test.ShouldEqual, 8)

		got, ok := DecodeCommand(frame)
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, got.Index, test.ShouldEqual, 2)
		test.That(t, got.OpenLoop, test.ShouldBeFalse)
		test.That(t, got.State.Speed, test.ShouldAlmostEqual, -1.25, 1e-3)
		test.That(t, got.State.Angle.Degrees(), test.ShouldAlmostEqual, 135, 0.01)
		test.That(t, got.FeedforwardVolts, test.ShouldAlmostEqual, -3.1, 1e-3)
	})

	t.Run("open loop command", func(t *testing.T) {
		cmd := drive.ModuleCommand{
			Index:         0,
			State:         kinematics.ModuleState{Speed: 2, Angle: geometry.FromDegrees(-30)},
			OpenLoop:      true,
			PercentOutput: 0.5,
		}
		got, ok := DecodeCommand(CommandFrame(cmd))
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, got.OpenLoop, test.ShouldBeTrue)
		test.That(t, got.PercentOutput, test.ShouldAlmostEqual, 0.5, 1e-4)
		test.That(t, got.State.Angle.Degrees(), test.ShouldAlmostEqual, -30, 0.01)
	})

	t.Run("foreign ids are not commands", func(t *testing.T) {
		_, ok := DecodeCommand(StatusFrame(0, 1, 2, 3))
		test.That(t, ok, test.ShouldBeFalse)
		_, ok = DecodeCommand(canbus.Frame{ID: CommandBaseID + 4, Data: make([]byte, 8)})
		test.That(t, ok, test.ShouldBeFalse)
	})

	t.Run("filters", func(t *testing.T) {
		filters := Filters()
		test.That(t, len(filters), test.ShouldEqual, 2*kinematics.NumModules)
		test.That(t, filters[0].Id, test.ShouldEqual, StatusBaseID)
		test.That(t, filters[7].Id, test.ShouldEqual, CurrentBaseID+3)
	})
}

type fakeSender struct {
	mu     sync.Mutex
	frames []canbus.Frame
	closed bool
}

func (s *fakeSender) Send(frame canbus.Frame) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, frame)
	return len(frame.Data), nil
}

func (s *fakeSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// lastCommands decodes the most recent frame per module.
func (s *fakeSender) lastCommands() (map[int]drive.ModuleCommand, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[int]drive.ModuleCommand{}
	for _, f := range s.frames {
		if cmd, ok := DecodeCommand(f); ok {
			out[cmd.Index] = cmd
		}
	}
	return out, len(s.frames)
}

func testCommands(speed float64) [kinematics.NumModules]drive.ModuleCommand {
	var cmds [kinematics.NumModules]drive.ModuleCommand
	for i := range cmds {
		cmds[i] = drive.ModuleCommand{
			Index: i,
			State: kinematics.ModuleState{Speed: speed, Angle: geometry.FromDegrees(float64(10 * i))},
		}
	}
	return cmds
}

func TestActuator(t *testing.T) {
	ctx := context.Background()

	t.Run("heartbeat resends the latest commands", func(t *testing.T) {
		sender := &fakeSender{}
		act := NewActuator(sender, nil, ActuatorConfig{Heartbeat: time.Millisecond, CommsTimeout: -1}, logging.NewTestLogger(t))
		test.That(t, act.Actuate(ctx, testCommands(1.5)), test.ShouldBeNil)

		testutils.WaitForAssertion(t, func(tb testing.TB) {
			cmds, sent := sender.lastCommands()
			test.That(tb, sent, test.ShouldBeGreaterThan, 3*kinematics.NumModules)
			test.That(tb, len(cmds), test.ShouldEqual, kinematics.NumModules)
			test.That(tb, cmds[3].State.Speed, test.ShouldAlmostEqual, 1.5, 1e-3)
			test.That(tb, cmds[3].State.Angle.Degrees(), test.ShouldAlmostEqual, 30, 0.01)
		})

		act.Close()
		sender.mu.Lock()
		test.That(t, sender.closed, test.ShouldBeTrue)
		sender.mu.Unlock()

		// the last round before closing holds the angle at zero output
		cmds, _ := sender.lastCommands()
		test.That(t, cmds[3].OpenLoop, test.ShouldBeTrue)
		test.That(t, cmds[3].PercentOutput, test.ShouldEqual, 0.0)
		test.That(t, cmds[3].State.Angle.Degrees(), test.ShouldAlmostEqual, 30, 0.01)

		err := act.Actuate(ctx, testCommands(1))
		test.That(t, err, test.ShouldNotBeNil)
	})

	t.Run("comms timeout holds the modules", func(t *testing.T) {
		sender := &fakeSender{}
		act := NewActuator(sender, nil, ActuatorConfig{Heartbeat: time.Millisecond, CommsTimeout: 100 * time.Millisecond}, logging.NewTestLogger(t))
		defer act.Close()
		test.That(t, act.Actuate(ctx, testCommands(2)), test.ShouldBeNil)

		testutils.WaitForAssertion(t, func(tb testing.TB) {
			cmds, _ := sender.lastCommands()
			test.That(tb, cmds[1].OpenLoop, test.ShouldBeTrue)
			test.That(tb, cmds[1].PercentOutput, test.ShouldEqual, 0.0)
			test.That(tb, cmds[1].State.Angle.Degrees(), test.ShouldAlmostEqual, 10, 0.01)
		})

		// a new command lifts the hold
		test.That(t, act.Actuate(ctx, testCommands(0.5)), test.ShouldBeNil)
		testutils.WaitForAssertion(t, func(tb testing.TB) {
			cmds, _ := sender.lastCommands()
			test.That(tb, cmds[1].OpenLoop, test.ShouldBeFalse)
			test.That(tb, cmds[1].State.Speed, test.ShouldAlmostEqual, 0.5, 1e-3)
		})
	})

	t.Run("canceled context", func(t *testing.T) {
		act := NewActuator(&fakeSender{}, nil, ActuatorConfig{}, logging.NewTestLogger(t))
		defer act.Close()
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		test.That(t, act.Actuate(cancelled, testCommands(1)), test.ShouldBeError, context.Canceled)
	})
}

type fakeReceiver struct {
	frames chan canbus.Frame
	done   chan struct{}
	once   sync.Once
}

func newFakeReceiver() *fakeReceiver {
	return &fakeReceiver{frames: make(chan canbus.Frame, 64), done: make(chan struct{})}
}

func (r *fakeReceiver) Recv() (canbus.Frame, error) {
	select {
	case f := <-r.frames:
		return f, nil
	case <-r.done:
		return canbus.Frame{}, errors.New("socket closed")
	}
}

func (r *fakeReceiver) Close() error {
	r.once.Do(func() { close(r.done) })
	return nil
}

type fakeGyro struct {
	heading geometry.Rotation
	err     error
}

func (g *fakeGyro) Heading(ctx context.Context) (geometry.Rotation, error) {
	return g.heading, g.err
}

func TestSensorReader(t *testing.T) {
	ctx := context.Background()
	mock := clock.NewMock()
	recv := newFakeReceiver()
	gyro := &fakeGyro{heading: geometry.FromDegrees(12)}
	offsets := [kinematics.NumModules]geometry.Rotation{geometry.FromDegrees(5)}
	reader := NewSensorReader(recv, gyro, mock, ReaderConfig{AngleOffsets: offsets}, logging.NewTestLogger(t))
	defer reader.Close()

	_, err := reader.Read(ctx)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "has not reported")
	test.That(t, reader.ResetToAbsolute(), test.ShouldNotBeNil)

	for i := 0; i < kinematics.NumModules; i++ {
		recv.frames <- StatusFrame(i, 1.5+float64(i), 45, -0.75)
		recv.frames <- CurrentFrame(i, 12.34, 40)
	}
	// frames for other nodes are ignored
	recv.frames <- canbus.Frame{ID: 0x241, Data: make([]byte, 8)}

	testutils.WaitForAssertion(t, func(tb testing.TB) {
		reading, err := reader.Read(ctx)
		test.That(tb, err, test.ShouldBeNil)
		test.That(tb, reading.Modules[3].Current, test.ShouldAlmostEqual, 12.34, 1e-9)
	})

	reading, err := reader.Read(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, reading.Gyro.Degrees(), test.ShouldAlmostEqual, 12, 1e-9)
	test.That(t, reading.Modules[0].Position.Distance, test.ShouldAlmostEqual, 1.5, 1e-9)
	test.That(t, reading.Modules[0].Position.Angle.Degrees(), test.ShouldAlmostEqual, 40, 1e-9)
	test.That(t, reading.Modules[1].Position.Angle.Degrees(), test.ShouldAlmostEqual, 45, 1e-9)
	test.That(t, reading.Modules[2].Position.Distance, test.ShouldAlmostEqual, 3.5, 1e-9)
	test.That(t, reading.Modules[2].Velocity, test.ShouldAlmostEqual, -0.75, 1e-9)
	test.That(t, reading.Modules[0].AbsoluteAngle.Degrees(), test.ShouldAlmostEqual, 35, 1e-9)
	test.That(t, reading.Modules[1].AbsoluteAngle.Degrees(), test.ShouldAlmostEqual, 40, 1e-9)

	test.That(t, reader.ResetToAbsolute(), test.ShouldBeNil)
	reading, err = reader.Read(ctx)
	test.That(t, err, test.ShouldBeNil)
	for i, m := range reading.Modules {
		test.That(t, m.Position.Angle.AlmostEqual(m.AbsoluteAngle, 1e-9), test.ShouldBeTrue)
		test.That(t, m.Position.Distance, test.ShouldAlmostEqual, 1.5+float64(i), 1e-9)
	}

	gyro.err = errors.New("imu offline")
	_, err = reader.Read(ctx)
	test.That(t, err, test.ShouldNotBeNil)
	gyro.err = nil

	mock.Add(DefaultStaleAfter + time.Millisecond)
	_, err = reader.Read(ctx)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "stale")
}
