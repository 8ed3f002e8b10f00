package estimator

import (
	"sort"

	"swerve/geometry"
)

type poseRecord struct {
	timestamp float64
	pose      geometry.Pose2D
}

// poseBuffer is the odometry pose history, ordered by timestamp and trimmed to a fixed
// window behind the newest entry.
type poseBuffer struct {
	window  float64
	records []poseRecord
}

func newPoseBuffer(window float64) *poseBuffer {
	return &poseBuffer{window: window}
}

func (b *poseBuffer) add(timestamp float64, pose geometry.Pose2D) {
	if n := len(b.records); n > 0 && timestamp <= b.records[n-1].timestamp {
		// time went backwards or stood still; keep the newest reading only
		i := sort.Search(n, func(i int) bool { return b.records[i].timestamp >= timestamp })
		b.records = b.records[:i]
	}
	b.records = append(b.records, poseRecord{timestamp: timestamp, pose: pose})

	cutoff := timestamp - b.window
	drop := 0
	for drop < len(b.records)-1 && b.records[drop].timestamp < cutoff {
		drop++
	}
	if drop > 0 {
		b.records = append(b.records[:0], b.records[drop:]...)
	}
}

func (b *poseBuffer) clear() {
	b.records = b.records[:0]
}

func (b *poseBuffer) oldest() (float64, bool) {
	if len(b.records) == 0 {
		return 0, false
	}
	return b.records[0].timestamp, true
}

// sample returns the odometry pose at timestamp, interpolating between neighbouring
// records and clamping to the ends of the history.
func (b *poseBuffer) sample(timestamp float64) (geometry.Pose2D, bool) {
	n := len(b.records)
	if n == 0 {
		return geometry.Pose2D{}, false
	}
	if timestamp <= b.records[0].timestamp {
		return b.records[0].pose, true
	}
	if timestamp >= b.records[n-1].timestamp {
		return b.records[n-1].pose, true
	}

	i := sort.Search(n, func(i int) bool { return b.records[i].timestamp >= timestamp })
	upper, lower := b.records[i], b.records[i-1]
	if upper.timestamp == timestamp {
		return upper.pose, true
	}
	t := (timestamp - lower.timestamp) / (upper.timestamp - lower.timestamp)
	return lower.pose.Interpolate(upper.pose, t), true
}
