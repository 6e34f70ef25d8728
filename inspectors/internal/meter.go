package internal

type TimePoint struct {
	RealTime float64
	Bytes    int64
}

// Meter measures how many bytes arrived over the most recent interval.
type Meter struct {
	timePoints []*TimePoint
	interval   float64
}

func NewMeter(interval float64) *Meter {
	return &Meter{
		timePoints: make([]*TimePoint, 0, 8),
		interval:   interval,
	}
}

func (m *Meter) LatestTimePoint() *TimePoint {
	if len(m.timePoints) == 0 {
		return nil
	}
	return m.timePoints[len(m.timePoints)-1]
}

// AddTimePoint appends tp and drops points older than the interval, keeping
// one point at or before the window start.
func (m *Meter) AddTimePoint(tp *TimePoint) {
	m.timePoints = append(m.timePoints, tp)
	if m.interval <= 0 {
		return
	}
	for i := 1; i < len(m.timePoints); i++ {
		if m.timePoints[i].RealTime > tp.RealTime-m.interval {
			m.timePoints = m.timePoints[i-1:]
			break
		}
	}
}

func (m *Meter) Satisfied() bool {
	return len(m.timePoints) >= 2 && m.RealTimeElapsed() > 0
}

// Rate returns bytes per second over the window.
func (m *Meter) Rate() float64 {
	if !m.Satisfied() {
		return 0
	}
	return float64(m.BytesElapsed()) / m.RealTimeElapsed()
}

func (m *Meter) RealTimeElapsed() float64 {
	if len(m.timePoints) < 2 {
		return 0
	}
	old := m.timePoints[0]
	curr := m.timePoints[len(m.timePoints)-1]
	return curr.RealTime - old.RealTime
}

func (m *Meter) BytesElapsed() int64 {
	if len(m.timePoints) < 2 {
		return 0
	}
	old := m.timePoints[0]
	curr := m.timePoints[len(m.timePoints)-1]
	return curr.Bytes - old.Bytes
}
