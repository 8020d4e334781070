package processor

import "github.com/oddnote/midimind/midimsg"

// scheduledEcho is one pending delayed NoteOn/NoteOff pair owned by a
// Delay stage's local queue.
type scheduledEcho struct {
	dueUS   int64
	message midimsg.Message
}

// Delay schedules N echoes of each NoteOn/NoteOff at a fixed interval,
// with velocity decaying by a constant factor per repeat (spec §4.4).
// Non-note messages pass through immediately, unechoed.
type Delay struct {
	IntervalUS int64
	Repeats    int
	Decay      float64 // velocity multiplier applied per successive echo, e.g. 0.7

	queue []scheduledEcho
}

// NewDelay returns a Delay stage emitting repeats echoes every
// intervalUS microseconds, each decay times the previous echo's
// velocity.
func NewDelay(intervalUS int64, repeats int, decay float64) *Delay {
	return &Delay{IntervalUS: intervalUS, Repeats: repeats, Decay: decay}
}

func (d *Delay) Process(m midimsg.Message, nowUS int64) []midimsg.Message {
	if !m.IsNote() || d.Repeats <= 0 || d.IntervalUS <= 0 {
		return []midimsg.Message{m}
	}
	vel := float64(m.Data2)
	due := nowUS
	for i := 0; i < d.Repeats; i++ {
		due += d.IntervalUS
		vel *= d.Decay
		echo := m
		echo.TimestampUS = due
		if m.Kind == midimsg.KindNoteOn {
			echo.Data2 = clampVelocity(vel)
		}
		d.queue = append(d.queue, scheduledEcho{dueUS: due, message: echo})
	}
	return []midimsg.Message{m}
}

func (d *Delay) Tick(nowUS int64) []midimsg.Message {
	if len(d.queue) == 0 {
		return nil
	}
	var due []midimsg.Message
	remaining := d.queue[:0]
	for _, e := range d.queue {
		if e.dueUS <= nowUS {
			due = append(due, e.message)
		} else {
			remaining = append(remaining, e)
		}
	}
	d.queue = remaining
	return due
}

// Reset drops all pending echoes without emitting NoteOffs: Delay
// echoes are self-contained NoteOn/NoteOff pairs already in flight,
// not held notes, so there is nothing to release.
func (d *Delay) Reset() []midimsg.Message {
	d.queue = nil
	return nil
}
