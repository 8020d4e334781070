package processor

import "github.com/oddnote/midimind/midimsg"

// ChannelFilter passes a message through only if its channel is in
// the allowed set (spec §4.4), grounded on the declarative
// predicate-over-a-field shape of the teacher's packet filter.
type ChannelFilter struct {
	allowed [17]bool // index 0 unused; channels are 1-based
}

// NewChannelFilter returns a ChannelFilter admitting exactly the given
// 1-based channels.
func NewChannelFilter(channels ...uint8) *ChannelFilter {
	f := &ChannelFilter{}
	for _, ch := range channels {
		if ch >= 1 && ch <= 16 {
			f.allowed[ch] = true
		}
	}
	return f
}

func (f *ChannelFilter) Process(m midimsg.Message, nowUS int64) []midimsg.Message {
	if m.Channel == 0 {
		// No-channel messages (SysEx, MetaEvent, Realtime) pass
		// through a channel filter unconditionally.
		return []midimsg.Message{m}
	}
	if m.Channel > 16 || !f.allowed[m.Channel] {
		return nil
	}
	return []midimsg.Message{m}
}

func (f *ChannelFilter) Tick(nowUS int64) []midimsg.Message { return nil }
func (f *ChannelFilter) Reset() []midimsg.Message           { return nil }
