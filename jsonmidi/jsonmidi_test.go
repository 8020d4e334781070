package jsonmidi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddnote/midimind/midimsg"
)

func buildSampleFile() *midimsg.File {
	f := &midimsg.File{Header: midimsg.Header{Format: midimsg.Format1, TicksPerQuarter: 480}}

	var noteTrack midimsg.Track
	noteTrack.AppendEvent(0, midimsg.NoteOn(1, 60, 100, 0))
	noteTrack.AppendEvent(480, midimsg.NoteOff(1, 60, 0, 0))
	noteTrack.AppendEvent(0, midimsg.Message{Kind: midimsg.KindMetaEvent, MetaType: 0x2F})
	f.Tracks = append(f.Tracks, noteTrack)

	var sysexTrack midimsg.Track
	sysexTrack.AppendEvent(0, midimsg.Message{Kind: midimsg.KindSysEx, Raw: []byte{0x7D, 0x01}})
	sysexTrack.AppendEvent(0, midimsg.Message{Kind: midimsg.KindMetaEvent, MetaType: 0x2F})
	f.Tracks = append(f.Tracks, sysexTrack)

	return f
}

func TestFromMidiFileTagsFormatAndPopulatesTimeline(t *testing.T) {
	doc := FromMidiFile(buildSampleFile())
	assert.Equal(t, FormatTag, doc.Format)
	assert.Greater(t, len(doc.Timeline), 0)
}

func TestToMidiFileRejectsWrongFormatTag(t *testing.T) {
	_, err := Document{Format: "not-jsonmidi"}.ToMidiFile()
	require.Error(t, err)
}

func TestToMidiFileProducesNonEmptyTracks(t *testing.T) {
	doc := Document{Format: FormatTag, TrackCount: 1, Timeline: []Entry{
		{Track: 0, Kind: "NoteOn", Channel: 1, Data1: 60, Data2: 100},
		{Track: 0, Kind: "MetaEvent", MetaType: 0x2F},
	}}
	f, err := doc.ToMidiFile()
	require.NoError(t, err)
	require.Greater(t, len(f.Tracks), 0)
}

func TestRoundTripPreservesTrackCountAndEvents(t *testing.T) {
	original := buildSampleFile()
	doc := FromMidiFile(original)
	reconstructed, err := doc.ToMidiFile()
	require.NoError(t, err)

	require.Equal(t, len(original.Tracks), len(reconstructed.Tracks))
	for i := range original.Tracks {
		require.Equal(t, len(original.Tracks[i].Events), len(reconstructed.Tracks[i].Events))
		for j, ev := range original.Tracks[i].Events {
			got := reconstructed.Tracks[i].Events[j]
			assert.Equal(t, ev.Message.Kind, got.Message.Kind)
			assert.Equal(t, ev.Message.Raw, got.Message.Raw)
		}
	}
}
