package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddnote/midimind/midimsg"
	"github.com/oddnote/midimind/processor"
)

type recorded struct {
	sinkID string
	m      midimsg.Message
}

func TestDispatchChannelFilterAndTranspose(t *testing.T) {
	var got []recorded
	table := NewTable(func(sinkID string, m midimsg.Message, r Route) {
		got = append(got, recorded{sinkID, m})
	})
	table.Add(Route{
		ID: "r1", SourceID: "src", SinkID: "sink1",
		Channels: func() [17]bool { var c [17]bool; c[1] = true; return c }(),
		Chain:    processor.NewChain(processor.NewTranspose(12)),
	})

	table.Dispatch("src", midimsg.NoteOn(1, 60, 100, 0))
	require.Len(t, got, 1)
	assert.Equal(t, uint8(72), got[0].m.Data1)

	got = nil
	table.Dispatch("src", midimsg.NoteOn(2, 60, 100, 0))
	assert.Empty(t, got)
}

func TestSoloOverridesUnmutedRoutes(t *testing.T) {
	var got []string
	table := NewTable(func(sinkID string, m midimsg.Message, r Route) {
		got = append(got, sinkID)
	})
	table.Add(Route{ID: "a", SourceID: "src", SinkID: "A", Solo: true})
	table.Add(Route{ID: "b", SourceID: "src", SinkID: "B"})
	table.Add(Route{ID: "c", SourceID: "src", SinkID: "C"})

	table.Dispatch("src", midimsg.NoteOn(1, 60, 100, 0))
	assert.Equal(t, []string{"A"}, got)
}

func TestMuteSuppressesRouteEvenUnderSolo(t *testing.T) {
	var got []string
	table := NewTable(func(sinkID string, m midimsg.Message, r Route) {
		got = append(got, sinkID)
	})
	table.Add(Route{ID: "a", SourceID: "src", SinkID: "A", Solo: true, Mute: true})
	table.Add(Route{ID: "b", SourceID: "src", SinkID: "B"})

	table.Dispatch("src", midimsg.NoteOn(1, 60, 100, 0))
	assert.Empty(t, got)
}

func TestOffsetAppliesToTimestamp(t *testing.T) {
	var got midimsg.Message
	table := NewTable(func(sinkID string, m midimsg.Message, r Route) { got = m })
	table.Add(Route{ID: "a", SourceID: "src", SinkID: "A", OffsetUS: 5000})

	table.Dispatch("src", midimsg.NoteOn(1, 60, 100, 1000))
	assert.Equal(t, int64(6000), got.TimestampUS)
}

func TestRemoveUnknownRouteReturnsNotFound(t *testing.T) {
	table := NewTable(nil)
	err := table.Remove("nope")
	require.Error(t, err)
}

func TestListIsSnapshotSafeDuringConcurrentAdd(t *testing.T) {
	table := NewTable(nil)
	table.Add(Route{ID: "a", SourceID: "src", SinkID: "A"})
	snap := table.List()
	table.Add(Route{ID: "b", SourceID: "src", SinkID: "B"})
	assert.Len(t, snap, 1)
	assert.Len(t, table.List(), 2)
}
