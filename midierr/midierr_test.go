package midierr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesWrappedKind(t *testing.T) {
	err := Wrap("op", KindTransportClosed, fmt.Errorf("closed"))
	assert.True(t, Is(err, KindTransportClosed))
	assert.False(t, Is(err, KindNotFound))
}

func TestIsMatchesThroughFurtherWrapping(t *testing.T) {
	err := fmt.Errorf("context: %w", New("op", KindDrainTimeout))
	assert.True(t, Is(err, KindDrainTimeout))
}

func TestUnwrapExposesUnderlyingCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap("presetstore.Save", KindTransportClosed, cause)
	assert.ErrorIs(t, err, cause)
}

func TestNotFoundCarriesEntityAndID(t *testing.T) {
	err := NotFound("router.Table.Remove", "route", "r1")
	assert.True(t, Is(err, KindNotFound))
	assert.Contains(t, err.Error(), "route")
	assert.Contains(t, err.Error(), "r1")
}

func TestErrorStringIncludesOpAndKind(t *testing.T) {
	err := New("scheduler.Submit", KindBackpressureDropped)
	assert.Equal(t, "scheduler.Submit: backpressure_dropped", err.Error())
}
