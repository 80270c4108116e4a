package gaugeerr

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorsAreStableStrings(t *testing.T) {
	cases := map[string]error{
		"transport error":                        ErrTransport,
		"configuration error":                    ErrConfiguration,
		"configuration error: unknown parameter": ErrUnknownParam,
		"configuration error: length mismatch":   ErrLengthMismatch,
		"plausibility rejection":                 ErrPlausibility,
		"precondition not met":                   ErrPrecondition,
		"not yet available":                      ErrUnavailable,
		"no data":                                ErrNoData,
		"timed out":                              ErrTimeout,
	}
	for want, e := range cases {
		assert.EqualError(t, e, want)
	}
}

func TestClassification(t *testing.T) {
	assert.True(t, IsRoutine(fmt.Errorf("%w: esr 9000 mOhm", ErrPlausibility)))
	assert.True(t, IsRoutine(fmt.Errorf("%w: too cold", ErrPrecondition)))
	assert.False(t, IsRoutine(fmt.Errorf("%w: nack", ErrTransport)))

	assert.True(t, IsConfiguration(fmt.Errorf("%w: id 99", ErrUnknownParam)))
	assert.True(t, IsConfiguration(ErrLengthMismatch))
	assert.False(t, IsConfiguration(ErrNoData))
}
