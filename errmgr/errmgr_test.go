package errmgr

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/alecthomas/assert/v2"
)

func nullLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestThresholdTolerated(t *testing.T) {
	aborted := 0
	m := New(3, func(error) { aborted++ }, nullLogger())

	for i := 0; i < 3; i++ {
		m.Report(errors.New("bad record"))
	}
	assert.Equal(t, 0, aborted)
	assert.Equal(t, uint64(3), m.Count())
}

func TestAbortsOncePastThreshold(t *testing.T) {
	aborted := 0
	var got error
	m := New(3, func(err error) { aborted++; got = err }, nullLogger())

	boom := errors.New("boom")
	for i := 0; i < 3; i++ {
		m.Report(errors.New("bad record"))
	}
	m.Report(boom)
	m.Report(errors.New("after abort"))

	assert.Equal(t, 1, aborted)
	assert.True(t, errors.Is(got, boom))
	assert.Equal(t, uint64(5), m.Count())
}

func TestZeroThresholdNeverAborts(t *testing.T) {
	aborted := 0
	m := New(0, func(error) { aborted++ }, nullLogger())

	for i := 0; i < 100; i++ {
		m.Report(errors.New("bad record"))
	}
	assert.Equal(t, 0, aborted)
}
