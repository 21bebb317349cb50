package progress

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPercentFloors(t *testing.T) {
	cases := []struct {
		current, total, want int
	}{
		{0, 3, 0},
		{1, 3, 33},
		{2, 3, 66},
		{3, 3, 100},
		{1, 7, 14},
		{0, 0, 100},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Percent(tc.current, tc.total), "%d/%d", tc.current, tc.total)
	}
}

func TestLineBreaksOnlyWhenComplete(t *testing.T) {
	assert.Equal(t, "\rProcessing a.jpg [50%]", Line(1, 2, "a.jpg"))
	assert.Equal(t, "\rProcessing Done [100%]\n", Line(2, 2, DoneLabel))
}

func TestReportIsIdempotent(t *testing.T) {
	var first, second bytes.Buffer
	New(&first).Report(4, 9, "x.png")
	New(&second).Report(4, 9, "x.png")
	assert.Equal(t, first.String(), second.String())

	var buf bytes.Buffer
	r := New(&buf)
	r.Report(4, 9, "x.png")
	r.Report(4, 9, "x.png")
	assert.Equal(t, first.String()+first.String(), buf.String())
}

func TestDone(t *testing.T) {
	var buf bytes.Buffer
	New(&buf).Done(5)
	assert.Equal(t, "\rProcessing Done [100%]\n", buf.String())
}

func TestNilReporterIsSilent(t *testing.T) {
	var r *Reporter
	assert.NotPanics(t, func() { r.Report(1, 2, "x") })
}
