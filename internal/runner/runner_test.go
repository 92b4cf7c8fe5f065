package runner

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProgressParser(t *testing.T) {
	const totalUS = int64(30_000_000) // 30s snippet

	t.Run("emits fractions from out_time_us", func(t *testing.T) {
		var got []float64
		p := newProgressParser(totalUS, func(f float64) { got = append(got, f) })

		p.feed("out_time_us=3000000")
		p.feed("out_time_us=15000000")
		p.feed("out_time_us=30000000")

		assert.Equal(t, []float64{0.1, 0.5, 1.0}, got)
	})

	t.Run("out_time_ms also carries microseconds", func(t *testing.T) {
		var got []float64
		p := newProgressParser(totalUS, func(f float64) { got = append(got, f) })

		p.feed("out_time_ms=15000000")

		assert.Equal(t, []float64{0.5}, got)
	})

	t.Run("never emits a lower fraction", func(t *testing.T) {
		var got []float64
		p := newProgressParser(totalUS, func(f float64) { got = append(got, f) })

		p.feed("out_time_us=15000000")
		p.feed("out_time_us=9000000")
		p.feed("out_time_us=15000000")
		p.feed("out_time_us=18000000")

		assert.Equal(t, []float64{0.5, 0.6}, got)
	})

	t.Run("caps overshoot at one", func(t *testing.T) {
		var got []float64
		p := newProgressParser(totalUS, func(f float64) { got = append(got, f) })

		p.feed("out_time_us=45000000")

		assert.Equal(t, []float64{1.0}, got)
	})

	t.Run("progress=end forces completion", func(t *testing.T) {
		var got []float64
		p := newProgressParser(totalUS, func(f float64) { got = append(got, f) })

		p.feed("out_time_us=15000000")
		p.feed("progress=end")

		assert.Equal(t, []float64{0.5, 1.0}, got)
	})

	t.Run("end after completion is silent", func(t *testing.T) {
		var got []float64
		p := newProgressParser(totalUS, func(f float64) { got = append(got, f) })

		p.feed("out_time_us=30000000")
		p.feed("progress=end")

		assert.Equal(t, []float64{1.0}, got)
	})

	t.Run("unknown total emits nothing until end", func(t *testing.T) {
		var got []float64
		p := newProgressParser(0, func(f float64) { got = append(got, f) })

		p.feed("out_time_us=15000000")
		assert.Empty(t, got)

		p.feed("progress=end")
		assert.Equal(t, []float64{1.0}, got)
	})

	t.Run("malformed lines ignored", func(t *testing.T) {
		var got []float64
		p := newProgressParser(totalUS, func(f float64) { got = append(got, f) })

		p.feed("out_time_us=notanumber")
		p.feed("out_time_us=-100")
		p.feed("frame 42")
		p.feed("speed=2.5x")
		p.feed("")

		assert.Empty(t, got)
	})
}

func TestStderrTail(t *testing.T) {
	t.Run("retains everything under the cap", func(t *testing.T) {
		tail := newStderrTail()
		tail.add("first")
		tail.add("second")
		assert.Equal(t, "first\nsecond", tail.String())
	})

	t.Run("drops oldest lines past the cap", func(t *testing.T) {
		tail := newStderrTail()
		for i := 0; i < stderrTailMaxLines+10; i++ {
			tail.add(fmt.Sprintf("line %d", i))
		}
		out := tail.String()
		assert.NotContains(t, out, "line 9\n")
		assert.Contains(t, out, fmt.Sprintf("line %d", stderrTailMaxLines+9))
	})

	t.Run("nil tail is empty", func(t *testing.T) {
		var tail *stderrTail
		assert.Equal(t, "", tail.String())
	})
}
