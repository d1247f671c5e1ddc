package framed

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDoomLoopDetector_RepeatsAtThreshold(t *testing.T) {
	d := newDoomLoopDetector()

	repeated, count := d.Check("ls -la")
	assert.False(t, repeated)
	assert.Equal(t, 1, count)

	repeated, count = d.Check("ls -la")
	assert.False(t, repeated)
	assert.Equal(t, 2, count)

	repeated, count = d.Check("ls -la")
	assert.True(t, repeated)
	assert.Equal(t, 3, count)
}

func TestDoomLoopDetector_DistinctCommandsDoNotAccumulate(t *testing.T) {
	d := newDoomLoopDetector()
	assert.NotPanics(t, func() {
		for _, cmd := range []string{"ls", "pwd", "echo hi", "git status"} {
			repeated, _ := d.Check(cmd)
			assert.False(t, repeated)
		}
	})
}

func TestDoomLoopDetector_ResetClearsHistory(t *testing.T) {
	d := newDoomLoopDetector()
	d.Check("ls")
	d.Check("ls")
	d.Reset()

	repeated, count := d.Check("ls")
	assert.False(t, repeated)
	assert.Equal(t, 1, count)
}

func TestDoomLoopDetector_RingBufferEvictsOldEntries(t *testing.T) {
	d := newDoomLoopDetector()
	d.Check("target")
	for i := 0; i < doomLoopBufferSize; i++ {
		d.Check("filler")
	}
	// "target" has fallen out of the ring buffer's window by now.
	repeated, count := d.Check("target")
	assert.False(t, repeated)
	assert.Equal(t, 1, count)
}
