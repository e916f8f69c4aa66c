package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteThenReadRoundTrip(t *testing.T) {
	seg, err := OpenSegment(t.TempDir(), KindOnline, 128, 3)
	require.NoError(t, err)
	defer seg.Close()

	payload := []byte("hello online segment")
	require.NoError(t, seg.Write(payload))

	assert.Equal(t, uint64(len(payload)), seg.ReadFooter(0))
	assert.Equal(t, payload, seg.ReadPayload(0))
}

func TestAdvanceWrapsAtM(t *testing.T) {
	seg, err := OpenSegment(t.TempDir(), KindPower, 64, 3)
	require.NoError(t, err)
	defer seg.Close()

	assert.Equal(t, 0, seg.CurrentSlot())
	seg.Advance()
	assert.Equal(t, 1, seg.CurrentSlot())
	seg.Advance()
	assert.Equal(t, 2, seg.CurrentSlot())
	seg.Advance()
	assert.Equal(t, 0, seg.CurrentSlot(), "cursor must wrap at M")
}

// TestWritingOneSlotDoesNotPerturbOthers exercises spec §8 scenario S6's
// "writing segment k does not perturb the contents of the other segments".
func TestWritingOneSlotDoesNotPerturbOthers(t *testing.T) {
	seg, err := OpenSegment(t.TempDir(), KindTraces, 64, 3)
	require.NoError(t, err)
	defer seg.Close()

	require.NoError(t, seg.Write([]byte("segment zero")))
	seg.Advance()
	require.NoError(t, seg.Write([]byte("segment one")))
	seg.Advance()
	require.NoError(t, seg.Write([]byte("segment two")))

	assert.Equal(t, []byte("segment zero"), seg.ReadPayload(0))
	assert.Equal(t, []byte("segment one"), seg.ReadPayload(1))
	assert.Equal(t, []byte("segment two"), seg.ReadPayload(2))
}

func TestRingRotationOrder(t *testing.T) {
	dir := t.TempDir()
	r, err := Open(dir, 3, 64, 64, 64)
	require.NoError(t, err)
	defer r.Close()

	var order []int
	for i := 0; i < 6; i++ {
		order = append(order, r.Online.CurrentSlot())
		require.NoError(t, r.Online.Write([]byte{byte(i)}))
		r.Advance()
	}

	assert.Equal(t, []int{0, 1, 2, 0, 1, 2}, order)
}

func TestPayloadLargerThanCapacityRejected(t *testing.T) {
	seg, err := OpenSegment(t.TempDir(), KindOnline, 16, 1) // 8 bytes usable
	require.NoError(t, err)
	defer seg.Close()

	err = seg.Write(make([]byte, 9))
	assert.Error(t, err)
}
