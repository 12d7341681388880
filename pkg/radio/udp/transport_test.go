package udp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robotalks/groupnet/pkg/radio"
)

var (
	addrA = radio.Address{0x26, 0, 0, 0, 0, 0xa}
	addrB = radio.Address{0x26, 0, 0, 0, 0, 0xb}
)

func TestFrameCodec(t *testing.T) {
	f := &Frame{Channel: 6, Src: addrA, Dst: addrB, Data: []byte{1, 0, 0xaa}}
	b := f.Encode()
	assert.Len(t, b, HeaderLen+3)
	assert.Equal(t, byte(6), b[0])

	decoded, err := DecodeFrame(b)
	require.NoError(t, err)
	assert.Equal(t, f, decoded)

	_, err = DecodeFrame(b[:HeaderLen])
	assert.Equal(t, radio.ErrFrameSize, err)
}

func TestFrameAccepts(t *testing.T) {
	uni := &Frame{Channel: 1, Src: addrA, Dst: addrB}
	assert.True(t, uni.Accepts(addrB, 1))
	assert.False(t, uni.Accepts(addrB, 2))
	assert.False(t, uni.Accepts(addrA, 1))

	bcast := &Frame{Channel: 1, Src: addrA, Dst: radio.Broadcast}
	assert.True(t, bcast.Accepts(addrB, 1))
	assert.False(t, bcast.Accepts(addrA, 1))
}

func TestNewTransport(t *testing.T) {
	tr, err := NewTransport(DefaultGroup, addrA)
	require.NoError(t, err)
	assert.Equal(t, addrA, tr.LocalAddr())
	assert.Equal(t, radio.MaxDataLen, tr.MaxDataLen())
	assert.Equal(t, radio.ErrNotOpen, tr.Send(radio.Broadcast, []byte{0, 0}))
	assert.NoError(t, tr.Close())

	_, err = NewTransport("127.0.0.1:7007", addrA)
	assert.Error(t, err)
	_, err = NewTransport("not-an-address", addrA)
	assert.Error(t, err)
}
