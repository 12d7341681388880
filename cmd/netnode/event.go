package main

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	maxEventStr = 32
	eventLen    = 4 + maxEventStr
)

// event is the demo message exchanged by nodes: a sequence number and a
// NUL padded string.
type event struct {
	Seq uint32
	Str string
}

func (e *event) encode() []byte {
	b := make([]byte, eventLen)
	binary.LittleEndian.PutUint32(b, e.Seq)
	copy(b[4:], e.Str)
	return b
}

func decodeEvent(b []byte) (*event, error) {
	if len(b) != eventLen {
		return nil, fmt.Errorf("invalid event size %d", len(b))
	}
	str := b[4:]
	if n := bytes.IndexByte(str, 0); n >= 0 {
		str = str[:n]
	}
	return &event{Seq: binary.LittleEndian.Uint32(b), Str: string(str)}, nil
}
