package messaging

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
)

const wordSize = 4

var (
	ErrInvalidFrame = errors.New("invalid incoming kernel message")
)

// CodecError is returned when a websocket frame cannot be converted to or from a Message.
type CodecError struct {
	Reason string
	Err    error
}

func (e *CodecError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", ErrInvalidFrame.Error(), e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", ErrInvalidFrame.Error(), e.Reason)
}

func (e *CodecError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrInvalidFrame
}

// Is lets errors.Is(err, ErrInvalidFrame) match every CodecError.
func (e *CodecError) Is(target error) bool {
	return target == ErrInvalidFrame
}

// Serialize encodes msg for the websocket.
//
// A message without buffers becomes a JSON text frame. A message with buffers becomes a binary
// frame laid out as:
//
//	uint32 n                  number of segments (the JSON segment plus one per buffer)
//	uint32 offsets[n]         start of each segment, from the beginning of the frame
//	JSON                      the message without its buffers
//	buffers...                the raw buffers, in order
//
// All integers are big-endian.
func Serialize(msg *Message) (data []byte, isBinary bool, err error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, false, &CodecError{Reason: "failed to encode message as JSON", Err: err}
	}

	if len(msg.Buffers) == 0 {
		return payload, false, nil
	}

	numSegments := 1 + len(msg.Buffers)
	headerLen := wordSize * (numSegments + 1)

	total := headerLen + len(payload)
	for _, buf := range msg.Buffers {
		total += len(buf)
	}

	data = make([]byte, headerLen, total)
	binary.BigEndian.PutUint32(data[0:wordSize], uint32(numSegments))

	offset := headerLen
	binary.BigEndian.PutUint32(data[wordSize:2*wordSize], uint32(offset))
	offset += len(payload)
	for i, buf := range msg.Buffers {
		pos := wordSize * (i + 2)
		binary.BigEndian.PutUint32(data[pos:pos+wordSize], uint32(offset))
		offset += len(buf)
	}

	data = append(data, payload...)
	for _, buf := range msg.Buffers {
		data = append(data, buf...)
	}

	return data, true, nil
}

// Deserialize decodes a websocket frame into a Message. Binary frames use the layout
// documented on Serialize.
func Deserialize(data []byte, isBinary bool) (*Message, error) {
	if !isBinary {
		return decodeJSON(data)
	}

	if len(data) < wordSize {
		return nil, &CodecError{Reason: fmt.Sprintf("binary frame of %d bytes is too short", len(data))}
	}

	numSegments := int(binary.BigEndian.Uint32(data[0:wordSize]))
	if numSegments < 2 {
		return nil, &CodecError{Reason: fmt.Sprintf("binary frame declares %d segment(s), expected at least 2", numSegments)}
	}

	headerLen := wordSize * (numSegments + 1)
	if headerLen > len(data) || headerLen < 0 {
		return nil, &CodecError{Reason: fmt.Sprintf("offset table of %d segments exceeds frame of %d bytes", numSegments, len(data))}
	}

	offsets := make([]int, numSegments+1)
	for i := 0; i < numSegments; i++ {
		pos := wordSize * (i + 1)
		offsets[i] = int(binary.BigEndian.Uint32(data[pos : pos+wordSize]))
	}
	offsets[numSegments] = len(data)

	if offsets[0] < headerLen {
		return nil, &CodecError{Reason: fmt.Sprintf("first segment at %d overlaps the offset table", offsets[0])}
	}
	for i := 1; i <= numSegments; i++ {
		if offsets[i] < offsets[i-1] || offsets[i] > len(data) {
			return nil, &CodecError{Reason: fmt.Sprintf("segment %d has invalid bounds [%d, %d)", i-1, offsets[i-1], offsets[i])}
		}
	}

	msg, err := decodeJSON(data[offsets[0]:offsets[1]])
	if err != nil {
		return nil, err
	}

	msg.Buffers = make([][]byte, 0, numSegments-1)
	for i := 1; i < numSegments; i++ {
		segment := data[offsets[i]:offsets[i+1]]
		msg.Buffers = append(msg.Buffers, append([]byte(nil), segment...))
	}

	return msg, nil
}

func decodeJSON(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, &CodecError{Reason: "failed to decode message JSON", Err: errors.WithStack(err)}
	}
	return &msg, nil
}
