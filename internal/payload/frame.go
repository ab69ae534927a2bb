package payload

import "encoding/binary"

const (
	wsFinBit    = 0x80
	wsOpcodeText = 0x1
)

// encodeTextFrame wraps payload in a single unmasked RFC 6455 text frame
// (FIN=1, opcode=0x1), using the short/16-bit/64-bit extended length
// encoding as required by the payload's size (§4.4, §5.2).
func encodeTextFrame(payload []byte) []byte {
	n := len(payload)

	var header []byte
	switch {
	case n < 126:
		header = []byte{wsFinBit | wsOpcodeText, byte(n)}
	case n <= 0xFFFF:
		header = make([]byte, 4)
		header[0] = wsFinBit | wsOpcodeText
		header[1] = 126
		binary.BigEndian.PutUint16(header[2:], uint16(n))
	default:
		header = make([]byte, 10)
		header[0] = wsFinBit | wsOpcodeText
		header[1] = 127
		binary.BigEndian.PutUint64(header[2:], uint64(n))
	}

	frame := make([]byte, 0, len(header)+n)
	frame = append(frame, header...)
	frame = append(frame, payload...)
	return frame
}
