package dispatch

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
)

// readRecordMarkedMessage performs the recv(xprt) step (§6) for a TCP
// transport: read one or more record-marking fragments (RFC 5531 §10)
// and return the reassembled RPC message. Each fragment is prefixed by a
// 4-byte header whose high bit marks the last fragment of the message
// and whose low 31 bits give that fragment's length.
func readRecordMarkedMessage(conn net.Conn, maxSize int) ([]byte, error) {
	var msg []byte
	for {
		var header [4]byte
		if _, err := io.ReadFull(conn, header[:]); err != nil {
			return nil, fmt.Errorf("read fragment header: %w", err)
		}
		raw := binary.BigEndian.Uint32(header[:])
		last := raw&0x80000000 != 0
		fragLen := int(raw & 0x7FFFFFFF)

		if maxSize > 0 && len(msg)+fragLen > maxSize {
			return nil, fmt.Errorf("record-marked message exceeds max size %d", maxSize)
		}

		frag := make([]byte, fragLen)
		if _, err := io.ReadFull(conn, frag); err != nil {
			return nil, fmt.Errorf("read fragment body: %w", err)
		}
		msg = append(msg, frag...)

		if last {
			return msg, nil
		}
	}
}
