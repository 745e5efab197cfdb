// Package frame demultiplexes the reassembled byte stream into outer
// packets and inner messages (C5), decompressing payloads flagged as
// zstd-compressed and handing inventory-container candidates off to the
// container decoder.
package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

const (
	// MaxOuterPacketSize is the largest plausible outer packet size.
	MaxOuterPacketSize = 0x0F_FFFF
	// MinOuterPacketSize is the smallest outer packet that can hold a
	// type tag.
	MinOuterPacketSize = 6

	// GameServiceUUID identifies the inventory service on a Notify
	// message.
	GameServiceUUID uint64 = 0x00000000_63335342
	// SyncContainerMethodID identifies the inventory-container sync RPC.
	SyncContainerMethodID uint32 = 21

	kindNotify    uint16 = 2
	kindFrameDown uint16 = 6
	kindMask      uint16 = 0x7FFF
	compressedBit uint16 = 0x8000

	// maxDecompressedSize bounds zstd output.
	maxDecompressedSize = 1 << 20
)

// ErrProtocol signals that the outer-packet size is outside the valid
// range and the caller must reset the owning flow.
var ErrProtocol = fmt.Errorf("frame: invalid outer packet size")

// ContainerHandler receives candidate inventory-container payloads
// (methodId=21 Notify bodies, already decompressed).
type ContainerHandler func(payload []byte)

// ErrorHandler receives a non-fatal per-message failure (currently just
// decompression failures) so the caller can log it. The message is always
// dropped regardless of whether a handler is supplied.
type ErrorHandler func(err error)

// Demux parses outer packets out of buf, repeatedly, until a partial
// packet remains. It returns the number of bytes at the END of buf that
// were not consumed (the trailing partial packet), or -1 with ErrProtocol
// if a protocol error was encountered and the caller must reset its flow.
func Demux(buf []byte, onContainer ContainerHandler) (unconsumed int, err error) {
	return DemuxWithErrorHandler(buf, onContainer, nil)
}

// DemuxWithErrorHandler is Demux with an additional callback for
// decompression failures (spec's "drop message, log at warn" policy),
// invoked in place of silently dropping the message.
func DemuxWithErrorHandler(buf []byte, onContainer ContainerHandler, onError ErrorHandler) (unconsumed int, err error) {
	offset := 0
	for {
		remaining := buf[offset:]
		if len(remaining) < 4 {
			break
		}
		size := int(binary.BigEndian.Uint32(remaining[0:4]))
		if size > len(remaining) {
			break // wait for more bytes
		}
		if size < MinOuterPacketSize || size > MaxOuterPacketSize {
			return -1, ErrProtocol
		}

		packet := remaining[:size]
		handleOuterPacket(packet, onContainer, onError)
		offset += size
	}
	return len(buf) - offset, nil
}

// handleOuterPacket parses one sliced outer packet's inner message and
// dispatches by kind. Parse failures are swallowed; decompression failures
// are reported via onError. Neither ever aborts the surrounding demux loop.
func handleOuterPacket(packet []byte, onContainer ContainerHandler, onError ErrorHandler) {
	if len(packet) < 6 {
		return
	}
	typeTag := binary.BigEndian.Uint16(packet[4:6])
	compressed := typeTag&compressedBit != 0
	kind := typeTag & kindMask
	body := packet[6:]

	switch kind {
	case kindNotify:
		handleNotify(body, compressed, onContainer, onError)
	case kindFrameDown:
		handleFrameDown(body, compressed, onContainer, onError)
	default:
		// Silently skipped.
	}
}

func handleNotify(body []byte, compressed bool, onContainer ContainerHandler, onError ErrorHandler) {
	if len(body) < 16 {
		return
	}
	serviceUUID := binary.BigEndian.Uint64(body[0:8])
	// stubId at body[8:12] is ignored.
	methodID := binary.BigEndian.Uint32(body[12:16])
	payload := body[16:]

	if serviceUUID != GameServiceUUID {
		return
	}
	if compressed {
		decompressed, err := Decompress(payload)
		if err != nil {
			if onError != nil {
				onError(fmt.Errorf("frame: decompress notify payload: %w", err))
			}
			return
		}
		payload = decompressed
	}
	if methodID != SyncContainerMethodID {
		return
	}
	if onContainer != nil {
		onContainer(payload)
	}
}

func handleFrameDown(body []byte, compressed bool, onContainer ContainerHandler, onError ErrorHandler) {
	if len(body) < 4 {
		return
	}
	// sequenceId at body[0:4] is ignored.
	nested := body[4:]

	if compressed {
		decompressed, err := Decompress(nested)
		if err != nil {
			if onError != nil {
				onError(fmt.Errorf("frame: decompress frameDown payload: %w", err))
			}
			return
		}
		nested = decompressed
	}

	// Recurse into the nested packet as its own outer-packet stream. A
	// protocol error here aborts only this nested message, not the
	// caller's flow.
	_, _ = DemuxWithErrorHandler(nested, onContainer, onError)
}

// Decompress runs bounded zstd decompression (1 MiB), tolerating
// streaming-framed inputs.
func Decompress(payload []byte) ([]byte, error) {
	dec, err := zstd.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	out := make([]byte, 0, len(payload)*2)
	buf := make([]byte, 32*1024)
	for {
		n, err := dec.Read(buf)
		if n > 0 {
			out = append(out, buf[:n]...)
			if len(out) > maxDecompressedSize {
				return nil, fmt.Errorf("frame: decompressed output exceeds %d bytes", maxDecompressedSize)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		if n == 0 {
			break
		}
	}
	return out, nil
}
