package frame

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/klauspost/compress/zstd"
)

// buildOuterPacket wraps typeTag+innerBody in the 4-byte big-endian size
// prefix that includes itself.
func buildOuterPacket(typeTag uint16, innerBody []byte) []byte {
	body := make([]byte, 2+len(innerBody))
	binary.BigEndian.PutUint16(body[0:2], typeTag)
	copy(body[2:], innerBody)

	size := 4 + len(body)
	out := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(out[0:4], uint32(size))
	copy(out[4:], body)
	return out
}

func buildNotifyBody(serviceUUID uint64, stubID, methodID uint32, payload []byte) []byte {
	body := make([]byte, 16+len(payload))
	binary.BigEndian.PutUint64(body[0:8], serviceUUID)
	binary.BigEndian.PutUint32(body[8:12], stubID)
	binary.BigEndian.PutUint32(body[12:16], methodID)
	copy(body[16:], payload)
	return body
}

func buildFrameDownBody(sequenceID uint32, nestedPacket []byte) []byte {
	body := make([]byte, 4+len(nestedPacket))
	binary.BigEndian.PutUint32(body[0:4], sequenceID)
	copy(body[4:], nestedPacket)
	return body
}

func TestDemuxHappyPathNotifyMethod21(t *testing.T) {
	payload := []byte("container-payload")
	notify := buildNotifyBody(GameServiceUUID, 0, SyncContainerMethodID, payload)
	packet := buildOuterPacket(kindNotify, notify)

	var got []byte
	unconsumed, err := Demux(packet, func(p []byte) { got = append([]byte(nil), p...) })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if unconsumed != 0 {
		t.Errorf("expected fully consumed, got %d unconsumed bytes", unconsumed)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("got payload %q, want %q", got, payload)
	}
}

func TestDemuxIgnoresWrongServiceUUID(t *testing.T) {
	notify := buildNotifyBody(0xDEADBEEF, 0, SyncContainerMethodID, []byte("x"))
	packet := buildOuterPacket(kindNotify, notify)

	called := false
	_, err := Demux(packet, func(p []byte) { called = true })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called {
		t.Error("expected container handler not to be called for mismatched service uuid")
	}
}

func TestDemuxIgnoresWrongMethodID(t *testing.T) {
	notify := buildNotifyBody(GameServiceUUID, 0, 99, []byte("x"))
	packet := buildOuterPacket(kindNotify, notify)

	called := false
	_, err := Demux(packet, func(p []byte) { called = true })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called {
		t.Error("expected container handler not to be called for non-21 methodId")
	}
}

func TestDemuxSkipsUnknownKind(t *testing.T) {
	packet := buildOuterPacket(99, []byte("whatever"))
	called := false
	unconsumed, err := Demux(packet, func(p []byte) { called = true })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called {
		t.Error("expected unknown kind to be silently skipped")
	}
	if unconsumed != 0 {
		t.Errorf("expected consumed, got %d unconsumed", unconsumed)
	}
}

func TestDemuxLeavesTrailingPartialPacket(t *testing.T) {
	notify := buildNotifyBody(GameServiceUUID, 0, SyncContainerMethodID, []byte("payload"))
	full := buildOuterPacket(kindNotify, notify)
	partial := append(append([]byte(nil), full...), 0x00, 0x00, 0x00) // 3 stray bytes of a next size

	unconsumed, err := Demux(partial, func(p []byte) {})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if unconsumed != 3 {
		t.Errorf("expected 3 trailing bytes unconsumed, got %d", unconsumed)
	}
}

func TestDemuxInvalidSizeReturnsProtocolError(t *testing.T) {
	size := MaxOuterPacketSize + 1
	buf := make([]byte, size) // buffer fully present, so size is checked against the max, not treated as "need more bytes"
	binary.BigEndian.PutUint32(buf[0:4], uint32(size))
	_, err := Demux(buf, func(p []byte) {})
	if err != ErrProtocol {
		t.Errorf("expected ErrProtocol, got %v", err)
	}
}

func TestDemuxTooSmallSizeReturnsProtocolError(t *testing.T) {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, 4) // below MinOuterPacketSize (6)
	_, err := Demux(buf, func(p []byte) {})
	if err != ErrProtocol {
		t.Errorf("expected ErrProtocol, got %v", err)
	}
}

func zstdCompress(t *testing.T, data []byte) []byte {
	t.Helper()
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatalf("zstd.NewWriter: %v", err)
	}
	return enc.EncodeAll(data, nil)
}

func TestDemuxCompressedNotify(t *testing.T) {
	payload := []byte("structured-container-bytes-0123456789")
	compressedPayload := zstdCompress(t, payload)
	notify := buildNotifyBody(GameServiceUUID, 0, SyncContainerMethodID, compressedPayload)
	packet := buildOuterPacket(kindNotify|compressedBit, notify)

	var got []byte
	_, err := Demux(packet, func(p []byte) { got = append([]byte(nil), p...) })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("got %q, want %q", got, payload)
	}
}

func TestDemuxCorruptCompressedNotifyDropsMessageNotCrash(t *testing.T) {
	notify := buildNotifyBody(GameServiceUUID, 0, SyncContainerMethodID, []byte("not-zstd-at-all"))
	packet := buildOuterPacket(kindNotify|compressedBit, notify)

	called := false
	_, err := Demux(packet, func(p []byte) { called = true })
	if err != nil {
		t.Fatalf("expected no error even on bad compressed payload, got %v", err)
	}
	if called {
		t.Error("expected corrupt compressed payload to be dropped, not delivered")
	}
}

func TestDemuxWithErrorHandlerReportsDecompressionFailure(t *testing.T) {
	notify := buildNotifyBody(GameServiceUUID, 0, SyncContainerMethodID, []byte("not-zstd-at-all"))
	packet := buildOuterPacket(kindNotify|compressedBit, notify)

	var gotErr error
	var called bool
	_, err := DemuxWithErrorHandler(packet,
		func(p []byte) { called = true },
		func(e error) { gotErr = e },
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called {
		t.Error("expected corrupt compressed payload to be dropped, not delivered")
	}
	if gotErr == nil {
		t.Fatal("expected the error handler to be invoked")
	}
}

func TestDemuxWithNilErrorHandlerStillDropsMessage(t *testing.T) {
	notify := buildNotifyBody(GameServiceUUID, 0, SyncContainerMethodID, []byte("not-zstd-at-all"))
	packet := buildOuterPacket(kindNotify|compressedBit, notify)

	called := false
	_, err := DemuxWithErrorHandler(packet, func(p []byte) { called = true }, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called {
		t.Error("expected corrupt compressed payload to be dropped, not delivered")
	}
}

func TestDemuxNestedFrameDown(t *testing.T) {
	// Inner: a Notify carrying methodId=21 inside a nested outer packet.
	innerPayload := []byte("nested-container-payload")
	innerNotify := buildNotifyBody(GameServiceUUID, 0, SyncContainerMethodID, innerPayload)
	innerPacket := buildOuterPacket(kindNotify, innerNotify)

	frameDownBody := buildFrameDownBody(7, innerPacket)
	outer := buildOuterPacket(kindFrameDown, frameDownBody)

	var got []byte
	_, err := Demux(outer, func(p []byte) { got = append([]byte(nil), p...) })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(got, innerPayload) {
		t.Errorf("got %q, want %q", got, innerPayload)
	}
}

func TestDemuxCompressedFrameDown(t *testing.T) {
	innerPayload := []byte("compressed-nested-container-payload")
	innerNotify := buildNotifyBody(GameServiceUUID, 0, SyncContainerMethodID, innerPayload)
	innerPacket := buildOuterPacket(kindNotify, innerNotify)
	compressedNested := zstdCompress(t, innerPacket)

	frameDownBody := buildFrameDownBody(7, compressedNested)
	outer := buildOuterPacket(kindFrameDown|compressedBit, frameDownBody)

	var got []byte
	_, err := Demux(outer, func(p []byte) { got = append([]byte(nil), p...) })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(got, innerPayload) {
		t.Errorf("got %q, want %q", got, innerPayload)
	}
}

func TestDemuxMultiplePacketsInOneBuffer(t *testing.T) {
	p1 := buildOuterPacket(kindNotify, buildNotifyBody(GameServiceUUID, 0, SyncContainerMethodID, []byte("first")))
	p2 := buildOuterPacket(kindNotify, buildNotifyBody(GameServiceUUID, 0, SyncContainerMethodID, []byte("second")))
	buf := append(append([]byte(nil), p1...), p2...)

	var got [][]byte
	unconsumed, err := Demux(buf, func(p []byte) { got = append(got, append([]byte(nil), p...)) })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if unconsumed != 0 {
		t.Errorf("expected fully consumed, got %d", unconsumed)
	}
	if len(got) != 2 || string(got[0]) != "first" || string(got[1]) != "second" {
		t.Errorf("got %v, want [first second]", got)
	}
}

func TestDemuxWaitsForMoreBytesOnUndersizedBuffer(t *testing.T) {
	notify := buildNotifyBody(GameServiceUUID, 0, SyncContainerMethodID, []byte("full-payload"))
	full := buildOuterPacket(kindNotify, notify)
	partial := full[:len(full)-5]

	called := false
	unconsumed, err := Demux(partial, func(p []byte) { called = true })
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called {
		t.Error("expected handler not invoked for an incomplete packet")
	}
	if unconsumed != len(partial) {
		t.Errorf("expected entire partial buffer retained, got %d of %d", unconsumed, len(partial))
	}
}
