package command

import (
	"encoding/binary"
	"testing"

	cerrors "github.com/amigadave/kdbus/errors"
)

// buildFrame assembles a make-bus frame from a header and a list of
// pre-built, already-padded items.
func buildFrame(flags, bloomSize uint64, items ...[]byte) []byte {
	body := []byte{}
	for _, it := range items {
		body = append(body, it...)
	}
	size := uint64(headerSize) + uint64(len(body))

	buf := make([]byte, size)
	binary.LittleEndian.PutUint64(buf[0:8], size)
	binary.LittleEndian.PutUint64(buf[8:16], flags)
	binary.LittleEndian.PutUint64(buf[16:24], bloomSize)
	copy(buf[headerSize:], body)
	return buf
}

func nameItem(name string) []byte {
	payload := append([]byte(name), 0)
	itemSize := uint64(itemHeaderSize) + uint64(len(payload))
	padded := (itemSize + 7) &^ 7
	item := make([]byte, padded)
	binary.LittleEndian.PutUint64(item[0:8], itemSize)
	binary.LittleEndian.PutUint64(item[8:16], itemMakeName)
	copy(item[16:], payload)
	return item
}

func cgroupItem(id uint64) []byte {
	item := make([]byte, itemHeaderSize+8)
	binary.LittleEndian.PutUint64(item[0:8], itemHeaderSize+8)
	binary.LittleEndian.PutUint64(item[8:16], itemMakeCgroup)
	binary.LittleEndian.PutUint64(item[16:24], id)
	return item
}

func unknownItem() []byte {
	item := make([]byte, itemHeaderSize+8)
	binary.LittleEndian.PutUint64(item[0:8], itemHeaderSize+8)
	binary.LittleEndian.PutUint64(item[8:16], 999)
	return item
}

func TestParseMakeBus_HappyPath(t *testing.T) {
	frame := buildFrame(0, 64, nameItem("1000-test"))

	req, err := ParseMakeBus(frame)
	if err != nil {
		t.Fatalf("ParseMakeBus failed: %v", err)
	}
	if req.Name != "1000-test" {
		t.Errorf("Name = %q, want %q", req.Name, "1000-test")
	}
	if req.BloomSize != 64 {
		t.Errorf("BloomSize = %d, want 64", req.BloomSize)
	}
}

func TestParseMakeBus_WithCgroup(t *testing.T) {
	frame := buildFrame(0, 64, nameItem("1000-test"), cgroupItem(7))

	req, err := ParseMakeBus(frame)
	if err != nil {
		t.Fatalf("ParseMakeBus failed: %v", err)
	}
	if !req.HasCgroup || req.CgroupID != 7 {
		t.Errorf("CgroupID = %d, HasCgroup = %v, want 7 true", req.CgroupID, req.HasCgroup)
	}
}

func TestParseMakeBus_BloomTooSmall(t *testing.T) {
	frame := buildFrame(0, 4, nameItem("1000-test"))

	_, err := ParseMakeBus(frame)
	if !cerrors.Is(err, cerrors.ErrBloomSize) {
		t.Errorf("expected ErrBloomSize, got %v", err)
	}
}

func TestParseMakeBus_DuplicateName(t *testing.T) {
	frame := buildFrame(0, 64, nameItem("1000-a"), nameItem("1000-b"))

	_, err := ParseMakeBus(frame)
	if !cerrors.Is(err, cerrors.ErrNameItemDuplicate) {
		t.Errorf("expected ErrNameItemDuplicate, got %v", err)
	}
}

func TestParseMakeBus_DuplicateCgroup(t *testing.T) {
	frame := buildFrame(0, 64, nameItem("1000-a"), cgroupItem(1), cgroupItem(2))

	_, err := ParseMakeBus(frame)
	if !cerrors.Is(err, cerrors.ErrCgroupItemDuplicate) {
		t.Errorf("expected ErrCgroupItemDuplicate, got %v", err)
	}
}

func TestParseMakeBus_UnsupportedItem(t *testing.T) {
	frame := buildFrame(0, 64, nameItem("1000-test"), unknownItem())

	_, err := ParseMakeBus(frame)
	if !cerrors.Is(err, cerrors.ErrItemUnsupported) {
		t.Errorf("expected ErrItemUnsupported, got %v", err)
	}
}

func TestParseMakeBus_NoNameSupplied(t *testing.T) {
	frame := buildFrame(0, 64, cgroupItem(1))

	_, err := ParseMakeBus(frame)
	if !cerrors.Is(err, cerrors.ErrNameMissing) {
		t.Errorf("expected ErrNameMissing, got %v", err)
	}
}

func TestParseMakeBus_NameTooShort(t *testing.T) {
	item := make([]byte, itemHeaderSize+1)
	binary.LittleEndian.PutUint64(item[0:8], itemHeaderSize+1)
	binary.LittleEndian.PutUint64(item[8:16], itemMakeName)
	frame := buildFrame(0, 64, item)

	_, err := ParseMakeBus(frame)
	if !cerrors.Is(err, cerrors.ErrNameTooShort) {
		t.Errorf("expected ErrNameTooShort, got %v", err)
	}
}

func TestParseMakeBus_NameTooLong(t *testing.T) {
	longName := make([]byte, 100)
	for i := range longName {
		longName[i] = 'a'
	}
	frame := buildFrame(0, 64, nameItem(string(longName)))

	_, err := ParseMakeBus(frame)
	if !cerrors.Is(err, cerrors.ErrBusNameTooLong) {
		t.Errorf("expected ErrBusNameTooLong, got %v", err)
	}
}

func TestParseMakeBus_EmptyItem(t *testing.T) {
	item := make([]byte, itemHeaderSize)
	binary.LittleEndian.PutUint64(item[0:8], itemHeaderSize)
	binary.LittleEndian.PutUint64(item[8:16], itemMakeName)
	frame := buildFrame(0, 64, item)

	_, err := ParseMakeBus(frame)
	if !cerrors.Is(err, cerrors.ErrItemEmpty) {
		t.Errorf("expected ErrItemEmpty, got %v", err)
	}
}

func TestParseMakeBus_TooSmallFrame(t *testing.T) {
	_, err := ParseMakeBus(make([]byte, 4))
	if !cerrors.Is(err, cerrors.ErrCommandTooSmall) {
		t.Errorf("expected ErrCommandTooSmall, got %v", err)
	}
}

func TestParseMakeBus_TooLargeSize(t *testing.T) {
	buf := make([]byte, headerSize)
	binary.LittleEndian.PutUint64(buf[0:8], 0x10000)

	_, err := ParseMakeBus(buf)
	if !cerrors.Is(err, cerrors.ErrCommandTooLarge) {
		t.Errorf("expected ErrCommandTooLarge, got %v", err)
	}
}
