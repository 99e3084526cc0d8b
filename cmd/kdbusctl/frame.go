package main

import "encoding/binary"

// buildMakeBusFrame encodes a make-bus TLV command frame for the given
// name, flags and bloom size, with an optional cgroup item, matching the
// wire layout internal/command.ParseMakeBus expects.
func buildMakeBusFrame(name string, flags, bloomSize uint64, cgroupID uint64, withCgroup bool) []byte {
	items := appendNameItem(nil, name)
	if withCgroup {
		items = appendCgroupItem(items, cgroupID)
	}

	size := uint64(24) + uint64(len(items))
	buf := make([]byte, size)
	binary.LittleEndian.PutUint64(buf[0:8], size)
	binary.LittleEndian.PutUint64(buf[8:16], flags)
	binary.LittleEndian.PutUint64(buf[16:24], bloomSize)
	copy(buf[24:], items)
	return buf
}

func appendNameItem(buf []byte, name string) []byte {
	payload := append([]byte(name), 0)
	itemSize := uint64(16) + uint64(len(payload))
	padded := (itemSize + 7) &^ 7

	item := make([]byte, padded)
	binary.LittleEndian.PutUint64(item[0:8], itemSize)
	binary.LittleEndian.PutUint64(item[8:16], 1) // MAKE_NAME
	copy(item[16:], payload)
	return append(buf, item...)
}

func appendCgroupItem(buf []byte, cgroupID uint64) []byte {
	itemSize := uint64(16 + 8)
	item := make([]byte, itemSize) // already 8-byte aligned
	binary.LittleEndian.PutUint64(item[0:8], itemSize)
	binary.LittleEndian.PutUint64(item[8:16], 2) // MAKE_CGROUP
	binary.LittleEndian.PutUint64(item[16:24], cgroupID)
	return append(buf, item...)
}
