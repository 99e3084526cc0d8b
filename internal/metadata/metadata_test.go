package metadata

import (
	"bytes"
	"testing"

	"github.com/amigadave/kdbus/internal/connection"
)

func TestNew_CapturesNamespaceIdentity(t *testing.T) {
	m, err := New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if m.pidNS == (nsIdentity{}) {
		t.Error("pidNS should be populated")
	}
	if m.userNS == (nsIdentity{}) {
		t.Error("userNS should be populated")
	}
}

func TestNSEqual(t *testing.T) {
	a, err := New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	b, err := New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if !a.NSEqual(b) {
		t.Error("two metadata objects captured in the same process should share namespace identity")
	}

	b.pidNS.ino++
	if a.NSEqual(b) {
		t.Error("NSEqual should be false once namespace identity differs")
	}
}

func TestAppend_Idempotent(t *testing.T) {
	conn := connection.New(1, 0)
	conn.SetName("test-conn")

	m1, _ := New()
	if err := m1.Append(conn, 42, AttachCreds|AttachComm); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	once := m1.Bytes()

	m2, _ := New()
	if err := m2.Append(conn, 42, AttachCreds|AttachComm); err != nil {
		t.Fatalf("first Append failed: %v", err)
	}
	if err := m2.Append(conn, 42, AttachCreds|AttachComm); err != nil {
		t.Fatalf("second Append failed: %v", err)
	}
	twice := m2.Bytes()

	if !bytes.Equal(once, twice) {
		t.Error("Append(CREDS|COMM) twice should produce identical buffer contents to Append once")
	}

	want := AttachCreds | AttachComm
	if m2.Attached()&want != want {
		t.Errorf("Attached() = %b, want both CREDS and COMM bits set", m2.Attached())
	}
}

func TestAppend_NoOpWhenAlreadyAttached(t *testing.T) {
	conn := connection.New(1, 0)

	m, _ := New()
	if err := m.Append(conn, 1, AttachTimestamp); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	first := m.size

	if err := m.Append(conn, 1, AttachTimestamp); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if m.size != first {
		t.Errorf("size grew from %d to %d on a no-op re-append", first, m.size)
	}
}

func TestAppend_ItemsAreEightByteAligned(t *testing.T) {
	conn := connection.New(1, 0)
	conn.SetName("x")

	m, _ := New()
	if err := m.Append(conn, 7, AttachTimestamp|AttachConnName); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	buf := m.Bytes()
	var cursor uint64
	for cursor < uint64(len(buf)) {
		if cursor+itemHeaderSize > uint64(len(buf)) {
			t.Fatalf("truncated item header at offset %d", cursor)
		}
		size := uint64(buf[cursor]) | uint64(buf[cursor+1])<<8 | uint64(buf[cursor+2])<<16 |
			uint64(buf[cursor+3])<<24 | uint64(buf[cursor+4])<<32 | uint64(buf[cursor+5])<<40 |
			uint64(buf[cursor+6])<<48 | uint64(buf[cursor+7])<<56
		if size < itemHeaderSize {
			t.Fatalf("item size %d smaller than header", size)
		}
		cursor += alignUp8(size)
	}
	if cursor != uint64(len(buf)) {
		t.Errorf("cursor ended at %d, want %d", cursor, len(buf))
	}
}

func TestNames_RequiresConnection(t *testing.T) {
	m, _ := New()
	if err := m.Append(nil, 1, AttachNames); err != nil {
		t.Fatalf("Append with nil conn should not error, got %v", err)
	}
	if len(m.Bytes()) != 0 {
		t.Error("AttachNames with no connection should append nothing")
	}
}

func TestGrowthPolicy_RoundupPow2(t *testing.T) {
	tests := []struct {
		in, want uint64
	}{
		{0, 1},
		{1, 1},
		{2, 2},
		{3, 4},
		{256, 256},
		{257, 512},
		{300, 512},
	}
	for _, tt := range tests {
		if got := roundupPow2(tt.in); got != tt.want {
			t.Errorf("roundupPow2(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
