package image

import (
	"testing"

	"bin2ir/internal/addr"
)

func TestBufferSectionsAndBytes(t *testing.T) {
	b := NewBuffer()
	b.AddSection(".text", 0x1000, []byte{0x90, 0x90, 0xC3}, true)
	b.AddSection(".rodata", 0x2000, []byte{0x01, 0x02}, false)
	b.SetEntryPoint(0x1000)

	if got := len(b.Sections()); got != 2 {
		t.Fatalf("sections = %d, want 2", got)
	}
	text := b.Sections()[0]
	if !text.Executable || !text.Range.Start.Equal(addr.New(0x1000)) {
		t.Errorf("text section wrong: %+v", text)
	}
	ro := b.Sections()[1]
	if ro.Executable || !ro.Readable {
		t.Errorf("rodata section wrong: %+v", ro)
	}

	data, err := b.RawBytesAt(addr.New(0x1001))
	if err != nil {
		t.Fatalf("RawBytesAt: %v", err)
	}
	if len(data) != 2 || data[0] != 0x90 || data[1] != 0xC3 {
		t.Errorf("bytes at 0x1001 = %v", data)
	}

	if _, err := b.RawBytesAt(addr.New(0x5000)); err == nil {
		t.Error("expected error for unmapped address")
	}
	if !b.EntryPoint().Equal(addr.New(0x1000)) {
		t.Errorf("entry = %v", b.EntryPoint())
	}
}
