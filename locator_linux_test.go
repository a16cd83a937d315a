//go:build linux

package uwuwind

import "testing"

const sampleMaps = `00400000-00452000 r-xp 00000000 08:02 173521      /usr/bin/cat
00651000-00652000 r--p 00051000 08:02 173521      /usr/bin/cat
00652000-00655000 rw-p 00052000 08:02 173521      /usr/bin/cat
7f3c80000000-7f3c80021000 rw-p 00000000 00:00 0
7f3c871c2000-7f3c87347000 r-xp 00000000 08:02 135522  /usr/lib64/libc-2.17.so
7ffd8a2f1000-7ffd8a312000 rw-p 00000000 00:00 0          [stack]
ffffffffff600000-ffffffffff601000 r-xp 00000000 00:00 0  [vsyscall]
`

func TestParseProcMaps(t *testing.T) {
	maps := parseProcMaps([]byte(sampleMaps))
	if len(maps) != 7 {
		t.Fatalf("parsed %d mappings, want 7", len(maps))
	}

	first := maps[0]
	if first.start != 0x400000 || first.end != 0x452000 {
		t.Errorf("first mapping range = %#x-%#x", first.start, first.end)
	}
	if !first.executable {
		t.Error("r-xp mapping not marked executable")
	}
	if first.path != "/usr/bin/cat" {
		t.Errorf("first mapping path = %q", first.path)
	}

	data := maps[2]
	if data.executable {
		t.Error("rw-p mapping marked executable")
	}
	if data.offset != 0x52000 {
		t.Errorf("third mapping offset = %#x, want 0x52000", data.offset)
	}

	anon := maps[3]
	if anon.path != "" {
		t.Errorf("anonymous mapping has path %q", anon.path)
	}

	libc := maps[4]
	if libc.path != "/usr/lib64/libc-2.17.so" || !libc.executable {
		t.Errorf("libc mapping = %+v", libc)
	}
}

func TestParseProcMapsSkipsGarbage(t *testing.T) {
	maps := parseProcMaps([]byte("not-a-range r-xp 0 0 0 /x\nzz-zz r-xp 0 0 0 /y\n"))
	if len(maps) != 0 {
		t.Fatalf("parsed %d mappings from garbage, want 0", len(maps))
	}
}
