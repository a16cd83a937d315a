//go:build linux

package uwuwind

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// mapping is one parsed line of /proc/<pid>/maps.
type mapping struct {
	start      uint64
	end        uint64
	executable bool
	offset     uint64
	path       string
}

// readProcMapsRaw reads the entirety of /proc/<pid>/maps through raw
// unix.Open/unix.Read syscalls rather than os.Open+bufio.Scanner: the
// dynamic-linker lookup this locator stands in for is expected to be
// async-signal-safe, and a raw read loop with no Go-runtime
// file-descriptor poller or scanner allocations in the path is closer
// to that property than the stdlib os/bufio combination would be.
// /proc files report size 0 from fstat, so this reads in a growing loop
// until EOF rather than pre-sizing a buffer.
func readProcMapsRaw(path string) ([]byte, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer unix.Close(fd)

	var out []byte
	chunk := make([]byte, 64*1024)
	for {
		n, err := unix.Read(fd, chunk)
		if n > 0 {
			out = append(out, chunk[:n]...)
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		if n == 0 {
			return out, nil
		}
	}
}

// readProcMaps parses /proc/<pid>/maps. Format, per proc(5):
//
//	address           perms offset  dev   inode      pathname
//	00400000-00452000 r-xp 00000000 08:02 173521      /usr/bin/cat
func readProcMaps(pid int) ([]mapping, error) {
	path := fmt.Sprintf("/proc/%d/maps", pid)
	raw, err := readProcMapsRaw(path)
	if err != nil {
		return nil, err
	}
	return parseProcMaps(raw), nil
}

// parseProcMaps decodes raw maps content line by line, skipping anything
// that doesn't parse rather than failing: the kernel can append fields in
// future formats and anonymous mappings legitimately have no pathname.
func parseProcMaps(raw []byte) []mapping {
	var out []mapping
	for _, line := range strings.Split(string(raw), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 5 {
			continue
		}

		addrRange := strings.SplitN(fields[0], "-", 2)
		if len(addrRange) != 2 {
			continue
		}
		start, err := strconv.ParseUint(addrRange[0], 16, 64)
		if err != nil {
			continue
		}
		end, err := strconv.ParseUint(addrRange[1], 16, 64)
		if err != nil {
			continue
		}

		perms := fields[1]
		offset, _ := strconv.ParseUint(fields[2], 16, 64)

		m := mapping{
			start:      start,
			end:        end,
			executable: strings.Contains(perms, "x"),
			offset:     offset,
		}
		if len(fields) >= 6 {
			m.path = fields[5]
		}
		out = append(out, m)
	}
	return out
}
