package uwuwind

import (
	"debug/elf"
	"fmt"
	"os"
	"sort"

	"github.com/edsrzf/mmap-go"
	"github.com/mitchellh/osext"
)

// LoadedObject is what the Object Locator returns for a covered address:
// the owning mapping's bounds plus everything downstream parsing needs
// to read its .eh_frame/.eh_frame_hdr. Real dynamic linkers only hand
// back {map_start, map_end, eh_frame}; lacking `_dl_find_object`, this
// also carries the already-resolved section byte views and bases,
// derived from the ELF image itself.
type LoadedObject struct {
	MapStart Address
	MapEnd   Address

	EhFrameHdr      Address
	EhFrameHdrBytes []byte

	EhFrameBytes []byte

	TextBase *Address
	DataBase *Address

	Path string
}

// Locator resolves an instruction address to its owning loaded object.
// A nil, nil return means "not found", which is not fatal — callers may
// fall back.
type Locator interface {
	Locate(addr Address) (*LoadedObject, error)
}

// objectImage is a parsed, mmapped ELF file kept alive for the lifetime
// of the locator that owns it; its elf.File (symbol lookups included)
// reads through that mapping. The .eh_frame and .eh_frame_hdr bytes are
// copied out of the mapping by debug/elf's Section.Data when the image
// is loaded, so they are owned buffers, not views into the mapping.
type objectImage struct {
	path            string
	file            *elf.File
	mapping         mmap.MMap
	loadBias        int64
	textStart       *Address
	dataStart       *Address
	ehFrameHdr      *Address
	ehFrameHdrBytes []byte
	ehFrameBytes    []byte
}

func loadImage(path string, mapStart Address) (*objectImage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("mmapping %s: %w", path, err)
	}

	ef, err := elf.NewFile(&sliceReaderAt{m})
	if err != nil {
		m.Unmap()
		return nil, fmt.Errorf("parsing ELF headers of %s: %w", path, err)
	}

	img := &objectImage{path: path, file: ef, mapping: m}
	img.loadBias = computeLoadBias(ef, mapStart)

	if sec := ef.Section(".eh_frame_hdr"); sec != nil {
		b, err := sec.Data()
		if err != nil {
			return nil, fmt.Errorf("reading .eh_frame_hdr of %s: %w", path, err)
		}
		addr := Address(sec.Addr).Add(img.loadBias)
		img.ehFrameHdr = &addr
		img.ehFrameHdrBytes = b
	}
	if sec := ef.Section(".eh_frame"); sec != nil {
		b, err := sec.Data()
		if err != nil {
			return nil, fmt.Errorf("reading .eh_frame of %s: %w", path, err)
		}
		img.ehFrameBytes = b
	}
	if sec := ef.Section(".text"); sec != nil {
		addr := Address(sec.Addr).Add(img.loadBias)
		img.textStart = &addr
	}
	if sec := ef.Section(".got.plt"); sec != nil {
		addr := Address(sec.Addr).Add(img.loadBias)
		img.dataStart = &addr
	} else if sec := ef.Section(".got"); sec != nil {
		addr := Address(sec.Addr).Add(img.loadBias)
		img.dataStart = &addr
	}

	return img, nil
}

// computeLoadBias derives the runtime offset between an ELF file's
// link-time virtual addresses and where it actually ended up mapped, by
// comparing the lowest PT_LOAD segment's vaddr to the mapping's start.
// This is the pure-Go stand-in for what the dynamic linker already knows
// and glibc's _dl_find_object would hand back directly.
func computeLoadBias(ef *elf.File, mapStart Address) int64 {
	lowest := ^uint64(0)
	for _, prog := range ef.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		if prog.Vaddr < lowest {
			lowest = prog.Vaddr
		}
	}
	if lowest == ^uint64(0) {
		return 0
	}
	return mapStart.Sub(Address(lowest))
}

// sliceReaderAt adapts an mmap.MMap ([]byte) to io.ReaderAt, since
// debug/elf.NewFile wants a ReaderAt and the mapped bytes already are
// the whole file.
type sliceReaderAt struct {
	b []byte
}

func (s *sliceReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(s.b)) {
		return 0, fmt.Errorf("offset %d out of range for %d-byte image", off, len(s.b))
	}
	n := copy(p, s.b[off:])
	if n < len(p) {
		return n, fmt.Errorf("short read at offset %d: got %d of %d bytes", off, n, len(p))
	}
	return n, nil
}

// ProcMapsLocator implements Locator by reading /proc/<pid>/maps to find
// the mapping covering an address, then lazily mmapping and ELF-parsing
// the backing file the first time that mapping is queried. Pure Go has
// no portable binding to _dl_find_object without cgo, so this walks
// /proc/<pid>/maps instead.
type ProcMapsLocator struct {
	pid    int
	images map[string]*objectImage

	// selfExe is the running executable's path as resolved at
	// construction time, set only by NewSelfLocator. Locate uses it to
	// recognize the main executable's mapping and open that image
	// through /proc/self/exe instead of the maps pathname, which goes
	// stale when the binary is deleted or replaced on disk after exec.
	selfExe string
}

// NewProcMapsLocator builds a locator over /proc/<pid>/maps. Use
// NewSelfLocator for the common case of unwinding the current process.
func NewProcMapsLocator(pid int) *ProcMapsLocator {
	return &ProcMapsLocator{pid: pid, images: make(map[string]*objectImage)}
}

// NewSelfLocator builds a locator over the current process. The
// executable's own path is resolved via osext up front so Locate can
// tell which mapping is the main binary; see ProcMapsLocator.selfExe.
func NewSelfLocator() (*ProcMapsLocator, error) {
	exe, err := osext.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolving self executable path: %w", err)
	}
	l := NewProcMapsLocator(os.Getpid())
	l.selfExe = exe
	return l, nil
}

// Locate implements Locator.
func (l *ProcMapsLocator) Locate(addr Address) (*LoadedObject, error) {
	maps, err := readProcMaps(l.pid)
	if err != nil {
		return nil, fmt.Errorf("reading maps for pid %d: %w", l.pid, err)
	}

	sort.Slice(maps, func(i, j int) bool { return maps[i].start < maps[j].start })

	for _, m := range maps {
		if !m.executable || m.path == "" {
			continue
		}
		start, end := Address(m.start), Address(m.end)
		if !(start <= addr && addr < end) {
			continue
		}

		img, ok := l.images[m.path]
		if !ok {
			imgPath := m.path
			if imgPath == l.selfExe {
				// The mapped image outlives the file on disk; the
				// /proc/self/exe link reaches it even after the binary
				// is deleted or replaced.
				imgPath = "/proc/self/exe"
			}
			img, err = loadImage(imgPath, start)
			if err != nil {
				// A mapping we can't parse (e.g. not a regular ELF file,
				// vdso) is not a locator failure; it simply has no unwind
				// info to offer.
				l.images[m.path] = nil
				continue
			}
			l.images[m.path] = img
		}
		if img == nil || img.ehFrameHdr == nil {
			continue
		}

		return &LoadedObject{
			MapStart:        start,
			MapEnd:          end,
			EhFrameHdr:      *img.ehFrameHdr,
			EhFrameHdrBytes: img.ehFrameHdrBytes,
			EhFrameBytes:    img.ehFrameBytes,
			TextBase:        img.textStart,
			DataBase:        img.dataStart,
			Path:            m.path,
		}, nil
	}

	return nil, nil
}

// Symbolicate resolves the name of the symbol owning addr in the object
// mapped at path, using the already-parsed ELF symbol table.
// cmd/ehframedump uses it to annotate dumped rows with a function name;
// dladdr's job is easy to approximate once an objectImage is already in
// hand.
func (l *ProcMapsLocator) Symbolicate(path string, addr Address) (string, bool) {
	img, ok := l.images[path]
	if !ok || img == nil {
		return "", false
	}
	syms, err := img.file.Symbols()
	if err != nil {
		return "", false
	}
	target := uint64(addr.Add(-img.loadBias))
	for _, sym := range syms {
		if elf.ST_TYPE(sym.Info) != elf.STT_FUNC {
			continue
		}
		if sym.Value <= target && target < sym.Value+sym.Size {
			return sym.Name, true
		}
	}
	return "", false
}
