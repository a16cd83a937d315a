package uwuwind

import (
	"fmt"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// Unwinder is the package's top-level lookup API: it orchestrates
// locating the owning object, parsing its header, finding and parsing
// the covering FDE, and interpreting its instruction stream, for
// repeated calls to UnwindRowForPC. It holds no mutable state of its own
// between calls, so concurrent calls are safe exactly when its Locator is;
// ProcMapsLocator caches parsed images in a map without locking and is
// not safe for concurrent use.
type Unwinder struct {
	locator       Locator
	logger        log.Logger
	maxStackDepth int
}

// UnwinderOption configures a new Unwinder.
type UnwinderOption func(*Unwinder)

// WithLogger attaches a logger; traces are emitted at level.Debug only.
// The default is log.NewNopLogger, so the core is silent unless a caller
// opts in.
func WithLogger(logger log.Logger) UnwinderOption {
	return func(u *Unwinder) { u.logger = logger }
}

// WithMaxRuleStackDepth overrides the rule-state stack's bound (default
// maxRuleStackDepth = 64); a depth of zero or less keeps the default.
// cmd/ehframedump sets it from UWUWIND_MAX_RULE_STACK_DEPTH.
func WithMaxRuleStackDepth(depth int) UnwinderOption {
	return func(u *Unwinder) { u.maxStackDepth = depth }
}

// NewUnwinder builds an Unwinder backed by locator.
func NewUnwinder(locator Locator, opts ...UnwinderOption) *Unwinder {
	u := &Unwinder{
		locator:       locator,
		logger:        log.NewNopLogger(),
		maxStackDepth: maxRuleStackDepth,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// UnwindRowForPC resolves the unwinding row covering pc.
// Lookup misses (no owning object, pc outside every FDE) return
// ErrNotFound wrapped with context; callers may treat that as a signal
// to fall back to a different strategy rather than abort. Any other
// error indicates malformed or unsupported DWARF input.
func (u *Unwinder) UnwindRowForPC(pc Address) (*UnwindRow, error) {
	level.Debug(u.logger).Log("msg", "locating object", "pc", pc.String())

	obj, err := u.locator.Locate(pc)
	if err != nil {
		return nil, fmt.Errorf("locating object for pc %s: %w", pc, err)
	}
	if obj == nil {
		return nil, fmt.Errorf("no loaded object covers pc %s: %w", pc, ErrNotFound)
	}

	header, err := ParseEhFrameHeader(obj.EhFrameHdr, obj.EhFrameHdrBytes)
	if err != nil {
		return nil, fmt.Errorf("parsing eh_frame_hdr for pc %s: %w", pc, err)
	}

	fdeAddr, err := header.lookupFDE(pc)
	if err != nil {
		return nil, fmt.Errorf("binary search for pc %s: %w", pc, err)
	}

	sec := NewSection(header.EhFramePtr, obj.EhFrameBytes, obj.TextBase, obj.DataBase)

	fde, err := parseFDE(sec, fdeAddr)
	if err != nil {
		return nil, fmt.Errorf("parsing FDE at %s for pc %s: %w", fdeAddr, pc, err)
	}
	if !fde.Contains(pc) {
		return nil, fmt.Errorf("FDE [%s, %s) found by binary search does not cover pc %s: %w",
			fde.PcBegin, fde.PcBegin.Add(int64(fde.PcRange)), pc, ErrNotFound)
	}

	level.Debug(u.logger).Log("msg", "found FDE", "pc_begin", fde.PcBegin.String(), "pc_range", fde.PcRange)

	row, err := unwindRowForFDE(fde.Cie, fde, pc, u.maxStackDepth)
	if err != nil {
		return nil, fmt.Errorf("interpreting FDE for pc %s: %w", pc, err)
	}

	return row, nil
}
