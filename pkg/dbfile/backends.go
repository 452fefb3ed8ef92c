package dbfile

import "fmt"

// Backends is the set of primitives a [Handle] drives.
type Backends struct {
	Lock     LockBackend
	Sync     SyncBackend
	Truncate TruncateBackend
	Link     LinkBackend
}

// Selection names the strategy to use per concern. The zero value selects
// automatically from the capability profile.
type Selection struct {
	Lock     LockStrategy
	Sync     SyncStrategy
	Truncate TruncateStrategy
}

// SelectBackends chooses backends for caps.
//
// Automatic lock selection prefers mandatory locking, then whole-file, then
// byte-range. An explicit strategy the profile does not offer (or that is
// not compiled in for this platform) fails with [ErrStrategyUnsupported].
// Sync and truncate fall back to the global flush and seek-to-EOF variants
// when the native primitive is missing; forcing native without support is
// an error.
func SelectBackends(caps Capabilities, sel Selection) (Backends, error) {
	var b Backends

	lock, err := selectLock(caps, sel.Lock)
	if err != nil {
		return Backends{}, err
	}

	b.Lock = lock

	switch sel.Sync {
	case SyncAuto:
		if caps.NativeSync {
			b.Sync = NativeSync()
		} else {
			b.Sync = NewGlobalFlushSync(globalFlush)
		}
	case SyncNative:
		if !caps.NativeSync {
			return Backends{}, fmt.Errorf("%w: sync %s", ErrStrategyUnsupported, sel.Sync)
		}

		b.Sync = NativeSync()
	case SyncGlobalFlush:
		b.Sync = NewGlobalFlushSync(globalFlush)
	default:
		return Backends{}, fmt.Errorf("%w: sync %s", ErrStrategyUnsupported, sel.Sync)
	}

	switch sel.Truncate {
	case TruncateAuto:
		if caps.NativeTruncate {
			b.Truncate = NativeTruncate()
		} else {
			b.Truncate = SeekEOFTruncate()
		}
	case TruncateNative:
		if !caps.NativeTruncate {
			return Backends{}, fmt.Errorf("%w: truncate %s", ErrStrategyUnsupported, sel.Truncate)
		}

		b.Truncate = NativeTruncate()
	case TruncateSeekEOF:
		b.Truncate = SeekEOFTruncate()
	default:
		return Backends{}, fmt.Errorf("%w: truncate %s", ErrStrategyUnsupported, sel.Truncate)
	}

	if caps.HardLink {
		b.Link = NativeLink()
	} else {
		b.Link = UnsupportedLink()
	}

	return b, nil
}

func selectLock(caps Capabilities, want LockStrategy) (LockBackend, error) {
	offered := map[LockStrategy]bool{
		LockMandatory: caps.MandatoryLock,
		LockWholeFile: caps.WholeFileLock,
		LockByteRange: caps.ByteRangeLock,
	}

	if want == LockAuto {
		for _, s := range []LockStrategy{LockMandatory, LockWholeFile, LockByteRange} {
			if offered[s] {
				want = s

				break
			}
		}

		if want == LockAuto {
			return nil, fmt.Errorf("%w: no lock primitive available (%s)", ErrStrategyUnsupported, caps)
		}
	}

	if !offered[want] {
		return nil, fmt.Errorf("%w: lock %s (%s)", ErrStrategyUnsupported, want, caps)
	}

	backend := lockBackendFor(want)
	if backend == nil {
		return nil, fmt.Errorf("%w: lock %s not available on this platform", ErrStrategyUnsupported, want)
	}

	return backend, nil
}
