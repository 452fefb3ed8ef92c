package dbfile

import (
	"errors"
	iofs "io/fs"
)

// LinkBackend creates hard links. Failures are *[LinkError] values.
type LinkBackend interface {
	Link(existing, newPath string) error
}

// NativeLink returns the backend that uses link(2) / CreateHardLink.
func NativeLink() LinkBackend { return nativeLink{} }

type nativeLink struct{}

func (nativeLink) Link(existing, newPath string) error {
	err := hardLink(existing, newPath)
	if err == nil {
		return nil
	}

	return &LinkError{Kind: classifyLinkErr(err), Old: existing, New: newPath, Err: err}
}

// UnsupportedLink returns the backend for profiles without hard links.
func UnsupportedLink() LinkBackend { return unsupportedLink{} }

type unsupportedLink struct{}

func (unsupportedLink) Link(existing, newPath string) error {
	return &LinkError{Kind: LinkUnsupported, Old: existing, New: newPath, Err: errors.ErrUnsupported}
}

// CreateHardLink gives existing the additional name newPath using the host
// profile. newPath is never overwritten.
func CreateHardLink(existing, newPath string) error {
	if !HostCapabilities().HardLink {
		return UnsupportedLink().Link(existing, newPath)
	}

	return NativeLink().Link(existing, newPath)
}

func classifyLinkErr(err error) LinkErrorKind {
	switch {
	case isCrossDevice(err):
		return LinkCrossDevice
	case errors.Is(err, iofs.ErrExist):
		return LinkAlreadyExists
	case errors.Is(err, iofs.ErrPermission):
		return LinkPermissionDenied
	case errors.Is(err, errors.ErrUnsupported):
		return LinkUnsupported
	default:
		return LinkOther
	}
}
