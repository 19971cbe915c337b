package stackmap

import (
	"errors"
	"fmt"

	"stackmaps/internal/smfmt"
)

var (
	// ErrTruncated reports input that ends inside a field or declared array.
	ErrTruncated = smfmt.ErrTruncated
	// ErrMalformed reports a semantic violation such as a nonzero reserved field.
	ErrMalformed           = errors.New("stackmap: malformed input")
	ErrUnsupportedVersion  = errors.New("stackmap: unsupported version")
	ErrInvalidLocationType = errors.New("stackmap: invalid location type")
)

// VersionError carries the rejected header version.
type VersionError struct {
	Version uint8
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("stackmap: unsupported version %d (want %d)", e.Version, Version)
}

func (e *VersionError) Is(target error) bool { return target == ErrUnsupportedVersion }

// LocationTypeError carries an unrecognized location type byte.
type LocationTypeError struct {
	Value byte
}

func (e *LocationTypeError) Error() string {
	return fmt.Sprintf("stackmap: invalid location type %d", e.Value)
}

func (e *LocationTypeError) Is(target error) bool {
	return target == ErrInvalidLocationType || target == ErrMalformed
}
