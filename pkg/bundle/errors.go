package bundle

import "errors"

var (
	ErrInvalidMagic        = errors.New("invalid bundle magic")
	ErrUnsupportedMajor    = errors.New("unsupported bundle major version")
	ErrCorruptBundle       = errors.New("corrupt bundle")
	ErrChecksumMismatch    = errors.New("bundle checksum mismatch")
	ErrCalibrationMismatch = errors.New("calibration constants do not match the model")
	ErrBuildIDMismatch     = errors.New("bundle build id mismatch")
)
