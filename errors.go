package geocore

import (
	"errors"
)

// I/O layer (C1).
var ErrIoShort = errors.New("short read from block cache backing stream")
var ErrIoError = errors.New("I/O error reading byte range")

// HDF5 parser (C2/C3).
var ErrCorrupt = errors.New("corrupt HDF5 structure")
var ErrInflateIncomplete = errors.New("DEFLATE stream did not end cleanly")
var ErrInvalidPath = errors.New("dataset path did not resolve")
var ErrTypeMismatch = errors.New("read-as conversion requested an incompatible value type")
var ErrOutOfRange = errors.New("row range outside dimension 0")
var ErrUnsupportedFill = errors.New("fill value type unsupported beyond 8 bytes")

// Raster source (C4).
var ErrOpenFailed = errors.New("raster open failed")
var ErrTransformFailed = errors.New("coordinate transform failed")
var ErrReadFailed = errors.New("raster read failed")
var ErrOutOfBounds = errors.New("sample request outside raster extent")
var ErrMemoryPoolExhausted = errors.New("raster subset memory pool exhausted")
var ErrWriteFailed = errors.New("raster subset write failed")

// DataFrame transport (C6).
var ErrTimeoutReceivingDataframe = errors.New("timed out waiting for dataframe completion")
var ErrIncompleteFrame = errors.New("dataframe assembled with wrong column count")
var ErrColumnEncodingMismatch = errors.New("column encoding mismatch on append")
var ErrUnknownColumn = errors.New("no column with that name")
var ErrRowCountMismatch = errors.New("row committed without appending to every column")

// Frame-runner scheduler (C7).
var ErrRunnerFailed = errors.New("frame runner stage returned fatal error")
