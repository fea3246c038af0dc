package cmn

import (
	"errors"
	"fmt"
	"io"
	"syscall"
)

// FamErrKind enumerates every failure kind in the spec's error taxonomy.
// Each kind is both a wire value (sent back to clients) and a locally
// raised Go error via FamError.
type FamErrKind int

const (
	ErrUnknown FamErrKind = iota

	// configuration
	ErrInvalidOption

	// resource / lookup
	ErrRegionNotFound
	ErrDataItemNotFound
	ErrRegionNotCreated
	ErrDataItemNotCreated
	ErrRegionNoSpace
	ErrBackupFileExist
	ErrBackupSizeTooLarge

	// authorization
	ErrNoPermission
	ErrRegionPermModifyNotPermitted
	ErrItemPermModifyNotPermitted
	ErrRegionResizeNotPermitted

	// bounds / argument
	ErrOutOfRange

	// RPC plumbing
	ErrRPC
	ErrRPCClientNotFound
	ErrMemservListEmpty
	ErrAllocator

	// data path
	ErrLibfabric
	ErrNoPerm
	ErrResource
	ErrTimeout
)

var kindNames = map[FamErrKind]string{
	ErrUnknown:                      "FAM_ERR_UNKNOWN",
	ErrInvalidOption:                "FAM_ERR_INVALID_OPTION",
	ErrRegionNotFound:               "REGION_NOT_FOUND",
	ErrDataItemNotFound:             "DATAITEM_NOT_FOUND",
	ErrRegionNotCreated:             "REGION_NOT_CREATED",
	ErrDataItemNotCreated:           "DATAITEM_NOT_CREATED",
	ErrRegionNoSpace:                "REGION_NO_SPACE",
	ErrBackupFileExist:              "BACKUP_FILE_EXIST",
	ErrBackupSizeTooLarge:           "BACKUP_SIZE_TOO_LARGE",
	ErrNoPermission:                 "NO_PERMISSION",
	ErrRegionPermModifyNotPermitted: "REGION_PERM_MODIFY_NOT_PERMITTED",
	ErrItemPermModifyNotPermitted:   "ITEM_PERM_MODIFY_NOT_PERMITTED",
	ErrRegionResizeNotPermitted:     "REGION_RESIZE_NOT_PERMITTED",
	ErrOutOfRange:                   "OUT_OF_RANGE",
	ErrRPC:                          "FAM_ERR_RPC",
	ErrRPCClientNotFound:            "FAM_ERR_RPC_CLIENT_NOTFOUND",
	ErrMemservListEmpty:             "FAM_ERR_MEMSERV_LIST_EMPTY",
	ErrAllocator:                    "FAM_ERR_ALLOCATOR",
	ErrLibfabric:                    "FAM_ERR_LIBFABRIC",
	ErrNoPerm:                       "FAM_ERR_NOPERM",
	ErrResource:                     "FAM_ERR_RESOURCE",
	ErrTimeout:                      "FAM_ERR_TIMEOUT",
}

func (k FamErrKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "FAM_ERR_UNKNOWN"
}

// FamError is the one error type every FAM layer raises and propagates.
// The layer that can take compensating action is expected to type-assert
// on Kind; everything else just surfaces it to the client unmodified.
type FamError struct {
	Kind  FamErrKind
	Msg   string
	Cause error
}

func (e *FamError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *FamError) Unwrap() error { return e.Cause }

func NewFamError(kind FamErrKind, msg string) *FamError {
	return &FamError{Kind: kind, Msg: msg}
}

func WrapFamError(kind FamErrKind, msg string, cause error) *FamError {
	return &FamError{Kind: kind, Msg: msg, Cause: cause}
}

// KindOf extracts the FamErrKind carried by err, or ErrUnknown if err is
// not (or does not wrap) a *FamError.
func KindOf(err error) FamErrKind {
	var fe *FamError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ErrUnknown
}

// Named constructors for the most frequently raised kinds; every other
// kind is built with NewFamError/WrapFamError, so call sites never
// hand-roll fmt.Errorf for a spec'd failure.

func ErrRegionNotFoundf(name string) error {
	return NewFamError(ErrRegionNotFound, fmt.Sprintf("region %q not found", name))
}
func ErrDataItemNotFoundf(name string) error {
	return NewFamError(ErrDataItemNotFound, fmt.Sprintf("dataitem %q not found", name))
}
func ErrRegionNoSpacef(memserverID uint64) error {
	return NewFamError(ErrRegionNoSpace, fmt.Sprintf("memory server %d has no space", memserverID))
}
func ErrNoPermissionf(uid, gid uint32) error {
	return NewFamError(ErrNoPermission, fmt.Sprintf("uid=%d gid=%d has no permission", uid, gid))
}
func ErrOutOfRangef(offset, size int64) error {
	return NewFamError(ErrOutOfRange, fmt.Sprintf("offset %d size %d out of range", offset, size))
}
func ErrBackupExistsf(name string) error {
	return NewFamError(ErrBackupFileExist, fmt.Sprintf("backup %q already exists", name))
}
func ErrBackupSizeTooLargef(name string, destSize, backupSize int64) error {
	return NewFamError(ErrBackupSizeTooLarge, fmt.Sprintf("restore %q: destination size %d < backup size %d", name, destSize, backupSize))
}

// MultiPeerError implements the §7 multi-peer policy: exactly one failing
// peer re-raises that peer's kind/message; two or more collapse into a
// single FAM_ERR_RESOURCE summary. Best-effort cleanup failures are
// counted but never override the original error.
func MultiPeerError(peerErrs map[uint64]error) error {
	if len(peerErrs) == 0 {
		return nil
	}
	if len(peerErrs) == 1 {
		for _, err := range peerErrs {
			return err
		}
	}
	msg := fmt.Sprintf("%d of %d peers failed:", len(peerErrs), len(peerErrs))
	for id, err := range peerErrs {
		msg += fmt.Sprintf(" [ms=%d: %v]", id, err)
	}
	return NewFamError(ErrResource, msg)
}

// IsIOError reports whether err reflects an I/O condition severe enough to
// warrant marking the backing store unhealthy. No package in this module
// calls it.
func IsIOError(err error) bool {
	if err == nil {
		return false
	}
	ioErrs := []error{
		io.ErrShortWrite,
		syscall.EIO,
		syscall.ENOTDIR,
		syscall.EBUSY,
		syscall.ENXIO,
		syscall.EBADF,
		syscall.ENODEV,
		syscall.EROFS,
		syscall.ENOSPC,
		syscall.ESTALE,
	}
	for _, ioErr := range ioErrs {
		if errors.Is(err, ioErr) {
			return true
		}
	}
	return false
}
