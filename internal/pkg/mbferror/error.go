package mbferror

import (
	"errors"
)

//nolint:golint,gochecknoglobals // errors.New() is not const
var (
	// ErrUnexpectedSourceContent means a file to be patched did not match the
	// checksum the diff was built against. The installation is corrupt,
	// already modified, or not a legitimate copy.
	ErrUnexpectedSourceContent = errors.New("file content did not match expected checksum")

	ErrDiffNotDownloaded  = errors.New("diff payload not found")
	ErrMalformedPatch     = errors.New("diff payload is not a valid patch")
	ErrPatchOutputDigest  = errors.New("patched output did not match expected digest")
	ErrMalformedContainer = errors.New("malformed zip container")
	ErrMalformedManifest  = errors.New("malformed binary manifest")
	ErrEntryNotFound      = errors.New("entry not found in container")
	ErrContainerFinalized = errors.New("container already signed and finalized")
	ErrUnknownResource    = errors.New("unknown resource name")
	ErrCommandFailed      = errors.New("platform command failed")
	ErrNoSignature        = errors.New("no v2 signature found")
	ErrBadSignature       = errors.New("v2 signature verification failed")
)
