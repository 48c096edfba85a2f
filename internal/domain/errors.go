package domain

import "errors"

// Path errors - 路徑解析錯誤
var (
	// ErrNoPathSet indicates the target install root is not configured or not valid
	ErrNoPathSet = errors.New("no target path set")

	// ErrBackupsRootMissing indicates the backups root is not configured or does not exist
	ErrBackupsRootMissing = errors.New("backups folder not found")

	// ErrStateFolderMissing indicates the mutable state folder does not exist
	ErrStateFolderMissing = errors.New("state folder not found")
)

// Archive errors - 壓縮檔錯誤
var (
	// ErrEmptyArchive indicates an archive extracted to zero entries
	ErrEmptyArchive = errors.New("archive is empty")

	// ErrExtraction indicates an archive could not be extracted
	ErrExtraction = errors.New("extraction failed")

	// ErrUnsafeEntry indicates an archive entry would escape the destination
	ErrUnsafeEntry = errors.New("archive entry escapes destination")
)

// Transfer errors - 傳輸層錯誤
var (
	// ErrSizeMismatch indicates received bytes differ from the declared size
	ErrSizeMismatch = errors.New("size mismatch")

	// ErrBadStatus indicates a non-2xx HTTP status
	ErrBadStatus = errors.New("unexpected status code")

	// ErrNotConnected indicates the message channel is down
	ErrNotConnected = errors.New("channel not connected")

	// ErrInactivity indicates the remote went silent during a chunked transfer
	ErrInactivity = errors.New("transfer inactivity timeout")

	// ErrWriterTimeout indicates the disk writer did not finish in time
	ErrWriterTimeout = errors.New("writer finish timeout")

	// ErrRemote indicates the remote reported an error for the request
	ErrRemote = errors.New("remote error")
)

// ErrAborted indicates an operation was superseded or cancelled.
// Callers branch on it separately from genuine failures.
var ErrAborted = errors.New("aborted")

// Config errors - 設定檔錯誤
var (
	// ErrConfigNotFound indicates config file not found
	ErrConfigNotFound = errors.New("config file not found")

	// ErrConfigInvalid indicates config file is malformed
	ErrConfigInvalid = errors.New("invalid config")

	// ErrArtifactNotFound indicates a named artifact is not in the remote listing
	ErrArtifactNotFound = errors.New("artifact not found")

	// ErrUnsafeArtifact indicates a descriptor that would install outside the target root
	ErrUnsafeArtifact = errors.New("artifact path escapes target root")
)
