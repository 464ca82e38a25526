package transfer

import "errors"

var (
	// ErrInvalidReference reports a video path that does not name a stored asset.
	ErrInvalidReference = errors.New("transfer: invalid video reference")
	// ErrTransferFailed reports that the configured driver could not hand off the asset.
	ErrTransferFailed = errors.New("transfer: driver failed")
	// ErrQueueClosed is returned when publishing to a closed queue.
	ErrQueueClosed = errors.New("transfer: queue closed")
)
