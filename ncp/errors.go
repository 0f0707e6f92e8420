package ncp

import "errors"

var (
	// ErrNoDialer is returned when a Driver is constructed without a Dialer.
	//
	// This indicates a configuration error. A Dialer is required in order to
	// establish a connection to the co-processor.
	ErrNoDialer = errors.New("no dialer configured")

	// ErrNotInitialized is returned when an operation is attempted on a Driver
	// that has not been successfully initialized.
	ErrNotInitialized = errors.New("driver not initialized")

	// ErrAlreadyClosed is returned when Close is called on a Driver that has
	// already been closed, or when a command is issued after Close.
	ErrAlreadyClosed = errors.New("driver already closed")

	// ErrLoopRunning is returned when Run is called while the workers of the
	// same Driver are already running.
	ErrLoopRunning = errors.New("driver workers already running")

	// ErrBusy is returned when the command transaction lock could not be
	// acquired in time. Callers should retry later.
	ErrBusy = errors.New("command channel busy")

	// ErrTimeout is returned when an expected response did not arrive in
	// time. Internal state is left consistent.
	ErrTimeout = errors.New("response timeout")

	// ErrIO is returned when the transport fails to send or receive, or when
	// the co-processor acknowledges fewer payload bytes than were written.
	ErrIO = errors.New("transport i/o error")

	// ErrCommandFailed is returned when the co-processor answers ERROR.
	ErrCommandFailed = errors.New("command failed")

	// ErrUnexpectedResponse is returned when a response line does not have
	// the shape the command expects.
	ErrUnexpectedResponse = errors.New("unexpected response")

	// ErrWorkerReentry is returned when a command transaction is started from
	// the ingestion or event dispatch goroutine, typically from inside an
	// event handler. Waiting there for a response would deadlock the driver.
	ErrWorkerReentry = errors.New("command issued from driver worker")

	// ErrTxnEnded is returned when a transaction is used after End.
	ErrTxnEnded = errors.New("transaction already ended")

	// ErrInvalidCategory is returned for a category outside the known set.
	ErrInvalidCategory = errors.New("invalid category")
)
