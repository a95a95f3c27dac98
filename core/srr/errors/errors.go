// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package errors

import "github.com/juju/errors"

const (
	// InvalidPassphrase is returned when a passphrase does not match the
	// required format, or does not match the checksum it is presented
	// with.
	InvalidPassphrase = errors.ConstError("invalid passphrase")

	// IntegrityCheckFailed is returned when the data integrity digest of
	// one or more groups does not match their payload.
	IntegrityCheckFailed = errors.ConstError("data integrity check failed")

	// MissingFeature is returned when a group payload does not contain
	// every feature the catalog expects for that group.
	MissingFeature = errors.ConstError("missing feature")

	// UnknownFeature is returned when a feature is not in the catalog.
	UnknownFeature = errors.ConstError("unknown feature")

	// UnknownGroup is returned when a group is not in the catalog.
	UnknownGroup = errors.ConstError("unknown group")

	// DispatchFailure is returned when a request to an agent could not be
	// completed: transport error, timeout or malformed reply.
	DispatchFailure = errors.ConstError("dispatch failure")

	// RestoreFailed is returned when an agent reports a non successful
	// restore for a feature.
	RestoreFailed = errors.ConstError("restore failed")

	// ResetFailed is returned when an agent reports a non successful reset
	// for a feature. It is only ever logged.
	ResetFailed = errors.ConstError("reset failed")

	// SnapshotFailed is returned when the pre-restore state of a group
	// could not be saved.
	SnapshotFailed = errors.ConstError("snapshot failed")

	// UnsupportedVersion is returned for an unrecognised protocol version.
	UnsupportedVersion = errors.ConstError("unsupported version")

	// NotImplemented is returned by the reset operation.
	NotImplemented = errors.ConstError("not implemented")

	// UnknownOperation is returned when a request names an operation the
	// processor does not know.
	UnknownOperation = errors.ConstError("unknown operation")

	// HandlerNotWired is returned when a processor is built without a
	// handler for one of the operations.
	HandlerNotWired = errors.ConstError("handler not wired")
)
