package saver

import (
	"time"

	"github.com/pithecene-io/tgdrop/types"
)

// Stage is the last pipeline stage a message reached.
type Stage string

// Pipeline stages in order.
const (
	StageReceived        Stage = "received"
	StagePolicyChecked   Stage = "policy_checked"
	StageMetadataFetched Stage = "metadata_fetched"
	StageSizeChecked     Stage = "size_checked"
	StagePathResolved    Stage = "path_resolved"
	StageLocked          Stage = "locked"
	StageWritten         Stage = "written"
	StageReleased        Stage = "released"
)

// Status is the terminal result of a pipeline run.
type Status string

// Terminal statuses.
const (
	StatusSaved    Status = "saved"
	StatusRejected Status = "rejected"
	StatusFailed   Status = "failed"
)

// Outcome summarizes one pipeline run. Callers that dispatch
// fire-and-forget may ignore it; it exists for tests and metrics.
type Outcome struct {
	Status Status
	Stage  Stage
	Origin types.MessageKind

	Source     string
	Name       string
	Path       string
	Size       int64
	Checksum   string
	MirrorPath string
	Duration   time.Duration

	// Err is a *policy.Rejection for StatusRejected.
	Err error
}
