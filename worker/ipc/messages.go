// Package ipc implements the framed channel between the server and its
// workers. Every frame is an 8-byte header (message ID and payload length,
// little-endian u32 each) followed by a JSON payload. Message IDs partition
// into a server-to-worker range (0–999) and a worker-to-server range
// (1000–1999); a response carries the ID of its request plus ResponseOffset.
package ipc

import (
	"encoding/json"

	"github.com/questionpy-org/questionpy-server/api/types"
	"github.com/questionpy-org/questionpy-server/packages"
)

// Message is a frame payload. MessageID determines the payload schema on
// both sides through a single table.
type Message interface {
	MessageID() uint32
}

// ResponseOffset separates a request ID from the ID of its response.
const ResponseOffset = 1000

// Server-to-worker message IDs.
const (
	IDInitWorker  uint32 = 0
	IDExit        uint32 = 1
	IDLoadPackage uint32 = 10
	IDGetManifest uint32 = 11

	IDGetOptionsForm            uint32 = 20
	IDCreateQuestionFromOptions uint32 = 21

	IDStartAttempt uint32 = 30
	IDViewAttempt  uint32 = 31
	IDScoreAttempt uint32 = 32
)

// Worker-to-server message IDs.
const (
	IDInitWorkerDone  = IDInitWorker + ResponseOffset
	IDLoadPackageDone = IDLoadPackage + ResponseOffset
	IDManifestResult  = IDGetManifest + ResponseOffset

	IDOptionsFormResult = IDGetOptionsForm + ResponseOffset
	IDQuestionCreated   = IDCreateQuestionFromOptions + ResponseOffset

	IDAttemptStarted = IDStartAttempt + ResponseOffset
	IDAttemptViewed  = IDViewAttempt + ResponseOffset
	IDAttemptScored  = IDScoreAttempt + ResponseOffset

	IDWorkerError uint32 = 1999
)

// WorkerType selects the isolation mechanism a worker runs under.
const (
	WorkerTypeProcess = "process"
	WorkerTypeThread  = "thread"
)

// InitWorker is the mandatory first frame of every worker's life. The worker
// applies the limits to itself and answers with InitWorkerDone.
type InitWorker struct {
	Limits     types.WorkerResourceLimits `json:"limits"`
	WorkerType string                     `json:"worker_type"`
}

func (InitWorker) MessageID() uint32 { return IDInitWorker }

// InitWorkerDone acknowledges the bootstrap.
type InitWorkerDone struct{}

func (InitWorkerDone) MessageID() uint32 { return IDInitWorkerDone }

// Exit asks the worker to leave its dispatch loop cleanly. It has no
// response.
type Exit struct{}

func (Exit) MessageID() uint32 { return IDExit }

// LoadPackage makes the worker open the package at Location and, when Main
// is set, resolve its entrypoint.
type LoadPackage struct {
	Location packages.Location `json:"location"`
	Main     bool              `json:"main"`
}

func (LoadPackage) MessageID() uint32 { return IDLoadPackage }

// LoadPackageDone acknowledges a LoadPackage.
type LoadPackageDone struct{}

func (LoadPackageDone) MessageID() uint32 { return IDLoadPackageDone }

// GetManifest asks for the validated manifest of the loaded package.
type GetManifest struct{}

func (GetManifest) MessageID() uint32 { return IDGetManifest }

// ManifestResult carries the manifest back.
type ManifestResult struct {
	Manifest types.Manifest `json:"manifest"`
}

func (ManifestResult) MessageID() uint32 { return IDManifestResult }

// GetOptionsForm asks the question type for its edit form.
type GetOptionsForm struct {
	QuestionState json.RawMessage   `json:"question_state,omitempty"`
	RequestUser   types.RequestUser `json:"request_user"`
}

func (GetOptionsForm) MessageID() uint32 { return IDGetOptionsForm }

// OptionsFormResult carries the form definition and the current form data.
type OptionsFormResult struct {
	Definition types.OptionsFormDefinition `json:"definition"`
	FormData   json.RawMessage             `json:"form_data"`
}

func (OptionsFormResult) MessageID() uint32 { return IDOptionsFormResult }

// CreateQuestionFromOptions asks the question type to create or update a
// question from submitted form data.
type CreateQuestionFromOptions struct {
	QuestionState json.RawMessage   `json:"question_state,omitempty"`
	FormData      json.RawMessage   `json:"form_data"`
	RequestUser   types.RequestUser `json:"request_user"`
}

func (CreateQuestionFromOptions) MessageID() uint32 { return IDCreateQuestionFromOptions }

// QuestionCreated carries the new question state and metadata.
type QuestionCreated struct {
	types.QuestionCreated
}

func (QuestionCreated) MessageID() uint32 { return IDQuestionCreated }

// StartAttempt starts an attempt at the given variant.
type StartAttempt struct {
	QuestionState json.RawMessage   `json:"question_state"`
	Variant       int               `json:"variant"`
	RequestUser   types.RequestUser `json:"request_user"`
}

func (StartAttempt) MessageID() uint32 { return IDStartAttempt }

// AttemptStarted carries the attempt state and the rendered UI.
type AttemptStarted struct {
	types.AttemptStarted
}

func (AttemptStarted) MessageID() uint32 { return IDAttemptStarted }

// ViewAttempt renders an existing attempt.
type ViewAttempt struct {
	QuestionState json.RawMessage   `json:"question_state"`
	AttemptState  json.RawMessage   `json:"attempt_state"`
	ScoringState  json.RawMessage   `json:"scoring_state,omitempty"`
	Response      json.RawMessage   `json:"response,omitempty"`
	RequestUser   types.RequestUser `json:"request_user"`
}

func (ViewAttempt) MessageID() uint32 { return IDViewAttempt }

// AttemptViewed carries the rendered attempt.
type AttemptViewed struct {
	types.AttemptModel
}

func (AttemptViewed) MessageID() uint32 { return IDAttemptViewed }

// ScoreAttempt scores a response to an attempt.
type ScoreAttempt struct {
	QuestionState json.RawMessage   `json:"question_state"`
	AttemptState  json.RawMessage   `json:"attempt_state"`
	ScoringState  json.RawMessage   `json:"scoring_state,omitempty"`
	Response      json.RawMessage   `json:"response"`
	RequestUser   types.RequestUser `json:"request_user"`
}

func (ScoreAttempt) MessageID() uint32 { return IDScoreAttempt }

// AttemptScored carries the score and the rendered UI.
type AttemptScored struct {
	types.AttemptScored
}

func (AttemptScored) MessageID() uint32 { return IDAttemptScored }

// ErrorKind classifies a WorkerError.
type ErrorKind string

const (
	ErrorKindUnknown        ErrorKind = "UNKNOWN"
	ErrorKindMemoryExceeded ErrorKind = "MEMORY_EXCEEDED"
)

// WorkerError reports a failure inside a worker handler in place of the
// response the server awaits. ExpectedResponseID names that response so the
// server can match the error to its outstanding request.
type WorkerError struct {
	ExpectedResponseID uint32    `json:"expected_response_id"`
	Kind               ErrorKind `json:"kind"`
	Message            string    `json:"message"`
	Temporary          bool      `json:"temporary"`
}

func (WorkerError) MessageID() uint32 { return IDWorkerError }

// messageTable maps every known ID to a constructor of its payload type.
var messageTable = map[uint32]func() Message{
	IDInitWorker:                func() Message { return &InitWorker{} },
	IDInitWorkerDone:            func() Message { return &InitWorkerDone{} },
	IDExit:                      func() Message { return &Exit{} },
	IDLoadPackage:               func() Message { return &LoadPackage{} },
	IDLoadPackageDone:           func() Message { return &LoadPackageDone{} },
	IDGetManifest:               func() Message { return &GetManifest{} },
	IDManifestResult:            func() Message { return &ManifestResult{} },
	IDGetOptionsForm:            func() Message { return &GetOptionsForm{} },
	IDOptionsFormResult:         func() Message { return &OptionsFormResult{} },
	IDCreateQuestionFromOptions: func() Message { return &CreateQuestionFromOptions{} },
	IDQuestionCreated:           func() Message { return &QuestionCreated{} },
	IDStartAttempt:              func() Message { return &StartAttempt{} },
	IDAttemptStarted:            func() Message { return &AttemptStarted{} },
	IDViewAttempt:               func() Message { return &ViewAttempt{} },
	IDAttemptViewed:             func() Message { return &AttemptViewed{} },
	IDScoreAttempt:              func() Message { return &ScoreAttempt{} },
	IDAttemptScored:             func() Message { return &AttemptScored{} },
	IDWorkerError:               func() Message { return &WorkerError{} },
}
