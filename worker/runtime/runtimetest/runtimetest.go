// Package runtimetest provides a configurable question type for tests of
// the worker, pool and HTTP layers. Implementations are registered in the
// runtime registry like any shipping question type, so they run unchanged in
// in-process workers and in reexeced worker processes.
package runtimetest

import (
	"encoding/json"

	"github.com/questionpy-org/questionpy-server/api/types"
	"github.com/questionpy-org/questionpy-server/packages"
	"github.com/questionpy-org/questionpy-server/worker/runtime"
)

// QuestionType answers every operation with canned values, overridable per
// hook. The zero value is fully functional.
type QuestionType struct {
	Manifest *types.Manifest

	OptionsFormHook   func(questionState []byte, user types.RequestUser) (types.OptionsFormDefinition, json.RawMessage, error)
	CreateQuestionHook func(oldState, formData []byte, user types.RequestUser) (*types.QuestionCreated, error)
	StartAttemptHook  func(questionState []byte, variant int, user types.RequestUser) (*types.AttemptStarted, error)
	ViewAttemptHook   func(questionState, attemptState, scoringState, response []byte, user types.RequestUser) (*types.AttemptModel, error)
	ScoreAttemptHook  func(questionState, attemptState, scoringState, response []byte, user types.RequestUser) (*types.AttemptScored, error)
}

var _ runtime.QuestionType = (*QuestionType)(nil)

func (q *QuestionType) GetOptionsForm(questionState []byte, user types.RequestUser) (types.OptionsFormDefinition, json.RawMessage, error) {
	if q.OptionsFormHook != nil {
		return q.OptionsFormHook(questionState, user)
	}
	def := types.OptionsFormDefinition{General: []types.FormElement{{Kind: "text", Name: "prompt"}}}
	return def, json.RawMessage(`{"prompt":""}`), nil
}

func (q *QuestionType) CreateQuestionFromOptions(oldState, formData []byte, user types.RequestUser) (*types.QuestionCreated, error) {
	if q.CreateQuestionHook != nil {
		return q.CreateQuestionHook(oldState, formData, user)
	}
	return &types.QuestionCreated{
		QuestionState: json.RawMessage(`{"v":1}`),
		NumVariants:   1,
		ScoreMax:      1,
	}, nil
}

func (q *QuestionType) StartAttempt(questionState []byte, variant int, user types.RequestUser) (*types.AttemptStarted, error) {
	if q.StartAttemptHook != nil {
		return q.StartAttemptHook(questionState, variant, user)
	}
	return &types.AttemptStarted{
		AttemptState: json.RawMessage(`{"seed":4}`),
		Variant:      variant,
		UI:           types.AttemptUI{Content: "<div>attempt</div>"},
	}, nil
}

func (q *QuestionType) ViewAttempt(questionState, attemptState, scoringState, response []byte, user types.RequestUser) (*types.AttemptModel, error) {
	if q.ViewAttemptHook != nil {
		return q.ViewAttemptHook(questionState, attemptState, scoringState, response, user)
	}
	return &types.AttemptModel{Variant: 1, UI: types.AttemptUI{Content: "<div>attempt</div>"}}, nil
}

func (q *QuestionType) ScoreAttempt(questionState, attemptState, scoringState, response []byte, user types.RequestUser) (*types.AttemptScored, error) {
	if q.ScoreAttemptHook != nil {
		return q.ScoreAttemptHook(questionState, attemptState, scoringState, response, user)
	}
	score := 1.0
	return &types.AttemptScored{
		ScoringState: json.RawMessage(`{"done":true}`),
		ScoringCode:  "AUTOMATICALLY_SCORED",
		Score:        &score,
		UI:           types.AttemptUI{Content: "<div>scored</div>"},
	}, nil
}

// Register registers q under entrypoint.
func Register(entrypoint string, q *QuestionType) {
	runtime.Register(entrypoint, func(manifest *types.Manifest) (runtime.QuestionType, error) {
		return q, nil
	})
}

// Manifest builds a minimal valid manifest for tests.
func Manifest(namespace, shortName, version string) *types.Manifest {
	return &types.Manifest{
		ShortName:  shortName,
		Namespace:  namespace,
		Version:    version,
		APIVersion: "1.0",
		Author:     "tests",
		Type:       types.PackageTypeQuestion,
		Entrypoint: "__main__",
	}
}

// Location builds a function location resolving to entrypoint.
func Location(entrypoint string, manifest *types.Manifest) packages.Location {
	return packages.FunctionLocation(entrypoint, manifest)
}
