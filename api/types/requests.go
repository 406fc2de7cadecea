package types

import "encoding/json"

// Byte caps applied while reading request parts. MaxPackageSize is only the
// default; the effective cap comes from the webservice settings.
const (
	MaxMainSize          = 5 * 1024 * 1024
	MaxQuestionStateSize = 2 * 1024 * 1024
	DefaultMaxPackageSize = 20 * 1024 * 1024
)

// RequestUser carries the language preference block accompanying every
// user-facing request.
type RequestUser struct {
	PreferredLanguages []string `json:"preferred_languages"`
}

// RequestBaseData is the envelope shared by all package-scoped requests.
type RequestBaseData struct {
	Context     *int64      `json:"context,omitempty"`
	RequestUser RequestUser `json:"request_user,omitempty"`
}

// QuestionCreateArguments is the main part of POST .../question.
type QuestionCreateArguments struct {
	RequestBaseData
	FormData json.RawMessage `json:"form_data"`
}

// AttemptStartArguments is the main part of POST .../attempt/start.
type AttemptStartArguments struct {
	RequestBaseData
	Variant int `json:"variant"`
}

// AttemptViewArguments is the main part of POST .../attempt/view.
type AttemptViewArguments struct {
	RequestBaseData
	AttemptState  json.RawMessage `json:"attempt_state"`
	ScoringState  json.RawMessage `json:"scoring_state,omitempty"`
	Response      json.RawMessage `json:"response,omitempty"`
}

// AttemptScoreArguments is the main part of POST .../attempt/score.
type AttemptScoreArguments struct {
	RequestBaseData
	AttemptState json.RawMessage `json:"attempt_state"`
	ScoringState json.RawMessage `json:"scoring_state,omitempty"`
	Response     json.RawMessage `json:"response"`
}
