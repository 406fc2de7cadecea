package types

import "encoding/json"

// FormElement is one input element of an options form. Kind selects which of
// the optional fields are meaningful; the server never interprets them, it
// only validates the envelope shape.
type FormElement struct {
	Kind     string            `json:"kind"`
	Name     string            `json:"name"`
	Label    map[string]string `json:"label,omitempty"`
	Required bool              `json:"required,omitempty"`
	Default  json.RawMessage   `json:"default,omitempty"`
	Options  json.RawMessage   `json:"options,omitempty"`
}

// FormSection groups form elements under a header.
type FormSection struct {
	Header   map[string]string `json:"header,omitempty"`
	Elements []FormElement     `json:"elements"`
}

// OptionsFormDefinition is the editable options form a question type exposes.
type OptionsFormDefinition struct {
	General  []FormElement `json:"general"`
	Sections []FormSection `json:"sections,omitempty"`
}

// QuestionEditFormResponse is returned by POST .../options.
type QuestionEditFormResponse struct {
	Definition OptionsFormDefinition `json:"definition"`
	FormData   json.RawMessage       `json:"form_data"`
}

// QuestionCreated is returned by POST .../question. QuestionState is opaque
// to the server and owned by the host.
type QuestionCreated struct {
	QuestionState json.RawMessage `json:"question_state"`
	NumVariants   int             `json:"num_variants"`
	ScoreMin      float64         `json:"score_min"`
	ScoreMax      float64         `json:"score_max"`
}

// AttemptUI is the rendered user interface of an attempt.
type AttemptUI struct {
	Content        string            `json:"content"`
	Placeholders   map[string]string `json:"placeholders,omitempty"`
	IncludeInlineCSS []string        `json:"include_inline_css,omitempty"`
}

// AttemptStarted is returned by POST .../attempt/start.
type AttemptStarted struct {
	AttemptState json.RawMessage `json:"attempt_state"`
	Variant      int             `json:"variant"`
	UI           AttemptUI       `json:"ui"`
}

// AttemptModel is returned by POST .../attempt/view.
type AttemptModel struct {
	Variant int       `json:"variant"`
	UI      AttemptUI `json:"ui"`
}

// AttemptScored is returned by POST .../attempt/score.
type AttemptScored struct {
	ScoringState  json.RawMessage `json:"scoring_state"`
	ScoringCode   string          `json:"scoring_code"`
	Score         *float64        `json:"score"`
	UI            AttemptUI       `json:"ui"`
}

// PackageInfo describes one indexed package.
type PackageInfo struct {
	Hash     string   `json:"hash"`
	Manifest Manifest `json:"manifest"`
	Sources  []string `json:"sources"`
}

// PackageVersionInfo is the manifest extracted from an uploaded archive
// together with its hash, returned by POST /package-extract-info.
type PackageVersionInfo struct {
	Hash     string   `json:"hash"`
	Manifest Manifest `json:"manifest"`
}

// PackageVersionsInfo lists every known version of one package identifier.
// Versions are sorted descending and Manifest belongs to the highest one.
type PackageVersionsInfo struct {
	Manifest Manifest             `json:"manifest"`
	Versions []PackageVersionItem `json:"versions"`
}

// PackageVersionItem pairs a version with the hash serving it.
type PackageVersionItem struct {
	Version string `json:"version"`
	Hash    string `json:"hash"`
}
