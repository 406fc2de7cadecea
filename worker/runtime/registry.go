// Package runtime is the code running inside a worker. It performs the
// bootstrap exchange, applies the resource limits to its own process and then
// serves the dispatch loop until the server sends Exit.
package runtime

import (
	"encoding/json"
	"sync"

	"github.com/pkg/errors"

	"github.com/questionpy-org/questionpy-server/api/types"
)

// QuestionType is the contract between the runtime and the code a package's
// entrypoint resolves to. All state arguments are opaque host-owned bytes.
type QuestionType interface {
	GetOptionsForm(questionState []byte, user types.RequestUser) (types.OptionsFormDefinition, json.RawMessage, error)
	CreateQuestionFromOptions(oldState, formData []byte, user types.RequestUser) (*types.QuestionCreated, error)
	StartAttempt(questionState []byte, variant int, user types.RequestUser) (*types.AttemptStarted, error)
	ViewAttempt(questionState, attemptState, scoringState, response []byte, user types.RequestUser) (*types.AttemptModel, error)
	ScoreAttempt(questionState, attemptState, scoringState, response []byte, user types.RequestUser) (*types.AttemptScored, error)
}

// Factory builds the question type of a loaded package.
type Factory func(manifest *types.Manifest) (QuestionType, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a question-type implementation resolvable under an
// entrypoint name. Package manifests name the entrypoint; function locations
// name it directly.
func Register(entrypoint string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[entrypoint] = factory
}

func resolve(entrypoint string, manifest *types.Manifest) (QuestionType, error) {
	registryMu.RLock()
	factory, ok := registry[entrypoint]
	registryMu.RUnlock()
	if !ok {
		return nil, errors.Errorf("no question type registered for entrypoint %q", entrypoint)
	}
	return factory(manifest)
}
