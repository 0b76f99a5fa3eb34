package orchestrator

import (
	"errors"

	"github.com/queryhub/queryhub/internal/executor"
)

var (
	// ErrUnsupportedIntent marks questions that cannot be answered from
	// tabular data (greetings, meta questions, free-form chat).
	ErrUnsupportedIntent = errors.New("question is not answerable from tabular data")

	// ErrGenerationTimeout marks a completion call that exceeded its
	// time budget. The user may retry; the pipeline does not.
	ErrGenerationTimeout = errors.New("sql generation timed out")

	// ErrGenerationExhausted marks a repair loop that used every
	// allowed attempt without producing valid SQL.
	ErrGenerationExhausted = errors.New("sql generation attempts exhausted")

	// ErrCrossTenant aborts any request caught touching another
	// tenant's data, no matter how far the pipeline got.
	ErrCrossTenant = executor.ErrCrossTenant
)
