package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rbridge/errors"
	"rbridge/runtime"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		gerr    *runtime.GuestError
		kind    errors.ErrorKind
		pkg     string
		message string
	}{
		{
			name: "package class with field",
			gerr: &runtime.GuestError{
				Message: "there is no package called ‘tidyr’",
				Classes: []string{"packageNotFoundError", "error", "condition"},
				Package: "tidyr",
			},
			kind: errors.KindPackageMissing,
			pkg:  "tidyr",
		},
		{
			name: "package class without field",
			gerr: &runtime.GuestError{
				Message: "there is no package called ‘janitor’",
				Classes: []string{"packageNotFoundError", "error", "condition"},
			},
			kind: errors.KindPackageMissing,
			pkg:  "janitor",
		},
		{
			name: "package message with straight quotes",
			gerr: &runtime.GuestError{Message: "there is no package called 'lubridate'"},
			kind: errors.KindPackageMissing,
			pkg:  "lubridate",
		},
		{
			name: "dataset class",
			gerr: &runtime.GuestError{
				Message: "dataset 'nope' not found",
				Classes: []string{"datasetNotFoundError", "error", "condition"},
			},
			kind: errors.KindDatasetNotFound,
		},
		{
			name: "object not found",
			gerr: &runtime.GuestError{Message: "object 'foo' not found"},
			kind: errors.KindReference,
		},
		{
			name: "object not found with typographic quotes",
			gerr: &runtime.GuestError{Message: "object ‘foo’ not found"},
			kind: errors.KindReference,
		},
		{
			name: "function not found",
			gerr: &runtime.GuestError{Message: `could not find function "ggplott"`},
			kind: errors.KindReference,
		},
		{
			name: "zero-length name",
			gerr: &runtime.GuestError{Message: "attempt to use zero-length variable name"},
			kind: errors.KindMalformedIdentifier,
		},
		{
			name: "invalid assignment target",
			gerr: &runtime.GuestError{Message: "invalid (do_set) left-hand side to assignment"},
			kind: errors.KindMalformedIdentifier,
		},
		{
			name:    "anything else",
			gerr:    &runtime.GuestError{Message: "  non-numeric argument to binary operator\n"},
			kind:    errors.KindInterpreterRuntime,
			message: "non-numeric argument to binary operator",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.gerr)
			require.NotNil(t, got)
			assert.Equal(t, tt.kind, got.Kind)
			assert.Equal(t, tt.pkg, got.Package)
			if tt.message != "" {
				assert.Equal(t, tt.message, got.Message)
			}
			assert.Equal(t, tt.gerr, got.Cause)
		})
	}
}

func TestClassifyKeepsConditionDetail(t *testing.T) {
	got := Classify(&runtime.GuestError{
		Message: "boom",
		Call:    "f(x)",
		Classes: []string{"myError", "error", "condition"},
	})

	assert.Equal(t, "f(x)", got.Context["call"])
	assert.Equal(t, "myError,error,condition", got.Context["classes"])
}

func TestClassifyNil(t *testing.T) {
	assert.Nil(t, Classify(nil))
}

func TestMissingPackage(t *testing.T) {
	assert.Equal(t, "ggplot2", MissingPackage("Error in library(ggplot2) : there is no package called ‘ggplot2’"))
	assert.Equal(t, "", MissingPackage("object 'x' not found"))
}
