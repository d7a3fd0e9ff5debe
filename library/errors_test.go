package library

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_ValidationError_MatchesSentinel(t *testing.T) {
	err := invalidField("total_copies", "must be at least 1")

	assert.True(t, errors.Is(err, ErrValidation))
	assert.Equal(t, "validation failed: total_copies: must be at least 1", err.Error())
}

func Test_ValidationError_SortsFields(t *testing.T) {
	err := &ValidationError{Fields: map[string][]string{
		"title":  {"is required"},
		"author": {"is required"},
	}}

	assert.Equal(t, "validation failed: author: is required; title: is required", err.Error())
}

func Test_NotFound_WrapsSentinel(t *testing.T) {
	err := notFound("book", "b1")

	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "book b1: not found", err.Error())
}
