package core

import (
	"errors"
	"testing"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestValidationError(t *testing.T) {
	errTaken := errors.New("a user with this email already exists")

	err := NewValidationError(errTaken, FieldError{Field: "email", Error: errTaken.Error()})
	assert.EqualError(t, err, errTaken.Error())
	assert.ErrorIs(t, err, errTaken)

	var ve *ValidationError
	if assert.ErrorAs(t, pkgerrors.Wrap(err, "creating user"), &ve) {
		assert.Equal(t, map[string]string{"email": errTaken.Error()}, ve.FieldMap())
	}

	assert.Nil(t, ValidationError{Err: errTaken}.FieldMap())
	assert.Equal(t, "", ValidationError{}.Error())
}

func TestIsShutdown(t *testing.T) {
	assert.True(t, IsShutdown(NewShutdownError("integrity issue")))
	assert.True(t, IsShutdown(pkgerrors.Wrap(NewShutdownError("integrity issue"), "reviewing")))
	assert.False(t, IsShutdown(errors.New("integrity issue")))
}
