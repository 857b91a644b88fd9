package errors

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindsSurviveWrapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		is   func(error) bool
	}{
		{"validation", NewValidationError("missing %s", "date"), IsValidation},
		{"not found", NewNotFoundError("job %q", "j1"), IsNotFound},
		{"conflict", NewConflictError("run %q in flight", "r1"), IsConflict},
		{"store", MarkStore(fs.ErrPermission, "write jobs file"), IsStore},
		{"launch", MarkLaunch(fs.ErrNotExist, "start worker"), IsLaunch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := Wrap(tt.err, "outer")
			assert.True(t, tt.is(tt.err))
			assert.True(t, tt.is(wrapped))
		})
	}
}

func TestMarkedErrorsKeepCause(t *testing.T) {
	err := MarkStore(fs.ErrPermission, "write jobs file")
	assert.True(t, Is(err, fs.ErrPermission))
	assert.Contains(t, err.Error(), "write jobs file")
	assert.False(t, IsNotFound(err))
}

func TestValidationMessageIsClean(t *testing.T) {
	err := NewValidationError("missing required reservation fields: %s", "date")
	assert.Equal(t, "missing required reservation fields: date", err.Error())
}

func TestNilIsNoKind(t *testing.T) {
	assert.Nil(t, MarkStore(nil, "x"))
	assert.Nil(t, MarkLaunch(nil, "x"))
	assert.False(t, IsValidation(nil))
	assert.False(t, IsNotFound(nil))
	assert.False(t, IsStore(nil))
}
