package calendar

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCategory(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{fmt.Errorf("create slot: %w", ErrPastTime), "past time"},
		{fmt.Errorf("%w: slot_exists", ErrConflict), "conflict"},
		{ErrInvalidState, "invalid state"},
		{fmt.Errorf("%w: bad date", ErrValidation), "validation"},
		{ErrNotFound, "not found"},
		{ErrNotReady, "not ready"},
		{ErrFetch, "network"},
		{context.DeadlineExceeded, "network"},
		{errors.New("boom"), "network"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Category(tt.err), "%v", tt.err)
	}
}
