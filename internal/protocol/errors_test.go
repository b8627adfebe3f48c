package protocol

import (
	"errors"
	"fmt"
	"testing"
)

type conflictErr struct{}

func (conflictErr) Error() string     { return "taken" }
func (conflictErr) ErrorCode() string { return ErrCellConflict }

func TestCodeOf(t *testing.T) {
	notFound := NewCodedError(ErrNotFound, "enemy not found")
	cases := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{errors.New("disk full"), ErrInternal},
		{conflictErr{}, ErrCellConflict},
		{fmt.Errorf("assign: %w", conflictErr{}), ErrCellConflict},
		{fmt.Errorf("%w: e1", notFound), ErrNotFound},
		{errors.Join(errors.New("a"), fmt.Errorf("b: %w", notFound)), ErrNotFound},
	}
	for _, c := range cases {
		if got := CodeOf(c.err); got != c.want {
			t.Fatalf("CodeOf(%v) = %q, want %q", c.err, got, c.want)
		}
	}
	if !errors.Is(fmt.Errorf("wrap: %w", notFound), notFound) {
		t.Fatalf("expected coded sentinel to match through wrapping")
	}
}
