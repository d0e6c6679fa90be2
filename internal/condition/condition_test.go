package condition

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessage(t *testing.T) {
	e := New(DivideByZero, "dividing %d by zero", 7)
	assert.Equal(t, "divide-by-zero: dividing 7 by zero", e.Error())
}

func TestSignalPanicsWithTypedError(t *testing.T) {
	defer func() {
		r := recover()
		if assert.NotNil(t, r) {
			err, ok := r.(*Error)
			if assert.True(t, ok) {
				assert.Equal(t, MarkerNotFound, err.Tag)
			}
		}
	}()
	Signal(MarkerNotFound, "no marker named %s", "t")
}
