package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatus(t *testing.T) {
	cases := map[error]int{
		nil:                                    http.StatusOK,
		ErrNotFound:                            http.StatusNotFound,
		fmt.Errorf("load: %w", ErrNotFound):    http.StatusNotFound,
		Forbidden("alice", "delete", "Inbox"):  http.StatusForbidden,
		ErrUnauthorized:                        http.StatusUnauthorized,
		Invalid("page %d out of range", 7):     http.StatusBadRequest,
		ErrUnsupportedFormat:                   http.StatusUnsupportedMediaType,
		ErrConflict:                            http.StatusConflict,
		errors.New("connection reset by peer"): http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, Status(err), "error: %v", err)
	}
}

func TestForbiddenMessage(t *testing.T) {
	err := Forbidden("alice", "delete", "Invoices")
	assert.EqualError(t, err, "permission denied: alice does not have permission to delete Invoices")
}
