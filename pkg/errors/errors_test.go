package errors

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCloneKeepsIdentity(t *testing.T) {
	err := Clone(ErrQuotaExceeded, "supervisor t-1 reached quota 2")
	require.True(t, errors.Is(err, ErrQuotaExceeded))
	require.False(t, errors.Is(err, ErrDuplicateActiveRequest))
	require.Equal(t, "supervisor t-1 reached quota 2", err.Message)
	require.Equal(t, "supervisor quota exceeded", ErrQuotaExceeded.Message)

	wrapped := fmt.Errorf("request: %w", err)
	require.True(t, errors.Is(wrapped, ErrQuotaExceeded))
}

func TestFromErrorFallsBackToInternal(t *testing.T) {
	appErr := FromError(sql.ErrConnDone)
	require.Equal(t, ErrInternal.Code, appErr.Code)
	require.Equal(t, http.StatusInternalServerError, appErr.Status)
	require.True(t, errors.Is(appErr, sql.ErrConnDone))

	require.Nil(t, FromError(nil))
	require.Same(t, ErrNoSnapshotYet, FromError(ErrNoSnapshotYet))
}
