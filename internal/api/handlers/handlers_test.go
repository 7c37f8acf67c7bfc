package handlers

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/your-org/faceattend/internal/attendance"
	"github.com/your-org/faceattend/internal/camera"
	"github.com/your-org/faceattend/internal/inference"
	"github.com/your-org/faceattend/internal/liveness"
	"github.com/your-org/faceattend/internal/templates"
)

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		liveness.ErrSessionNotFound: http.StatusNotFound,
		attendance.ErrEventNotFound: http.StatusNotFound,
		liveness.ErrSessionExpired:  http.StatusGone,
		liveness.ErrSessionClosed:   http.StatusConflict,
		liveness.ErrCameraBusy:      http.StatusConflict,
		camera.ErrAlreadyRunning:    http.StatusConflict,
		templates.ErrModelMismatch:  http.StatusUnprocessableEntity,
		inference.ErrInvalidImage:   http.StatusBadRequest,
		attendance.ErrInvalidDate:   http.StatusBadRequest,
		fmt.Errorf("db down"):       http.StatusInternalServerError,
	}
	for err, want := range cases {
		require.Equal(t, want, statusFor(err), err.Error())
	}
	require.Equal(t, http.StatusGone, statusFor(fmt.Errorf("wrapped: %w", liveness.ErrSessionExpired)))
}

func TestDecodeFrameData(t *testing.T) {
	raw := []byte{0xff, 0xd8, 0xff, 0xd9}
	enc := base64.StdEncoding.EncodeToString(raw)

	got, err := decodeFrameData(enc)
	require.NoError(t, err)
	require.Equal(t, raw, got)

	got, err = decodeFrameData("data:image/jpeg;base64," + enc)
	require.NoError(t, err)
	require.Equal(t, raw, got)

	got, err = decodeFrameData(base64.RawStdEncoding.EncodeToString(raw))
	require.NoError(t, err)
	require.Equal(t, raw, got)

	for _, bad := range []string{"", "   ", "data:image/jpeg;base64", "not base64!"} {
		_, err := decodeFrameData(bad)
		require.ErrorIs(t, err, errBadFrame, bad)
	}
}
