package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	for _, format := range []string{"hex", "base64"} {
		t.Run(format, func(t *testing.T) {
			frame, err := encodeFrame(`{"event":"new user","data":{"username":"bob"}}`, format)
			require.NoError(t, err)
			assert.NotEmpty(t, frame)

			out, err := decodeFrame(frame, format)
			require.NoError(t, err)
			assert.JSONEq(t, `{"event":"new user","data":{"username":"bob"}}`, out)
		})
	}
}

func TestFrameErrors(t *testing.T) {
	_, err := encodeFrame(`not json`, "hex")
	assert.Error(t, err)

	_, err = encodeFrame(`{"event":"message","data":"hi"}`, "octal")
	assert.Error(t, err)

	_, err = decodeFrame("zz", "hex")
	assert.Error(t, err)

	_, err = decodeFrame("00", "octal")
	assert.Error(t, err)
}
