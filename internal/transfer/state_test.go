package transfer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateString(t *testing.T) {
	expected := map[State]string{
		StateNew:          "NEW",
		StateResume:       "RESUME",
		StateRedownload:   "REDOWNLOAD",
		StateDownloading:  "DOWNLOADING",
		StateVerifying:    "VERIFYING",
		StateValid:        "VALID",
		StateCorrupt:      "CORRUPT",
		StateHashMismatch: "HASH_MISMATCH",
		StateError:        "ERROR",
	}

	for state, name := range expected {
		assert.Equal(t, name, state.String())
	}

	assert.Len(t, stateNames, len(expected), "every state needs a name")
}

func TestStateTerminal(t *testing.T) {
	assert.True(t, StateValid.Terminal())
	assert.True(t, StateError.Terminal())

	for _, s := range []State{StateNew, StateResume, StateRedownload, StateDownloading, StateVerifying, StateCorrupt, StateHashMismatch} {
		assert.False(t, s.Terminal(), s.String())
	}
}
