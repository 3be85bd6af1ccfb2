package transfer

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransportErrorUnwrap(t *testing.T) {
	err := &TransportError{URL: "http://cdn.example/pack/abc", Err: io.ErrUnexpectedEOF}

	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, "transport error fetching http://cdn.example/pack/abc: unexpected EOF", err.Error())
}

func TestUnexpectedStatusErrorMessage(t *testing.T) {
	plain := &UnexpectedStatusError{URL: "http://cdn.example/pack/abc", StatusCode: 503}
	assert.Equal(t, "unexpected status 503 fetching http://cdn.example/pack/abc", plain.Error())

	ranged := &UnexpectedStatusError{URL: "http://cdn.example/pack/abc", StatusCode: 418, RangeRequest: true}
	assert.Equal(t, "unexpected status 418 for range request to http://cdn.example/pack/abc", ranged.Error())
}

func TestSizeMismatchErrorMessage(t *testing.T) {
	err := &SizeMismatchError{Dest: "pack/abc", Expected: 1024, Actual: 512}

	assert.Equal(t, "size mismatch for pack/abc: expected 1024 bytes, got 512", err.Error())
}

func TestHashMismatchErrorMessage(t *testing.T) {
	err := &HashMismatchError{Dest: "pack/abc", Expected: "deadbeef", Actual: "cafebabe"}

	assert.Equal(t, "hash mismatch for pack/abc: expected deadbeef, got cafebabe", err.Error())

	var target *HashMismatchError
	assert.True(t, errors.As(error(err), &target))
}
