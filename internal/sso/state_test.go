package sso

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCodec(t *testing.T) *StateCodec {
	t.Helper()
	codec, err := NewStateCodec("test-state-secret")
	require.NoError(t, err)
	return codec
}

func testFlowState(expiresAt time.Time) FlowState {
	return FlowState{
		State:        "st_abc",
		Nonce:        "n_def",
		CodeVerifier: "cv_ghi",
		ConfigID:     "01ARZ3NDEKTSV4RRFFQ69G5FAV",
		ReturnURL:    "/backend/settings",
		ExpiresAt:    expiresAt,
	}
}

func TestStateCodecRoundTrip(t *testing.T) {
	codec := newTestCodec(t)
	state := testFlowState(time.Now().Add(FlowStateTTL))

	encoded, err := codec.Encode(state)
	require.NoError(t, err)

	decoded := codec.Decode(encoded)
	require.NotNil(t, decoded)
	assert.Equal(t, state.State, decoded.State)
	assert.Equal(t, state.Nonce, decoded.Nonce)
	assert.Equal(t, state.CodeVerifier, decoded.CodeVerifier)
	assert.Equal(t, state.ConfigID, decoded.ConfigID)
	assert.Equal(t, state.ReturnURL, decoded.ReturnURL)
	assert.WithinDuration(t, state.ExpiresAt, decoded.ExpiresAt, time.Second)
}

func TestStateCodecUniqueCiphertexts(t *testing.T) {
	codec := newTestCodec(t)
	state := testFlowState(time.Now().Add(FlowStateTTL))

	first, err := codec.Encode(state)
	require.NoError(t, err)
	second, err := codec.Encode(state)
	require.NoError(t, err)
	assert.NotEqual(t, first, second, "each encode must use a fresh IV")
}

func TestStateCodecExpiry(t *testing.T) {
	codec := newTestCodec(t)
	expiresAt := time.Now().Add(time.Minute)

	encoded, err := codec.Encode(testFlowState(expiresAt))
	require.NoError(t, err)

	codec.now = func() time.Time { return expiresAt.Add(-time.Second) }
	assert.NotNil(t, codec.Decode(encoded))

	// now == expiresAt already counts as expired.
	codec.now = func() time.Time { return expiresAt }
	assert.Nil(t, codec.Decode(encoded))

	codec.now = func() time.Time { return expiresAt.Add(time.Second) }
	assert.Nil(t, codec.Decode(encoded))
}

func TestStateCodecRejectsTampering(t *testing.T) {
	codec := newTestCodec(t)

	encoded, err := codec.Encode(testFlowState(time.Now().Add(FlowStateTTL)))
	require.NoError(t, err)

	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	require.NoError(t, err)

	// Flip one bit at every position; authentication must fail each time.
	for i := range raw {
		mutated := make([]byte, len(raw))
		copy(mutated, raw)
		mutated[i] ^= 0x01
		assert.Nil(t, codec.Decode(base64.RawURLEncoding.EncodeToString(mutated)), "bit flip at byte %d must fail", i)
	}
}

func TestStateCodecRejectsGarbage(t *testing.T) {
	codec := newTestCodec(t)

	assert.Nil(t, codec.Decode(""))
	assert.Nil(t, codec.Decode("not base64 !!!"))
	assert.Nil(t, codec.Decode(base64.RawURLEncoding.EncodeToString([]byte("short"))))
}

func TestStateCodecKeySeparation(t *testing.T) {
	codec := newTestCodec(t)
	other, err := NewStateCodec("a-different-secret")
	require.NoError(t, err)

	encoded, err := codec.Encode(testFlowState(time.Now().Add(FlowStateTTL)))
	require.NoError(t, err)
	assert.Nil(t, other.Decode(encoded))
}
