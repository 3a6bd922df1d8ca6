package sframe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T, owner ParticipantID, gen KeyGeneration, material byte) *SenderKey {
	t.Helper()
	buf := make([]byte, KeyMaterialSize)
	for i := range buf {
		buf[i] = material
	}
	secret, err := NewSecret(buf)
	require.NoError(t, err)
	return &SenderKey{Owner: owner, Material: secret, Generation: gen, CreatedAt: time.Now()}
}

func TestCodecRoundTrip(t *testing.T) {
	codec := NewCodec()
	key := testKey(t, "alice", 42, 0x00)

	plaintext := []byte{0x01, 0x02, 0x03, 0x04}
	frame, err := codec.EncryptWithIV(plaintext, key, 42, make([]byte, ivSize))
	require.NoError(t, err)

	assert.Equal(t, byte(42), frame[0])
	assert.Len(t, frame, MinFrameSize+len(plaintext))

	got, err := codec.Decrypt(frame, func(g KeyGeneration) (*SenderKey, bool) {
		if g == 42 {
			return key, true
		}
		return nil, false
	})
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestCodecRoundTripRandomIV(t *testing.T) {
	codec := NewCodec()
	key := testKey(t, "alice", 7, 0x11)

	for _, pt := range [][]byte{nil, {}, []byte("short"), make([]byte, 1<<20)} {
		frame, err := codec.Encrypt(pt, key, 7)
		require.NoError(t, err)
		assert.Len(t, frame, MinFrameSize+len(pt))

		got, err := codec.Decrypt(frame, func(g KeyGeneration) (*SenderKey, bool) { return key, g == 7 })
		require.NoError(t, err)
		assert.Equal(t, pt, got)
	}
}

func TestCodecEmptyPlaintextFrameSize(t *testing.T) {
	codec := NewCodec()
	key := testKey(t, "alice", 0, 0x22)
	frame, err := codec.Encrypt(nil, key, 0)
	require.NoError(t, err)
	assert.Len(t, frame, 29)
}

func TestCodecTwoEncryptionsDiffer(t *testing.T) {
	codec := NewCodec()
	key := testKey(t, "alice", 1, 0x33)
	a, err := codec.Encrypt([]byte("same plaintext"), key, 1)
	require.NoError(t, err)
	b, err := codec.Encrypt([]byte("same plaintext"), key, 1)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestCodecWrongKeyFailsAuth(t *testing.T) {
	codec := NewCodec()
	keyA := testKey(t, "alice", 42, 0xAA)
	keyB := testKey(t, "alice", 42, 0xBB)

	frame, err := codec.Encrypt([]byte{1, 2, 3, 4}, keyA, 42)
	require.NoError(t, err)

	_, err = codec.Decrypt(frame, func(g KeyGeneration) (*SenderKey, bool) { return keyB, true })
	assert.ErrorIs(t, err, ErrAuthFailure)
}

func TestCodecUnknownGenerationDropsFrame(t *testing.T) {
	codec := NewCodec()
	key := testKey(t, "alice", 5, 0x44)
	frame, err := codec.Encrypt([]byte("hi"), key, 5)
	require.NoError(t, err)

	_, err = codec.Decrypt(frame, func(g KeyGeneration) (*SenderKey, bool) { return nil, false })
	assert.ErrorIs(t, err, ErrUnknownGeneration)
}

func TestCodecFrameTooShort(t *testing.T) {
	codec := NewCodec()
	_, err := codec.Decrypt(make([]byte, MinFrameSize-1), func(KeyGeneration) (*SenderKey, bool) { return nil, false })
	assert.ErrorIs(t, err, ErrFrameTooShort)
}

func TestCodecGenerationRoundTripsAllValues(t *testing.T) {
	codec := NewCodec()
	for g := 0; g <= 255; g++ {
		gen := KeyGeneration(g)
		key := testKey(t, "alice", gen, byte(g))
		frame, err := codec.Encrypt([]byte("x"), key, gen)
		require.NoError(t, err)
		assert.Equal(t, byte(g), frame[0])

		got, err := codec.Decrypt(frame, func(lookup KeyGeneration) (*SenderKey, bool) {
			return key, lookup == gen
		})
		require.NoError(t, err)
		assert.Equal(t, []byte("x"), got)
	}
}

func TestPlaintextLen(t *testing.T) {
	assert.Equal(t, 0, PlaintextLen(MinFrameSize))
	assert.Equal(t, 10, PlaintextLen(MinFrameSize+10))
	assert.Equal(t, -1, PlaintextLen(MinFrameSize-1))
}

func TestBaselineScenario(t *testing.T) {
	// Spec §8 scenario 1: key 0x00..00, generation 42, fixed zero IV.
	codec := NewCodec()
	key := testKey(t, "alice", 42, 0x00)

	frame, err := codec.EncryptWithIV([]byte{0x01, 0x02, 0x03, 0x04}, key, 42, make([]byte, ivSize))
	require.NoError(t, err)
	assert.Equal(t, byte(42), frame[0])

	got, err := codec.Decrypt(frame, func(g KeyGeneration) (*SenderKey, bool) { return key, g == 42 })
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04}, got)
}
