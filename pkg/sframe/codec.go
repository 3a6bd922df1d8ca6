package sframe

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
)

// Wire frame layout: [generation:1][iv:12][ciphertext][tag:16].
const (
	generationSize = 1
	ivSize         = 12
	tagSize        = 16
	headerSize     = generationSize + ivSize
	// MinFrameSize is the smallest possible wire frame (empty plaintext).
	MinFrameSize = headerSize + tagSize
)

// KeyLookup resolves a key generation to a SenderKey for decryption.
// It returns ok=false if no key is known for that generation.
type KeyLookup func(generation KeyGeneration) (key *SenderKey, ok bool)

// Codec implements the per-frame AEAD transform (spec §4.1). It holds
// no state of its own: every call borrows the key material it is
// given for the duration of the call only.
type Codec struct{}

// NewCodec constructs a stateless Frame Codec.
func NewCodec() *Codec {
	return &Codec{}
}

// Encrypt seals plaintext under key at the given generation, producing
// a self-describing wire frame. It fails only if the IV generator
// fails; it never fails on plaintext contents or length, including
// empty plaintext.
func (c *Codec) Encrypt(plaintext []byte, key *SenderKey, generation KeyGeneration) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	frame := make([]byte, headerSize+len(plaintext)+tagSize)
	frame[0] = byte(generation)

	iv := frame[generationSize:headerSize]
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("sframe: generate iv: %w: %w", ErrRngFailure, err)
	}

	aead.Seal(frame[:headerSize], iv, plaintext, nil)
	return frame, nil
}

// EncryptWithIV behaves like Encrypt but uses the caller-supplied IV
// instead of drawing one from the RNG. It exists only as the
// deterministic test hook called out in spec scenario 1 (fixed
// all-zero IV) — production callers must use Encrypt.
func (c *Codec) EncryptWithIV(plaintext []byte, key *SenderKey, generation KeyGeneration, iv []byte) ([]byte, error) {
	if len(iv) != ivSize {
		return nil, fmt.Errorf("sframe: iv must be %d bytes", ivSize)
	}
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	frame := make([]byte, headerSize+len(plaintext)+tagSize)
	frame[0] = byte(generation)
	copy(frame[generationSize:headerSize], iv)

	aead.Seal(frame[:headerSize], iv, plaintext, nil)
	return frame, nil
}

// Decrypt reads the generation byte off wireFrame, resolves a key via
// lookup, and opens the AEAD payload. A frame shorter than MinFrameSize
// is rejected with ErrFrameTooShort (the media transform glue treats
// that case as an unencrypted pass-through instead of calling Decrypt
// at all — see internal/voice/frametransform.go). An unresolved
// generation is ErrUnknownGeneration; a bad tag is ErrAuthFailure.
func (c *Codec) Decrypt(wireFrame []byte, lookup KeyLookup) ([]byte, error) {
	if len(wireFrame) < MinFrameSize {
		return nil, ErrFrameTooShort
	}

	generation := KeyGeneration(wireFrame[0])
	key, ok := lookup(generation)
	if !ok {
		return nil, ErrUnknownGeneration
	}

	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	iv := wireFrame[generationSize:headerSize]
	ciphertext := wireFrame[headerSize:]

	plaintext, err := aead.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, ErrAuthFailure
	}
	return plaintext, nil
}

// PlaintextLen returns the plaintext length a wire frame of the given
// total length decodes to, or -1 if the frame is too short to be valid.
func PlaintextLen(wireFrameLen int) int {
	if wireFrameLen < MinFrameSize {
		return -1
	}
	return wireFrameLen - MinFrameSize
}

func newAEAD(key *SenderKey) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key.Material.Bytes())
	if err != nil {
		return nil, fmt.Errorf("sframe: new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("sframe: new gcm: %w", err)
	}
	return aead, nil
}
