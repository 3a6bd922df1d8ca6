package sframe

// KeyMaterialSize is the length in bytes of a sender key's raw secret.
const KeyMaterialSize = 32

// Secret wraps 32 bytes of symmetric key material. It forbids
// accidental disclosure through fmt/%v/%+v (GoString/String never
// print the bytes) and must be zeroed with Zero() once the owner is
// done with it — rotation eviction, participant removal, or session
// shutdown all call Zero() before releasing the storage.
type Secret struct {
	b [KeyMaterialSize]byte
}

// NewSecret copies material into a new Secret. The caller retains
// ownership of the input slice and should zero it if it was generated
// solely to seed this Secret.
func NewSecret(material []byte) (Secret, error) {
	if len(material) != KeyMaterialSize {
		return Secret{}, ErrKeyImportFailed
	}
	var s Secret
	copy(s.b[:], material)
	return s, nil
}

// Bytes returns the raw 32 bytes. Callers must not retain or mutate
// the returned slice; it aliases the Secret's internal array only for
// the duration of the call.
func (s *Secret) Bytes() []byte {
	return s.b[:]
}

// Export returns a fresh copy of the material, suitable for handing to
// a caller that will serialize it onto the signaling channel. The
// caller must zero the returned slice after use.
func (s *Secret) Export() []byte {
	out := make([]byte, KeyMaterialSize)
	copy(out, s.b[:])
	return out
}

// Zero overwrites the material with zeros. Safe to call repeatedly.
func (s *Secret) Zero() {
	for i := range s.b {
		s.b[i] = 0
	}
}

// String never prints key material.
func (s Secret) String() string {
	return "sframe.Secret(redacted)"
}

// GoString never prints key material; it is consulted by %#v.
func (s Secret) GoString() string {
	return "sframe.Secret(redacted)"
}

// ZeroBytes overwrites a byte slice in place. Used for one-shot
// exported blobs (e.g. the copy handed to a signaling message) once
// the caller is finished transmitting them.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
