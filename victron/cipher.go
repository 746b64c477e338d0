package victron

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"fmt"
)

// Nonce is the initial counter block for AES-CTR
type Nonce [aes.BlockSize]byte

// DeriveNonce builds the canonical nonce: IV counter little endian in bytes
// 0-1, everything else zero. Model id and readout type do not contribute.
func DeriveNonce(modelID uint16, readout ReadoutType, ivCounter uint16) Nonce {
	var n Nonce
	binary.LittleEndian.PutUint16(n[0:2], ivCounter)
	return n
}

// DeriveLegacyNonce builds the nonce of the legacy layout:
// model id (LE), readout type, IV counter (LE), then zeros
func DeriveLegacyNonce(modelID uint16, readout ReadoutType, ivCounter uint16) Nonce {
	var n Nonce
	binary.LittleEndian.PutUint16(n[0:2], modelID)
	n[2] = byte(readout)
	binary.LittleEndian.PutUint16(n[3:5], ivCounter)
	return n
}

// Decrypt runs AES-128 in counter mode starting at nonce. The output has the
// length of the input; there is no padding and no authentication, so a wrong
// key produces garbage rather than an error.
func Decrypt(key []byte, nonce Nonce, ciphertext []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrWrongKeyLength, KeySize, len(key))
	}
	if len(ciphertext) == 0 {
		return nil, ErrEmptyCiphertext
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailure, err)
	}

	out := make([]byte, len(ciphertext))
	cipher.NewCTR(block, nonce[:]).XORKeyStream(out, ciphertext)

	return out, nil
}
