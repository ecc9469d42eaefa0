// Package token implements the stateless share-token scheme: a time-bounded,
// single-user, read-only credential derived from the master secret. Nothing
// is ever stored server side; validity is fully determined by the timestamp
// embedded in the authenticated ciphertext.
package token

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"

	"github.com/jonboulle/clockwork"
	"golang.org/x/crypto/chacha20poly1305"

	"nuha.dev/tesou/internal/util"
)

// share tokens stay valid for two hours after issuance
const shareTokenDuration = 2 * 60 * 60

const payloadSize = 8 + 2 // unix seconds (LE u64) ++ user id (LE u16)

type Authority struct {
	key   [32]byte
	clock clockwork.Clock
}

func NewAuthority(masterSecret string, clock clockwork.Clock) *Authority {
	a := &Authority{clock: clock}
	a.key = deriveKey(masterSecret)
	return a
}

// Issue encrypts (now, userId) under a key derived from the master secret and
// returns the token as base64(nonce ++ ciphertext). The nonce is fresh per
// call; reusing one under the same key would break the scheme.
func (a *Authority) Issue(userId uint16) string {
	aead, err := chacha20poly1305.New(a.key[:])
	if err != nil {
		panic(err)
	}
	payload := make([]byte, payloadSize)
	binary.LittleEndian.PutUint64(payload, uint64(a.clock.Now().Unix()))
	binary.LittleEndian.PutUint16(payload[8:], userId)
	nonce := util.GenRandomBytes(chacha20poly1305.NonceSize)
	ciphered := aead.Seal(nonce, nonce, payload, nil)
	return base64.StdEncoding.EncodeToString(ciphered)
}

// Validate decodes and decrypts a share token. When expected is non-nil the
// embedded user id must match it. On failure ok is false and reason carries
// the user-visible explanation; validation is deterministic, so a failed
// token never succeeds on retry.
func (a *Authority) Validate(base64Token string, expected *uint16) (userId uint16, ok bool, reason string) {
	binaryToken, err := base64.StdEncoding.DecodeString(base64Token)
	if err != nil {
		return 0, false, "could not decode share token as base 64"
	}
	if len(binaryToken) < chacha20poly1305.NonceSize {
		return 0, false, "Wrong token!"
	}
	aead, err := chacha20poly1305.New(a.key[:])
	if err != nil {
		panic(err)
	}
	nonce := binaryToken[:chacha20poly1305.NonceSize]
	data, err := aead.Open(nil, nonce, binaryToken[chacha20poly1305.NonceSize:], nil)
	if err != nil {
		return 0, false, "could not decipher token data"
	}
	if len(data) < 8 {
		return 0, false, "could not extract time from data"
	}
	tokenTime := binary.LittleEndian.Uint64(data[:8])
	if len(data) != payloadSize {
		return 0, false, "could not extract user id from data"
	}
	userId = binary.LittleEndian.Uint16(data[8:])
	if uint64(a.clock.Now().Unix()) > tokenTime+shareTokenDuration {
		return 0, false, "token is expired"
	}
	if expected != nil && *expected != userId {
		return 0, false, "user ids don't match"
	}
	return userId, true, ""
}

// deriveKey turns the master secret into the symmetric key: SHA-256 of the
// secret, used directly as the ChaCha20-Poly1305 key.
func deriveKey(masterSecret string) [32]byte {
	return sha256.Sum256([]byte(masterSecret))
}
