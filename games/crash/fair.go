package crash

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strconv"
)

// hashBits is the number of leading digest bits used for the crash point.
const hashBits = 52

// GenerateSeed returns a fresh secret server seed: 32 CSPRNG bytes, hex encoded.
func GenerateSeed() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// HashSeed is the public commitment for a seed: hex SHA-256 of the seed string.
func HashSeed(seed string) string {
	h := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(h[:])
}

// Commit generates a secret seed and its commitment.
func Commit() (seed, seedHash string, err error) {
	seed, err = GenerateSeed()
	if err != nil {
		return "", "", err
	}
	return seed, HashSeed(seed), nil
}

// CrashPoint derives the crash multiplier of a round from its revealed inputs.
// The digest is HMAC-SHA256 keyed by serverSeed over "clientSeed:nonce:roundID".
func CrashPoint(serverSeed, clientSeed string, nonce int64, roundID string) float64 {
	mac := hmac.New(sha256.New, []byte(serverSeed))
	mac.Write([]byte(clientSeed + ":" + strconv.FormatInt(nonce, 10) + ":" + roundID))
	return crashFromDigest(mac.Sum(nil))
}

// crashFromDigest maps the first 52 bits of digest to a multiplier >= 1.00.
// Every operand is an integer below 2^53, so the float64 arithmetic is exact
// up to the final division.
func crashFromDigest(digest []byte) float64 {
	var v uint64
	for _, b := range digest[:7] {
		v = v<<8 | uint64(b)
	}
	h := float64(v >> (56 - hashBits))
	e := math.Exp2(hashBits)
	raw := (100*e - h) / (e - h)
	cents := math.Max(MinMultiplier*100, math.Floor(raw))
	return cents / 100
}

// Verify reports whether a revealed seed matches its commitment and yields
// the claimed crash point.
func Verify(serverSeed, seedHash, clientSeed string, nonce int64, roundID string, crashPoint float64) bool {
	if HashSeed(serverSeed) != seedHash {
		return false
	}
	return CrashPoint(serverSeed, clientSeed, nonce, roundID) == crashPoint
}
