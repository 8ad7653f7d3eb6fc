package crash

import (
	"math"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCrashPoint_Deterministic(t *testing.T) {
	c1 := CrashPoint("seed", "client", 1, "round1")
	c2 := CrashPoint("seed", "client", 1, "round1")
	assert.Equal(t, math.Float64bits(c1), math.Float64bits(c2))

	for i := int64(0); i < 100; i++ {
		a := CrashPoint("serverSeed", "clientSeed", i, "round1")
		b := CrashPoint("serverSeed", "clientSeed", i, "round1")
		require.Equal(t, math.Float64bits(a), math.Float64bits(b), "nonce %d", i)
	}
}

func TestCrashPoint_NonceChangesOutput(t *testing.T) {
	assert.NotEqual(t, CrashPoint("serverSeed", "clientSeed", 1, "round1"), CrashPoint("serverSeed", "clientSeed", 2, "round1"))

	// Adjacent nonces collide only when both land on the same 2-decimal value,
	// which the skewed distribution makes common near 1.00 but still rare overall.
	const n = 2000
	same := 0
	prev := CrashPoint("serverSeed", "clientSeed", 0, "round1")
	for i := int64(1); i <= n; i++ {
		cur := CrashPoint("serverSeed", "clientSeed", i, "round1")
		if cur == prev {
			same++
		}
		prev = cur
	}
	if rate := float64(same) / n; rate > 0.05 {
		t.Errorf("adjacent nonce collision rate %.4f want <= 0.05", rate)
	}
}

func TestCrashPoint_RangeAndPrecision(t *testing.T) {
	for i := int64(0); i < 5000; i++ {
		cp := CrashPoint("seed-"+strconv.FormatInt(i%7, 10), "client", i, "round-"+strconv.FormatInt(i, 10))
		require.GreaterOrEqual(t, cp, MinMultiplier)
		cents := cp * 100
		require.InDelta(t, math.Round(cents), cents, 1e-6, "crash point %v has more than 2 decimals", cp)
		require.Equal(t, cp, Round2(cp))
	}
}

func TestCrashFromDigest_Bounds(t *testing.T) {
	zero := make([]byte, 32)
	assert.Equal(t, 1.00, crashFromDigest(zero))

	// h = 2^51: raw = (100e - e/2) / (e/2) = 199
	half := make([]byte, 32)
	half[0] = 0x80
	assert.Equal(t, 1.99, crashFromDigest(half))

	// Bits past the first 52 are ignored.
	noisy := make([]byte, 32)
	noisy[0] = 0x80
	noisy[6] = 0x0f
	noisy[7] = 0xff
	assert.Equal(t, 1.99, crashFromDigest(noisy))

	// Largest h: 2^52-1 => raw = 100e - h, a huge but finite multiplier.
	max := make([]byte, 32)
	for i := 0; i < 7; i++ {
		max[i] = 0xff
	}
	cp := crashFromDigest(max)
	assert.False(t, math.IsInf(cp, 0))
	assert.Greater(t, cp, 1e10)
}

func TestCrashPoint_Distribution(t *testing.T) {
	// P(crash < x) = 1 - 1/x for the 1/(1-u) shape before flooring.
	const rounds = 100_000
	below2 := 0
	for i := int64(0); i < rounds; i++ {
		if CrashPoint("dist-seed", "client", i, "r") < 2 {
			below2++
		}
	}
	if p := float64(below2) / rounds; p < 0.48 || p > 0.52 {
		t.Errorf("P(crash < 2) = %.4f want ~0.50", p)
	}
}

func TestCommitAndVerify(t *testing.T) {
	seed, hash, err := Commit()
	require.NoError(t, err)
	assert.Len(t, seed, 64)
	assert.Len(t, hash, 64)
	assert.Equal(t, HashSeed(seed), hash)

	other, _, err := Commit()
	require.NoError(t, err)
	assert.NotEqual(t, seed, other)

	cp := CrashPoint(seed, "client", 7, "round-7")
	assert.True(t, Verify(seed, hash, "client", 7, "round-7", cp))
	assert.False(t, Verify(other, hash, "client", 7, "round-7", cp), "seed must match commitment")
	assert.False(t, Verify(seed, hash, "client", 8, "round-7", cp+0.01))
}

func TestHashSeed_Known(t *testing.T) {
	// sha256("seed")
	assert.Equal(t, "19b25856e1c150ca834cffc8b59b23adbd0ec0389e58eb22b3b64768098d002b", HashSeed("seed"))
}

func TestCrashPoint_KnownVectors(t *testing.T) {
	tests := []struct {
		serverSeed, clientSeed string
		nonce                  int64
		roundID                string
		want                   float64
	}{
		{"seed", "client", 1, "round1", 3.31},
		{"serverSeed", "clientSeed", 1, "round1", 37.67},
		{"serverSeed", "clientSeed", 2, "round1", 2.29},
	}
	for _, tt := range tests {
		got := CrashPoint(tt.serverSeed, tt.clientSeed, tt.nonce, tt.roundID)
		assert.Equal(t, tt.want, got, "%s/%s/%d/%s", tt.serverSeed, tt.clientSeed, tt.nonce, tt.roundID)
	}
}
