package tsdc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/timecoin/node/internal/cryptoutil"
	"github.com/timecoin/node/internal/types"
)

// Two independent VRF evaluations over the same (key, height, prevHash)
// must agree exactly, and must differ when either input changes.
func TestVRFDeterminism(t *testing.T) {
	_, sk := cryptoutil.GenerateVRFKeyPair(nil)
	require.NotEmpty(t, sk)

	var prevHash types.Hash256
	input := cryptoutil.VRFInput(100, prevHash)

	out1 := cryptoutil.GenerateBlockVRF(sk, input)
	out2 := cryptoutil.GenerateBlockVRF(sk, input)
	require.Equal(t, out1.Proof, out2.Proof)
	require.Equal(t, out1.Output, out2.Output)
	require.Equal(t, out1.Score, out2.Score)

	otherHeight := cryptoutil.GenerateBlockVRF(sk, cryptoutil.VRFInput(101, prevHash))
	require.NotEqual(t, out1.Output, otherHeight.Output)

	var otherPrev types.Hash256
	otherPrev[0] = 1
	otherPrevOut := cryptoutil.GenerateBlockVRF(sk, cryptoutil.VRFInput(100, otherPrev))
	require.NotEqual(t, out1.Output, otherPrevOut.Output)
}

func TestRoundPrepareAndPrecommitThresholds(t *testing.T) {
	var blockHash types.Hash256
	blockHash[0] = 9

	r := NewRound(blockHash, 42, 1000)

	// 5 of 10 validators at weight 1000 each: 5000/10000 = 50%, below 51%.
	for i := 0; i < 5; i++ {
		_, crossed := r.AddPrepareVote(string(rune('a'+i)), 1000, 10000)
		require.False(t, crossed)
	}
	_, crossed := r.AddPrepareVote("f", 1000, 10000)
	require.True(t, crossed) // 6000/10000 = 60% >= 51%

	for i := 0; i < 6; i++ {
		finalized, proof := r.AddPrecommitVote(string(rune('a'+i)), []byte{byte(i)}, 1000, 10000)
		require.False(t, finalized) // 6000/10000 = 60% < 67%, not yet
		require.Nil(t, proof)
	}
	require.False(t, r.IsFinalized())

	finalized, proof := r.AddPrecommitVote("g", []byte{7}, 1000, 10000)
	require.True(t, finalized) // 7000/10000 = 70% >= 67%
	require.NotNil(t, proof)
	require.Equal(t, 7, proof.SignerCount)
	require.Equal(t, uint64(42), proof.Height)
}

func TestRoundFallbackUnilateralForSmallValidatorSet(t *testing.T) {
	var blockHash types.Hash256
	blockHash[0] = 3
	r := NewRound(blockHash, 1, 0)

	require.False(t, r.ShouldFallbackUnilateral(10, 30e9, 2))

	r.AddPrepareVote("only", 1, 1)
	require.True(t, r.ShouldFallbackUnilateral(31, types.ConsensusTimeoutNormal, 1))
}
