package blockvalidator

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/timecoin/node/internal/bcerrors"
	"github.com/timecoin/node/internal/blockbuilder"
	"github.com/timecoin/node/internal/tsdc"
	"github.com/timecoin/node/internal/types"
)

const genesisTs = 1_733_011_200

func TestSlotTimestampAtHeight7(t *testing.T) {
	require.Equal(t, int64(1_733_015_400), tsdc.SlotTimestamp(genesisTs, 7))
}

func TestValidateRejectsWrongTimestamp(t *testing.T) {
	nodes := []types.MasternodeInfo{
		{Masternode: types.Masternode{Address: "10.0.0.1", Tier: types.TierGold}},
	}
	good := tsdc.SlotTimestamp(genesisTs, 7)
	b := blockbuilder.Build(blockbuilder.Input{
		Height:            7,
		PreviousHash:      types.ZeroHash,
		ActiveMasternodes: nodes,
		SlotTimestamp:     good,
	})

	exp := Expectation{
		Height:                 7,
		PreviousHash:           types.ZeroHash,
		SkipPreviousHash:       true,
		GenesisTimestamp:       genesisTs,
		Now:                    good,
		SkipTimestampTolerance: true,
		ActiveMasternodes:      nodes,
	}
	require.NoError(t, Validate(&b, exp))

	b.Header.Timestamp = good + 1
	b.InvalidateHash()
	require.ErrorIs(t, Validate(&b, exp), bcerrors.ErrInvalidTimestamp)
}

func TestValidateRejectsDuplicateTxids(t *testing.T) {
	nodes := []types.MasternodeInfo{
		{Masternode: types.Masternode{Address: "10.0.0.1", Tier: types.TierGold}},
	}
	tx := types.NewTransaction(
		[]types.TxInput{{PreviousOutput: types.OutPoint{Vout: 1}}},
		[]types.TxOutput{{Value: 10}},
	)
	good := tsdc.SlotTimestamp(genesisTs, 1)
	b := blockbuilder.Build(blockbuilder.Input{
		Height:            1,
		PreviousHash:      types.ZeroHash,
		FinalizedTxs:      []types.Transaction{*tx, *tx},
		ActiveMasternodes: nodes,
		SlotTimestamp:     good,
	})

	err := Validate(&b, Expectation{
		Height:                 1,
		PreviousHash:           types.ZeroHash,
		SkipPreviousHash:       true,
		GenesisTimestamp:       genesisTs,
		Now:                    good,
		SkipTimestampTolerance: true,
		ActiveMasternodes:      nodes,
	})
	require.ErrorIs(t, err, bcerrors.ErrInvalidBlock)
}
