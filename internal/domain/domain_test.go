package domain

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentHash(t *testing.T) {
	text := "QmWbpCUwQ8WK3jhmVy1Q5y1vXcTCfV5UyRBq8PjzcJxZW3"
	assert.Equal(t, crypto.Keccak256Hash([]byte(text)).Hex(), ContentHash(text))

	hexID := "0xABCD"
	assert.Equal(t, crypto.Keccak256Hash([]byte{0xab, 0xcd}).Hex(), ContentHash(hexID))

	// Odd-length hex cannot be decoded and is hashed as text.
	assert.Equal(t, crypto.Keccak256Hash([]byte("0xabc")).Hex(), ContentHash("0xabc"))

	p := Proposal{ID: text}
	assert.Equal(t, ContentHash(text), p.ContentHash())
	assert.True(t, SameHash(p.ContentHash(), Strip0x(p.ContentHash())))
}

func TestProposalWindow(t *testing.T) {
	start := time.Date(2023, 4, 13, 0, 0, 0, 0, time.UTC)
	p := Proposal{Start: start, End: start.Add(5 * 24 * time.Hour)}

	assert.False(t, p.IsOpen(start.Add(-time.Second)))
	assert.True(t, p.IsOpen(start))
	assert.True(t, p.IsOpen(p.End))
	assert.False(t, p.IsClosed(p.End))
	assert.True(t, p.IsClosed(p.End.Add(time.Second)))
}

func TestPriceOutcomeString(t *testing.T) {
	for _, o := range []PriceOutcome{Priced(1.25), Priced(0), Missing("no coin"), Errored("500")} {
		got, err := ParsePriceOutcome(o.String())
		require.NoError(t, err)
		assert.Equal(t, o.Status, got.Status)
		assert.Equal(t, o.Value, got.Value)
	}
	assert.Equal(t, "MISSING", Missing("").String())
	assert.Equal(t, "ERROR", Errored("").String())

	_, err := ParsePriceOutcome("n/a")
	assert.Error(t, err)
}

func TestParseEvents(t *testing.T) {
	token := common.HexToAddress("0xD533a949740bb3306d119CC777fa900bA034cd52")
	gauge := common.HexToAddress("0xbFcF63294aD7105dEa65aA58F8AE5BE2D9d0952A")

	v1, err := ParseV1(EventRecord{
		Args: []EventArg{
			{Name: V1ArgProposal, Value: "ab12"},
			{Name: V1ArgToken, Value: token.Hex()},
			{Name: V1ArgAmount, Value: "1000000000000000000"},
			{Name: V1ArgChoiceIndex, Value: "3"},
		},
		TxHash:      "0x01",
		LogIndex:    4,
		BlockNumber: 13_300_000,
	})
	require.NoError(t, err)
	assert.Equal(t, "ab12", v1.ProposalHash)
	assert.Equal(t, 3, v1.ChoiceIndex)
	assert.Equal(t, token, v1.Common().Token)
	assert.Equal(t, "1000000000000000000", v1.Deposit.Amount.String())
	assert.Equal(t, uint(4), v1.Deposit.LogIndex)
	assert.Equal(t, 1, v1.Version())

	v2, err := ParseV2(EventRecord{
		Args: []EventArg{
			{Name: V2ArgRound, Value: "60"},
			{Name: V2ArgGauge, Value: gauge.Hex()},
			{Name: V2ArgToken, Value: token.Hex()},
			{Name: V2ArgAmount, Value: "5"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, Round(60), v2.Round)
	assert.Equal(t, gauge, v2.Gauge)
	assert.Equal(t, 2, v2.Version())

	_, err = ParseV2(EventRecord{Args: []EventArg{
		{Name: V2ArgRound, Value: "60"},
		{Name: V2ArgGauge, Value: "not-an-address"},
		{Name: V2ArgToken, Value: token.Hex()},
		{Name: V2ArgAmount, Value: "5"},
	}})
	assert.Error(t, err)

	_, err = ParseV1(EventRecord{Args: []EventArg{
		{Name: V1ArgToken, Value: token.Hex()},
		{Name: V1ArgAmount, Value: "1.5"},
	}})
	assert.Error(t, err)
}
