package core

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) (*secp256k1.PrivateKey, string, string) {
	t.Helper()
	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	pub := priv.PubKey()
	return priv, hex.EncodeToString(pub.SerializeCompressed()), AddressFromPublicKey(pub)
}

func mustReward(t *testing.T, index uint64) *Transaction {
	t.Helper()
	_, _, addr := testKey(t)
	tx, err := NewRewardTransaction(addr, Coins(50), index, 1_700_000_000_000+int64(index))
	require.NoError(t, err)
	return tx
}

func TestCanonicalJSONSortsKeysAndKeepsNumbers(t *testing.T) {
	in := map[string]any{
		"b": 1,
		"a": map[string]any{"z": "<x>", "y": json.Number("1.50")},
	}
	out, err := CanonicalJSON(in)
	require.NoError(t, err)
	assert.Equal(t, `{"a":{"y":1.50,"z":"<x>"},"b":1}`, string(out))
}

func TestAmountFormattingAndParsing(t *testing.T) {
	assert.Equal(t, "50.00000000", Coins(50).String())

	cases := map[string]Amount{
		"12":         Coins(12),
		"0.5":        50_000_000,
		"3.25000000": 325_000_000,
		"0.00000001": 1,
	}
	for in, want := range cases {
		got, err := ParseAmount(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, bad := range []string{"", "-1", "1e5", "1.", ".5", "0.000000001", "abc"} {
		_, err := ParseAmount(bad)
		assert.ErrorIs(t, err, ErrValidation, bad)
	}

	_, err := ParseAmount("999999999999999999999")
	assert.Error(t, err)
}

func TestAmountJSONAcceptsStringAndNumber(t *testing.T) {
	var a Amount
	require.NoError(t, json.Unmarshal([]byte(`"1.25"`), &a))
	assert.Equal(t, Amount(125_000_000), a)
	require.NoError(t, json.Unmarshal([]byte(`2`), &a))
	assert.Equal(t, Coins(2), a)

	out, err := json.Marshal(Coins(3))
	require.NoError(t, err)
	assert.Equal(t, `"3.00000000"`, string(out))
}

func TestAmountOverflowIsRejected(t *testing.T) {
	_, err := SumAmounts(Amount(^uint64(0)), 1)
	assert.ErrorIs(t, err, ErrAmountOverflow)
}

func TestPayloadLimits(t *testing.T) {
	_, err := NormalizePayload(map[string]any{"": 1})
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = NormalizePayload(map[string]any{strings.Repeat("k", 65): 1})
	assert.ErrorIs(t, err, ErrInvalidPayload)

	deep := map[string]any{"a": map[string]any{"b": map[string]any{"c": map[string]any{"d": map[string]any{"e": 1}}}}}
	_, err = NormalizePayload(deep)
	assert.ErrorIs(t, err, ErrInvalidPayload)

	_, err = NormalizePayload(map[string]any{"big": strings.Repeat("x", 17<<10)})
	assert.ErrorIs(t, err, ErrInvalidPayload)

	ok, err := NormalizePayload(map[string]any{"n": 3, "f": 0.25, "list": []any{"x", true, nil}})
	require.NoError(t, err)
	assert.Equal(t, json.Number("3"), ok["n"])
}

func TestTxIDStableAcrossJSONRoundTrip(t *testing.T) {
	data, err := NormalizePayload(map[string]any{"score": 4.5, "count": 7})
	require.NoError(t, err)
	_, _, sender := testKey(t)
	_, _, recipient := testKey(t)

	tx := NewTransferTransaction(sender, nil, recipient, Coins(1), 0, data, 1_700_000_000_123)
	require.NoError(t, tx.Finalize())

	raw, err := json.Marshal(tx)
	require.NoError(t, err)
	var decoded Transaction
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.NoError(t, decoded.VerifyID())
	assert.Equal(t, tx.TxID, decoded.TxID)
}

func TestVerifyIDDetectsTampering(t *testing.T) {
	tx := mustReward(t, 1)
	require.NoError(t, tx.VerifyID())

	tx.Outputs[0].Amount = Coins(51)
	assert.ErrorIs(t, tx.VerifyID(), ErrTxIDMismatch)
}

func TestRewardIDsDifferPerHeight(t *testing.T) {
	_, _, addr := testKey(t)
	a, err := NewRewardTransaction(addr, Coins(50), 1, 1000)
	require.NoError(t, err)
	b, err := NewRewardTransaction(addr, Coins(50), 2, 1000)
	require.NoError(t, err)
	assert.NotEqual(t, a.TxID, b.TxID)
}

func TestCheckStructure(t *testing.T) {
	_, _, addr := testKey(t)

	tx := &Transaction{Type: "BOGUS", Outputs: []TxOutput{{Address: addr}}}
	assert.ErrorIs(t, tx.CheckStructure(), ErrMalformedTx)

	tx = &Transaction{Type: TxTransfer}
	assert.ErrorIs(t, tx.CheckStructure(), ErrMalformedTx)

	tx = &Transaction{Type: TxTransfer, Outputs: []TxOutput{{Address: "nothex"}}}
	assert.ErrorIs(t, tx.CheckStructure(), ErrInvalidAddress)

	tx = &Transaction{Type: TxReward, Inputs: []TxInput{{TxID: ZeroHash}}, Outputs: []TxOutput{{Address: addr}}}
	assert.ErrorIs(t, tx.CheckStructure(), ErrMalformedTx)

	tx = &Transaction{Type: TxTransfer, Inputs: []TxInput{{TxID: "short"}}, Outputs: []TxOutput{{Address: addr}}}
	assert.ErrorIs(t, tx.CheckStructure(), ErrMalformedTx)

	tx = &Transaction{Type: TxMemory, Outputs: []TxOutput{{Address: addr}}, SenderAddress: addr}
	assert.NoError(t, tx.CheckStructure())
}

func TestSignVerifyFailsClosed(t *testing.T) {
	priv, pubHex, _ := testKey(t)
	_, otherPub, _ := testKey(t)
	payload := []byte(`{"hello":"world"}`)

	sig := Sign(priv, payload)
	assert.Equal(t, sig, Sign(priv, payload), "signatures are deterministic")
	assert.True(t, Verify(pubHex, payload, sig))

	assert.False(t, Verify(otherPub, payload, sig))
	assert.False(t, Verify(pubHex, []byte(`{"hello":"there"}`), sig))
	assert.False(t, Verify("", payload, sig))
	assert.False(t, Verify(pubHex, payload, ""))
	assert.False(t, Verify(pubHex, nil, sig))
	assert.False(t, Verify("zz", payload, sig))
	assert.False(t, Verify(pubHex, payload, "3006020101020101"))
	assert.False(t, Verify("02"+strings.Repeat("ff", 32), payload, sig))
}

func TestAddressDerivation(t *testing.T) {
	_, pubHex, addr := testKey(t)
	assert.Len(t, addr, AddressLen)
	assert.NoError(t, ValidateAddress(addr))

	derived, err := AddressFromPublicKeyHex(pubHex)
	require.NoError(t, err)
	assert.Equal(t, addr, derived)

	_, err = AddressFromPublicKeyHex("abcd")
	assert.ErrorIs(t, err, ErrInvalidKey)
	assert.ErrorIs(t, ValidateAddress(strings.ToUpper(addr)), ErrInvalidAddress)
}

func TestMerkleRoot(t *testing.T) {
	assert.Equal(t, ZeroHash, MerkleRootFromIDs(nil))

	a := HashHex([]byte("a"))
	b := HashHex([]byte("b"))
	c := HashHex([]byte("c"))

	assert.Equal(t, HashHex([]byte(a+a)), MerkleRootFromIDs([]string{a}))
	assert.Equal(t, HashHex([]byte(a+b)), MerkleRootFromIDs([]string{a, b}))

	ab := HashHex([]byte(a + b))
	cc := HashHex([]byte(c + c))
	assert.Equal(t, HashHex([]byte(ab+cc)), MerkleRootFromIDs([]string{a, b, c}))

	// Order matters.
	assert.NotEqual(t, MerkleRootFromIDs([]string{a, b}), MerkleRootFromIDs([]string{b, a}))
}

func TestMeetsDifficulty(t *testing.T) {
	assert.True(t, MeetsDifficulty("00ab", 2))
	assert.False(t, MeetsDifficulty("0ab0", 2))
	assert.True(t, MeetsDifficulty("abcd", 0))
	assert.False(t, MeetsDifficulty("00", 3))
}

func buildChild(t *testing.T, prev *Block, difficulty int, txs ...*Transaction) *Block {
	t.Helper()
	b := &Block{
		Header: BlockHeader{
			Version:      prev.Header.Version,
			Index:        prev.Header.Index + 1,
			PreviousHash: prev.Hash,
			Timestamp:    prev.Header.Timestamp + 1000,
			Difficulty:   difficulty,
			MerkleRoot:   MerkleRoot(txs),
		},
		Transactions: txs,
	}
	require.NoError(t, Seal(context.Background(), b, 1<<22))
	return b
}

func TestSealMeetsDifficultyAndVerifies(t *testing.T) {
	genesis, err := NewGenesisBlock()
	require.NoError(t, err)
	require.NoError(t, VerifyBlock(genesis, nil))

	block := buildChild(t, genesis, 2, mustReward(t, 1))
	assert.True(t, strings.HasPrefix(block.Hash, "00"))
	hash, err := block.ComputeHash()
	require.NoError(t, err)
	assert.Equal(t, hash, block.Hash, "template hash matches full encoding")
	assert.NoError(t, VerifyBlock(block, genesis))
	assert.True(t, IsBlockValid(block, genesis))
}

func TestSealTemplateIgnoresPayloadNonceKey(t *testing.T) {
	genesis, err := NewGenesisBlock()
	require.NoError(t, err)
	_, _, addr := testKey(t)
	data, err := NormalizePayload(map[string]any{"nonce": 99})
	require.NoError(t, err)
	tx := NewMemoryTransaction(addr, data, 5)
	require.NoError(t, tx.Finalize())

	block := buildChild(t, genesis, 1, mustReward(t, 1), tx)
	assert.NoError(t, VerifyBlock(block, genesis))
}

func TestSealExhaustedAndCancelled(t *testing.T) {
	genesis, err := NewGenesisBlock()
	require.NoError(t, err)
	b := &Block{
		Header: BlockHeader{
			Index:        1,
			PreviousHash: genesis.Hash,
			Difficulty:   64,
			MerkleRoot:   ZeroHash,
		},
	}
	err = Seal(context.Background(), b, 10)
	assert.ErrorIs(t, err, ErrSealExhausted)
	assert.Empty(t, b.Hash)
	assert.Zero(t, b.Header.Nonce)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err = Seal(ctx, b, ^uint64(0))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Empty(t, b.Hash)
}

func TestVerifyBlockDetectsTampering(t *testing.T) {
	genesis, err := NewGenesisBlock()
	require.NoError(t, err)
	fresh := func() *Block { return buildChild(t, genesis, 1, mustReward(t, 1)) }

	b := fresh()
	b.Transactions[0].Outputs[0].Amount = Coins(1000)
	assert.ErrorIs(t, VerifyBlock(b, genesis), ErrInvalidBlock)

	b = fresh()
	b.Header.MerkleRoot = ZeroHash
	assert.ErrorIs(t, VerifyBlock(b, genesis), ErrInvalidBlock)

	b = fresh()
	b.Header.PreviousHash = ZeroHash
	assert.ErrorIs(t, VerifyBlock(b, genesis), ErrInvalidBlock)

	b = fresh()
	b.Header.Index = 5
	assert.ErrorIs(t, VerifyBlock(b, genesis), ErrInvalidBlock)

	b = fresh()
	b.Hash = strings.Repeat("0", 64)
	assert.ErrorIs(t, VerifyBlock(b, genesis), ErrInvalidBlock)

	// Rehashed with a forged merkle root still fails the root check.
	b = fresh()
	b.Transactions[0].Outputs[0].Amount = Coins(1000)
	require.NoError(t, b.Transactions[0].Finalize())
	b.Hash, err = b.ComputeHash()
	require.NoError(t, err)
	assert.ErrorIs(t, VerifyBlock(b, genesis), ErrValidation)

	assert.ErrorIs(t, VerifyBlock(nil, genesis), ErrInvalidBlock)
}

func TestVerifyBlockChecksRewardPlacement(t *testing.T) {
	genesis, err := NewGenesisBlock()
	require.NoError(t, err)
	_, _, addr := testKey(t)
	memory := NewMemoryTransaction(addr, nil, 7)
	require.NoError(t, memory.Finalize())

	noReward := buildChild(t, genesis, 1, memory)
	assert.ErrorIs(t, VerifyBlock(noReward, genesis), ErrInvalidBlock)

	empty := buildChild(t, genesis, 1)
	assert.ErrorIs(t, VerifyBlock(empty, genesis), ErrInvalidBlock)

	secondReward := buildChild(t, genesis, 1, mustReward(t, 1), mustReward(t, 2))
	assert.ErrorIs(t, VerifyBlock(secondReward, genesis), ErrInvalidBlock)

	rewardLast := buildChild(t, genesis, 1, memory, mustReward(t, 1))
	assert.ErrorIs(t, VerifyBlock(rewardLast, genesis), ErrInvalidBlock)

	ok := buildChild(t, genesis, 1, mustReward(t, 1), memory)
	assert.NoError(t, VerifyBlock(ok, genesis))
}
