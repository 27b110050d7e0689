package types

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/aibtcc/aibtcc-go/internal/merkle"
)

func testTxs(t *testing.T, n int) []*Transaction {
	t.Helper()
	txs := make([]*Transaction, n)
	for i := range txs {
		txs[i] = NewReward(strings.Repeat("a", 30), decimal.NewFromInt(int64(i+1)), 1700000000000+int64(i))
	}
	return txs
}

func TestNewBlockComputesDerivedFields(t *testing.T) {
	txs := testTxs(t, 3)
	b := NewBlock(1, "prevhash", 1700000000000, txs, 2)

	if b.MerkleRoot != merkle.Build(TransactionHashes(txs)).Root() {
		t.Error("merkle root not derived from the transaction set")
	}
	if b.Nonce != 0 {
		t.Errorf("initial nonce = %d, want 0", b.Nonce)
	}
	if b.Hash != b.ComputeHash() {
		t.Error("stored hash does not match recomputation")
	}
}

func TestMine(t *testing.T) {
	b := NewBlock(1, "prevhash", 1700000000000, testTxs(t, 2), 2)
	b.Mine()

	if !b.MeetsDifficulty() {
		t.Errorf("mined hash %s does not start with 2 zeroes", b.Hash)
	}
	if b.Hash != b.ComputeHash() {
		t.Error("mined hash does not match recomputation")
	}
}

func TestMineDifficultyZero(t *testing.T) {
	b := NewBlock(1, "prevhash", 1700000000000, testTxs(t, 1), 0)
	b.Mine()
	if b.Nonce != 0 {
		t.Errorf("difficulty 0 should accept the initial hash, nonce = %d", b.Nonce)
	}
}

func TestDeriveOriginTxHash(t *testing.T) {
	withOrigin := func(origin string) *Transaction {
		return NewTransfer(strings.Repeat("f", 30), strings.Repeat("a", 30), decimal.NewFromInt(1), 0, origin, 1700000000000)
	}
	reward := NewReward(strings.Repeat("m", 30), decimal.NewFromInt(100), 1700000000000)

	tests := []struct {
		name string
		txs  []*Transaction
		want string
	}{
		{"empty", nil, ""},
		{"last has origin", []*Transaction{reward, withOrigin("o1")}, "o1"},
		{"reward last, penultimate has origin", []*Transaction{withOrigin("o2"), reward}, "o2"},
		{"neither has origin", []*Transaction{withOrigin(""), reward}, ""},
		{"single reward", []*Transaction{reward}, ""},
	}
	for _, tt := range tests {
		if got := DeriveOriginTxHash(tt.txs); got != tt.want {
			t.Errorf("%s: DeriveOriginTxHash = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestHasValidTransactions(t *testing.T) {
	kp := testKeyPair(t)
	to := strings.Repeat("a", 30)

	tx := NewTransfer(kp.Address, to, decimal.NewFromInt(5), 0, "", 1700000000000)
	if err := tx.Sign(kp); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	reward := NewReward(to, decimal.NewFromInt(100), 1700000000001)

	good := NewBlock(1, "prev", 1700000000002, []*Transaction{tx, reward}, 1)
	if !good.HasValidTransactions() {
		t.Error("block with signed transfer and reward should validate")
	}

	// Tamper with a mined amount: the stored hash no longer recomputes.
	bad := NewBlock(1, "prev", 1700000000002, []*Transaction{tx, reward}, 1)
	bad.Transactions[0] = &Transaction{}
	*bad.Transactions[0] = *tx
	bad.Transactions[0].Amount = decimal.NewFromInt(5000)
	if bad.HasValidTransactions() {
		t.Error("tampered transaction passed validation")
	}

	// Unsigned non-reward transfer.
	unsigned := NewTransfer(kp.Address, to, decimal.NewFromInt(5), 0, "", 1700000000000)
	withUnsigned := NewBlock(1, "prev", 1700000000002, []*Transaction{unsigned}, 1)
	if withUnsigned.HasValidTransactions() {
		t.Error("unsigned transfer passed validation")
	}
}

func TestBlockHashCoversHeaderFields(t *testing.T) {
	txs := testTxs(t, 2)
	base := NewBlock(1, "prev", 1700000000000, txs, 1)

	prevChanged := NewBlock(1, "other", 1700000000000, txs, 1)
	if prevChanged.Hash == base.Hash {
		t.Error("previous hash not covered by the block hash")
	}

	tsChanged := NewBlock(1, "prev", 1700000000001, txs, 1)
	if tsChanged.Hash == base.Hash {
		t.Error("timestamp not covered by the block hash")
	}

	nonceChanged := NewBlock(1, "prev", 1700000000000, txs, 1)
	nonceChanged.Nonce = 7
	if nonceChanged.ComputeHash() == base.Hash {
		t.Error("nonce not covered by the block hash")
	}
}

func TestIsGenesisPrevHash(t *testing.T) {
	if !IsGenesisPrevHash("") || !IsGenesisPrevHash("0") {
		t.Error("both genesis marker forms must be accepted")
	}
	if IsGenesisPrevHash("00") || IsGenesisPrevHash("abc") {
		t.Error("non-marker values accepted as genesis")
	}
}

func TestBlockJSONRoundTrip(t *testing.T) {
	kp := testKeyPair(t)
	tx := NewTransfer(kp.Address, strings.Repeat("a", 30), decimal.NewFromInt(10), 0, "", 1700000000000)
	if err := tx.Sign(kp); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	reward := NewReward(strings.Repeat("m", 30), decimal.NewFromInt(100), 1700000000001)

	b := NewBlock(1, "prevhash", 1700000000002, []*Transaction{tx, reward}, 2)
	b.Mine()

	data, err := json.Marshal(b)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var back Block
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if back.Hash != b.Hash || back.ComputeHash() != b.Hash {
		t.Error("hash did not survive the round trip")
	}
	if back.MerkleRoot != b.MerkleRoot || back.Nonce != b.Nonce || back.Difficulty != b.Difficulty {
		t.Error("header fields did not survive the round trip")
	}
	if len(back.Transactions) != 2 || back.Transactions[0].Hash != tx.Hash {
		t.Error("transactions did not survive the round trip")
	}
	if !back.HasValidTransactions() {
		t.Error("round-tripped block fails transaction validation")
	}
}

func TestGenesisBlockJSONNullPrevHash(t *testing.T) {
	genesis := NewBlock(0, "", 1700000000000, testTxs(t, 1), 1)
	data, err := json.Marshal(genesis)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(data), `"previous_hash":null`) {
		t.Errorf("genesis previous_hash should serialize as null: %s", data)
	}

	var back Block
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if back.PreviousHash != "" {
		t.Errorf("null previous_hash should parse to empty, got %q", back.PreviousHash)
	}

	// The legacy "0" marker survives a round trip untouched.
	legacy := []byte(`{"index":0,"previous_hash":"0","timestamp":1,"difficulty":1,"nonce":0,"merkle_root":"m","origin_transaction_hash":null,"hash":"h","transactions":[]}`)
	var old Block
	if err := json.Unmarshal(legacy, &old); err != nil {
		t.Fatalf("Unmarshal legacy: %v", err)
	}
	if old.PreviousHash != "0" {
		t.Errorf("legacy marker rewritten to %q", old.PreviousHash)
	}
	if !IsGenesisPrevHash(old.PreviousHash) {
		t.Error("legacy marker not recognized as genesis")
	}
}
