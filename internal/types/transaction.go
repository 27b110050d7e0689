package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/aibtcc/aibtcc-go/internal/crypto"
	"github.com/aibtcc/aibtcc-go/pkg/util"
)

// AmountScale is the fixed number of fractional digits of every amount.
// The canonical string form (amount.StringFixed(AmountScale)) is what feeds
// hashes and stored rows, so binary floats never touch consensus data.
const AmountScale = 8

// Transaction is a value transfer (native or token) or a token-creation /
// reward credit. Zero values mark absent fields: an empty FromAddress is a
// reward transaction, TokenID 0 is a native transfer, an empty BlockHash
// means not yet mined.
type Transaction struct {
	FromAddress  string
	ToAddress    string
	Amount       decimal.Decimal
	Timestamp    int64 // milliseconds since epoch
	Signature    string
	PublicKey    string
	OriginTxHash string

	TokenID          int64
	TokenName        string
	TokenSymbol      string
	TokenTotalSupply decimal.Decimal

	// Set once mined.
	BlockHash    string
	IndexInBlock int

	Hash string
}

// NewTransfer builds an unsigned native or token transfer. The caller signs
// it before admission.
func NewTransfer(from, to string, amount decimal.Decimal, tokenID int64, originTxHash string, timestamp int64) *Transaction {
	tx := &Transaction{
		FromAddress:  from,
		ToAddress:    to,
		Amount:       amount,
		TokenID:      tokenID,
		OriginTxHash: originTxHash,
		Timestamp:    timestamp,
	}
	tx.Hash = tx.ComputeHash()
	return tx
}

// NewReward builds a coinbase-style reward transaction: no sender, no
// signature, no public key.
func NewReward(to string, amount decimal.Decimal, timestamp int64) *Transaction {
	tx := &Transaction{
		ToAddress: to,
		Amount:    amount,
		Timestamp: timestamp,
	}
	tx.Hash = tx.ComputeHash()
	return tx
}

// NewTokenCreation builds a token-creation transaction. Like a reward it has
// no sender; the amount is the supply credited to the creator.
func NewTokenCreation(creator string, tokenID int64, name, symbol string, totalSupply decimal.Decimal, timestamp int64) *Transaction {
	tx := &Transaction{
		ToAddress:        creator,
		Amount:           totalSupply,
		TokenID:          tokenID,
		TokenName:        name,
		TokenSymbol:      symbol,
		TokenTotalSupply: totalSupply,
		Timestamp:        timestamp,
	}
	tx.Hash = tx.ComputeHash()
	return tx
}

// IsReward reports whether the transaction has no sender (mining reward,
// genesis mint, token creation).
func (t *Transaction) IsReward() bool {
	return t.FromAddress == ""
}

// IsTokenCreation reports whether all token-creation fields are set.
func (t *Transaction) IsTokenCreation() bool {
	return t.TokenID != 0 && t.TokenName != "" && t.TokenSymbol != "" && t.TokenTotalSupply.IsPositive()
}

// IsTokenTransfer reports whether the transaction moves an existing token.
func (t *Transaction) IsTokenTransfer() bool {
	return t.TokenID != 0 && !t.IsTokenCreation()
}

// ComputeHash returns the canonical transaction hash: SHA-256 of the UTF-8
// JSON object over the fixed field order, absent fields omitted. Signature
// and public key are not part of the preimage, so signing never changes the
// hash.
func (t *Transaction) ComputeHash() string {
	var b bytes.Buffer
	b.WriteByte('{')
	first := true
	field := func(key, rawValue string) {
		if !first {
			b.WriteByte(',')
		}
		first = false
		b.WriteByte('"')
		b.WriteString(key)
		b.WriteString(`":`)
		b.WriteString(rawValue)
	}
	quoted := func(s string) string { return strconv.Quote(s) }

	if t.FromAddress != "" {
		field("from_address", quoted(t.FromAddress))
	}
	field("to_address", quoted(t.ToAddress))
	field("amount", quoted(t.Amount.StringFixed(AmountScale)))
	if t.TokenID != 0 {
		field("token_id", strconv.FormatInt(t.TokenID, 10))
	}
	if t.TokenName != "" {
		field("token_name", quoted(t.TokenName))
	}
	if t.TokenSymbol != "" {
		field("token_symbol", quoted(t.TokenSymbol))
	}
	if t.TokenTotalSupply.IsPositive() {
		field("token_total_supply", quoted(t.TokenTotalSupply.StringFixed(AmountScale)))
	}
	if t.OriginTxHash != "" {
		field("origin_transaction_hash", quoted(t.OriginTxHash))
	}
	field("timestamp", strconv.FormatInt(t.Timestamp, 10))
	b.WriteByte('}')

	return util.SHA256Hex(b.Bytes())
}

// Sign recomputes the hash, records the signer's public key, and stores the
// DER signature over the hash digest.
func (t *Transaction) Sign(kp *crypto.KeyPair) error {
	if t.IsReward() {
		return fmt.Errorf("reward transactions are not signed")
	}
	if kp.Address != t.FromAddress {
		return fmt.Errorf("key for %s cannot sign transaction from %s", kp.Address, t.FromAddress)
	}

	t.Hash = t.ComputeHash()
	sig, err := kp.Sign(t.Hash)
	if err != nil {
		return fmt.Errorf("sign transaction: %w", err)
	}
	t.PublicKey = kp.PublicKeyHex
	t.Signature = sig
	return nil
}

// IsValid reports whether the transaction is acceptable: rewards always are;
// anything else needs a well-formed public key whose derived address equals
// the sender, and a verifying signature over the transaction hash.
func (t *Transaction) IsValid() bool {
	if t.IsReward() {
		return true
	}
	if t.Signature == "" || t.PublicKey == "" {
		return false
	}
	derived, err := crypto.DeriveAddress(t.PublicKey)
	if err != nil {
		return false
	}
	if derived != t.FromAddress {
		return false
	}
	return crypto.Verify(t.PublicKey, t.Hash, t.Signature)
}

// txJSON is the wire representation. Pointer fields render as absent when
// nil, matching the canonical field presence rules.
type txJSON struct {
	FromAddress      *string `json:"from_address,omitempty"`
	ToAddress        string  `json:"to_address"`
	Amount           string  `json:"amount"`
	Timestamp        int64   `json:"timestamp"`
	Signature        *string `json:"signature,omitempty"`
	PublicKey        *string `json:"public_key,omitempty"`
	OriginTxHash     *string `json:"origin_transaction_hash,omitempty"`
	TokenID          *int64  `json:"token_id,omitempty"`
	TokenName        *string `json:"token_name,omitempty"`
	TokenSymbol      *string `json:"token_symbol,omitempty"`
	TokenTotalSupply *string `json:"token_total_supply,omitempty"`
	BlockHash        *string `json:"block_hash,omitempty"`
	IndexInBlock     *int    `json:"index_in_block,omitempty"`
	Hash             string  `json:"hash"`
}

func optStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// MarshalJSON renders the wire form with canonical 8-digit amounts.
func (t *Transaction) MarshalJSON() ([]byte, error) {
	out := txJSON{
		FromAddress:  optStr(t.FromAddress),
		ToAddress:    t.ToAddress,
		Amount:       t.Amount.StringFixed(AmountScale),
		Timestamp:    t.Timestamp,
		Signature:    optStr(t.Signature),
		PublicKey:    optStr(t.PublicKey),
		OriginTxHash: optStr(t.OriginTxHash),
		TokenName:    optStr(t.TokenName),
		TokenSymbol:  optStr(t.TokenSymbol),
		Hash:         t.Hash,
	}
	if t.TokenID != 0 {
		out.TokenID = &t.TokenID
	}
	if t.TokenTotalSupply.IsPositive() {
		s := t.TokenTotalSupply.StringFixed(AmountScale)
		out.TokenTotalSupply = &s
	}
	if t.BlockHash != "" {
		out.BlockHash = &t.BlockHash
		idx := t.IndexInBlock
		out.IndexInBlock = &idx
	}
	return json.Marshal(out)
}

// UnmarshalJSON parses the wire form. Amounts arrive as decimal strings;
// malformed decimals are an error, not a zero.
func (t *Transaction) UnmarshalJSON(data []byte) error {
	var in txJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	amount, err := decimal.NewFromString(in.Amount)
	if err != nil {
		return fmt.Errorf("parse amount %q: %w", in.Amount, err)
	}

	*t = Transaction{
		ToAddress: in.ToAddress,
		Amount:    amount,
		Timestamp: in.Timestamp,
		Hash:      in.Hash,
	}
	if in.FromAddress != nil {
		t.FromAddress = *in.FromAddress
	}
	if in.Signature != nil {
		t.Signature = *in.Signature
	}
	if in.PublicKey != nil {
		t.PublicKey = *in.PublicKey
	}
	if in.OriginTxHash != nil {
		t.OriginTxHash = *in.OriginTxHash
	}
	if in.TokenID != nil {
		t.TokenID = *in.TokenID
	}
	if in.TokenName != nil {
		t.TokenName = *in.TokenName
	}
	if in.TokenSymbol != nil {
		t.TokenSymbol = *in.TokenSymbol
	}
	if in.TokenTotalSupply != nil {
		supply, err := decimal.NewFromString(*in.TokenTotalSupply)
		if err != nil {
			return fmt.Errorf("parse token_total_supply %q: %w", *in.TokenTotalSupply, err)
		}
		t.TokenTotalSupply = supply
	}
	if in.BlockHash != nil {
		t.BlockHash = *in.BlockHash
	}
	if in.IndexInBlock != nil {
		t.IndexInBlock = *in.IndexInBlock
	}
	return nil
}
