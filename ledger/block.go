package ledger

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"lukechampine.com/blake3"
)

// =============================================================================
// BLOCK - A committed batch of transactions
// =============================================================================

// Block records the transactions admitted together, in admission order.
// Reverting a block undoes them newest first.
type Block struct {
	Height       uint64        `json:"height"`
	ID           string        `json:"id"`
	PreviousHash string        `json:"previousHash"`
	Hash         string        `json:"hash"`
	Transactions []Transaction `json:"transactions"`
	CommittedAt  time.Time     `json:"committedAt"`
}

// BlockHash chains a block to its predecessor over the transactions it
// carries and the accounts it wrote. ID and CommittedAt are not covered.
func BlockHash(previous string, height uint64, txs []Transaction, written []Account) string {
	h := blake3.New(32, nil)
	h.Write([]byte(previous))

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], height)
	h.Write(buf[:])

	for _, tx := range txs {
		h.Write(canonicalJSON(tx))
	}
	for _, acc := range written {
		data, _ := json.Marshal(acc)
		h.Write(data)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// EncodeBlock serializes a block for storage.
func EncodeBlock(b Block) ([]byte, error) {
	return json.Marshal(b)
}

// DecodeBlock is the inverse of EncodeBlock. Asset numbers are kept as
// json.Number so quantities survive the round trip exactly.
func DecodeBlock(data []byte) (Block, error) {
	var b Block
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&b); err != nil {
		return Block{}, fmt.Errorf("decode block: %w", err)
	}
	return b, nil
}
