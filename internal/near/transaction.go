package near

import (
	"crypto/sha256"
	"math/big"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
)

// DefaultGas is the prepaid gas attached to function calls (30 TGas).
const DefaultGas uint64 = 30_000_000_000_000

// Borsh tag of the FunctionCall variant of Action.
const actionFunctionCall byte = 2

// FunctionCall invokes MethodName on the receiver contract.
type FunctionCall struct {
	MethodName string
	Args       []byte
	Gas        uint64
	// Deposit is attached in yoctoNEAR; nil means zero.
	Deposit *big.Int
}

// Transaction is an unsigned transaction carrying FunctionCall actions.
type Transaction struct {
	SignerID   string
	PublicKey  PublicKey
	Nonce      uint64
	ReceiverID string
	BlockHash  [32]byte
	Actions    []FunctionCall
}

func (tx Transaction) encode(w *borshWriter) {
	w.string(tx.SignerID)
	w.u8(byte(tx.PublicKey.Type))
	w.fixed(tx.PublicKey.Data[:])
	w.u64(tx.Nonce)
	w.string(tx.ReceiverID)
	w.fixed(tx.BlockHash[:])
	w.u32(uint32(len(tx.Actions)))
	for _, action := range tx.Actions {
		w.u8(actionFunctionCall)
		w.string(action.MethodName)
		w.bytes(action.Args)
		w.u64(action.Gas)
		w.u128(action.Deposit)
	}
}

// Serialize returns the borsh encoding of tx.
func (tx Transaction) Serialize() ([]byte, error) {
	if err := ValidateAccountID(tx.SignerID); err != nil {
		return nil, errors.Wrap(err, "signer")
	}
	if err := ValidateAccountID(tx.ReceiverID); err != nil {
		return nil, errors.Wrap(err, "receiver")
	}
	if len(tx.Actions) == 0 {
		return nil, errors.New("transaction has no actions")
	}
	var w borshWriter
	tx.encode(&w)
	return w.result()
}

// SignedTransaction pairs a transaction with its ed25519 signature.
type SignedTransaction struct {
	Transaction Transaction
	Signature   []byte
	// Hash is sha256 of the serialized transaction, the value that was signed.
	Hash [32]byte
}

// HashString renders the transaction hash the way explorers show it.
func (s SignedTransaction) HashString() string {
	return base58.Encode(s.Hash[:])
}

// Serialize returns the borsh encoding expected by broadcast_tx_commit.
func (s SignedTransaction) Serialize() ([]byte, error) {
	var w borshWriter
	s.Transaction.encode(&w)
	w.u8(byte(KeyTypeED25519))
	w.fixed(s.Signature)
	return w.result()
}

// SignTransaction serializes, hashes and signs tx with key.
func SignTransaction(tx Transaction, key KeyPair) (SignedTransaction, error) {
	if tx.PublicKey != key.Public {
		return SignedTransaction{}, errors.New("transaction public key does not match signing key")
	}
	encoded, err := tx.Serialize()
	if err != nil {
		return SignedTransaction{}, err
	}
	hash := sha256.Sum256(encoded)
	return SignedTransaction{
		Transaction: tx,
		Signature:   key.Sign(hash[:]),
		Hash:        hash,
	}, nil
}
