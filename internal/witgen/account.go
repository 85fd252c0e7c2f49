package witgen

import (
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"
)

// Account is the four-field state object stored under an address.
type Account struct {
	Nonce       uint64
	Balance     *big.Int
	StorageRoot [32]byte
	CodeHash    [32]byte
}

type accountRLP struct {
	Nonce    uint64
	Balance  *big.Int
	Root     []byte
	CodeHash []byte
}

// Encode returns the RLP encoding of the account, the payload stored in
// its leaf.
func (a Account) Encode() []byte {
	balance := a.Balance
	if balance == nil {
		balance = new(big.Int)
	}
	enc, err := rlp.EncodeToBytes(accountRLP{
		Nonce:    a.Nonce,
		Balance:  balance,
		Root:     a.StorageRoot[:],
		CodeHash: a.CodeHash[:],
	})
	if err != nil {
		panic(err)
	}
	return enc
}

// EncodeValue returns the RLP encoding of a storage slot value, the
// payload stored in a storage leaf.
func EncodeValue(v []byte) []byte {
	enc, err := rlp.EncodeToBytes(v)
	if err != nil {
		panic(err)
	}
	return enc
}
