// Package zkmpt encodes Ethereum Merkle-Patricia-Trie modification proofs
// as flat witness traces checked by local algebraic assertions.
//
// A trace is a sequence of fixed-width byte rows, one block per trie node
// on the path from the root to the modified account or storage slot,
// covering the state before and after a single modification. Package
// witness holds the row format and the trace container, package rlc the
// random-linear-combination folds every assertion is phrased in, package
// table the membership oracles (byte ranges, multiplier powers, keccak
// relation), and package circuit the assertions themselves together with
// the sequential assignment pass deriving a satisfying trace from raw
// witness bytes.
//
// Supported modifications:
//   - nonce, balance, code hash
//   - storage slot write, creation and deletion
//   - account creation and deletion
//   - account non-existence
package zkmpt
