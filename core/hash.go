package core

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ComputeInputBinding computes the value an encrypted bid input is bound to.
// The enclave checks it when verifying an input and the bid producer commits
// to it inside the proof, so an input cannot be replayed against another
// engine, auction, or bidder.
//
// Formula: keccak256(contract || uint64be(auction_id) || bidder)
func ComputeInputBinding(contract common.Address, auctionID uint64, bidder common.Address) [32]byte {
	var id [8]byte
	binary.BigEndian.PutUint64(id[:], auctionID)
	return crypto.Keccak256Hash(contract.Bytes(), id[:], bidder.Bytes())
}

// ComputeHandle derives a ciphertext handle from an operation tag, its
// operands and a fresh nonce.
//
// Formula: keccak256(op || operand_0 || ... || operand_n || nonce)
func ComputeHandle(op string, nonce []byte, operands ...Handle) Handle {
	parts := make([][]byte, 0, len(operands)+2)
	parts = append(parts, []byte(op))
	for i := range operands {
		parts = append(parts, operands[i][:])
	}
	parts = append(parts, nonce)
	return Handle(crypto.Keccak256Hash(parts...))
}
