package permissionless

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// SignMessage signs an EIP-191 personal message with the provided private key.
// The recovery id is shifted to 27/28 as on-chain ecrecover expects.
func SignMessage(privateKey *ecdsa.PrivateKey, message []byte) ([]byte, error) {
	signature, err := crypto.Sign(accounts.TextHash(message), privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign message: %w", err)
	}
	signature[crypto.RecoveryIDOffset] += 27
	return signature, nil
}

// RecoverMessageSigner returns the address that produced a SignMessage signature.
func RecoverMessageSigner(message []byte, signature []byte) (common.Address, error) {
	if len(signature) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("invalid signature length: %d", len(signature))
	}
	sig := make([]byte, crypto.SignatureLength)
	copy(sig, signature)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash(message), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// SignUserOp hashes the user operation for its EntryPoint and signs the hash
// as a personal message, which is what owner-validated accounts verify.
func SignUserOp(userOp *UserOperation, entrypoint common.Address, chainId *big.Int, privateKey *ecdsa.PrivateKey) ([]byte, common.Hash, error) {
	hash, err := GetUserOpHash(userOp, entrypoint, chainId)
	if err != nil {
		return nil, common.Hash{}, err
	}
	sig, err := SignMessage(privateKey, hash.Bytes())
	if err != nil {
		return nil, common.Hash{}, err
	}
	return sig, hash, nil
}
