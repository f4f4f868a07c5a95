package chain

import (
	"crypto/ecdsa"
	"strings"

	"github.com/centrifuge/go-substrate-rpc-client/v4/signature"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	xerrors "github.com/kapilsinha/privadex/internal/errors"
)

// Signer holds the worker's signing material for both chain families. All
// workers in a pool share the same escrow keys; signatures over a fixed
// payload and nonce are what make overlapping lease holders safe.
type Signer struct {
	evmKey     *ecdsa.PrivateKey
	evmAddress EthAddress

	substrateKeyring signature.KeyringPair
	substrateAddress SubstrateAddress
}

// NewSigner builds a signer from a hex-encoded secp256k1 private key and a
// Substrate secret URI (seed phrase or //-derivation).
func NewSigner(evmKeyHex, substrateSecret string, ss58Network uint16) (*Signer, error) {
	s := &Signer{}

	if trimmed := strings.TrimPrefix(strings.TrimSpace(evmKeyHex), "0x"); trimmed != "" {
		key, err := gethcrypto.HexToECDSA(trimmed)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "parse EVM signer key")
		}
		s.evmKey = key
		copy(s.evmAddress[:], gethcrypto.PubkeyToAddress(key.PublicKey).Bytes())
	}

	if secret := strings.TrimSpace(substrateSecret); secret != "" {
		pair, err := signature.KeyringPairFromSecret(secret, ss58Network)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "parse Substrate signer secret")
		}
		s.substrateKeyring = pair
		copy(s.substrateAddress[:], pair.PublicKey)
	}

	if s.evmKey == nil && len(s.substrateKeyring.PublicKey) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "signer needs at least one key")
	}
	return s, nil
}

// EVMKey returns the secp256k1 key, or false when not configured.
func (s *Signer) EVMKey() (*ecdsa.PrivateKey, bool) {
	if s == nil || s.evmKey == nil {
		return nil, false
	}
	return s.evmKey, true
}

// SubstrateKeyring returns the sr25519 keyring, or false when not configured.
func (s *Signer) SubstrateKeyring() (signature.KeyringPair, bool) {
	if s == nil || len(s.substrateKeyring.PublicKey) == 0 {
		return signature.KeyringPair{}, false
	}
	return s.substrateKeyring, true
}

// AddressFor returns the signer's address in the given family.
func (s *Signer) AddressFor(family Family) (Address, bool) {
	switch family {
	case FamilyEVM:
		if s.evmKey == nil {
			return Address{}, false
		}
		return NewEthAddress(s.evmAddress), true
	case FamilySubstrate:
		if len(s.substrateKeyring.PublicKey) == 0 {
			return Address{}, false
		}
		return NewSubstrateAddress(s.substrateAddress), true
	}
	return Address{}, false
}
