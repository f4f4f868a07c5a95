// Package chain defines the primitive identifiers shared across the
// execution engine: chains, tokens, addresses, hashes and amounts.
package chain

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// ID is an opaque small integer identifying a chain in the registry.
type ID uint32

// Family distinguishes how a chain is driven.
type Family string

const (
	FamilyEVM       Family = "evm"
	FamilySubstrate Family = "substrate"
)

// PlanID and StepID are 16-byte opaque identifiers. A StepID is unique
// within its plan.
type (
	PlanID = uuid.UUID
	StepID = uuid.UUID
)

// NewPlanID returns a fresh random plan identifier.
func NewPlanID() PlanID { return uuid.New() }

// NewStepID returns a fresh random step identifier.
func NewStepID() StepID { return uuid.New() }

// Amount is a 256-bit unsigned integer.
type Amount = uint256.Int

// NewAmount returns an Amount holding the given uint64.
func NewAmount(v uint64) *Amount { return uint256.NewInt(v) }

// EthAddress is a 20-byte EVM account or contract address.
type EthAddress [20]byte

// SubstrateAddress is a 32-byte Substrate public key.
type SubstrateAddress [32]byte

// Hash is a 32-byte transaction or extrinsic hash.
type Hash [32]byte

func (a EthAddress) Hex() string       { return "0x" + hex.EncodeToString(a[:]) }
func (a SubstrateAddress) Hex() string { return "0x" + hex.EncodeToString(a[:]) }
func (h Hash) Hex() string             { return "0x" + hex.EncodeToString(h[:]) }

func (h Hash) IsZero() bool { return h == Hash{} }

// HexToEthAddress parses a 0x-prefixed 20-byte hex string.
func HexToEthAddress(s string) (EthAddress, error) {
	var a EthAddress
	if err := decodeHex(s, a[:]); err != nil {
		return EthAddress{}, fmt.Errorf("eth address %q: %w", s, err)
	}
	return a, nil
}

// HexToSubstrateAddress parses a 0x-prefixed 32-byte hex string.
func HexToSubstrateAddress(s string) (SubstrateAddress, error) {
	var a SubstrateAddress
	if err := decodeHex(s, a[:]); err != nil {
		return SubstrateAddress{}, fmt.Errorf("substrate address %q: %w", s, err)
	}
	return a, nil
}

// HexToHash parses a 0x-prefixed 32-byte hex string.
func HexToHash(s string) (Hash, error) {
	var h Hash
	if err := decodeHex(s, h[:]); err != nil {
		return Hash{}, fmt.Errorf("hash %q: %w", s, err)
	}
	return h, nil
}

func decodeHex(s string, dst []byte) error {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	raw, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	if len(raw) != len(dst) {
		return fmt.Errorf("expected %d bytes, got %d", len(dst), len(raw))
	}
	copy(dst, raw)
	return nil
}

func (a EthAddress) MarshalText() ([]byte, error)       { return []byte(a.Hex()), nil }
func (a SubstrateAddress) MarshalText() ([]byte, error) { return []byte(a.Hex()), nil }
func (h Hash) MarshalText() ([]byte, error)             { return []byte(h.Hex()), nil }

func (a *EthAddress) UnmarshalText(text []byte) error {
	parsed, err := HexToEthAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

func (a *SubstrateAddress) UnmarshalText(text []byte) error {
	parsed, err := HexToSubstrateAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := HexToHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// Address is the tagged union of the two address representations. Exactly
// one of Eth/Substrate is meaningful, selected by Kind.
type Address struct {
	Kind      Family            `json:"kind"`
	Eth       *EthAddress       `json:"eth,omitempty"`
	Substrate *SubstrateAddress `json:"substrate,omitempty"`
}

// NewEthAddress wraps an EVM address.
func NewEthAddress(a EthAddress) Address {
	return Address{Kind: FamilyEVM, Eth: &a}
}

// NewSubstrateAddress wraps a Substrate public key.
func NewSubstrateAddress(a SubstrateAddress) Address {
	return Address{Kind: FamilySubstrate, Substrate: &a}
}

// AsEth returns the EVM address, or false if this is not an EVM address.
func (a Address) AsEth() (EthAddress, bool) {
	if a.Kind != FamilyEVM || a.Eth == nil {
		return EthAddress{}, false
	}
	return *a.Eth, true
}

// AsSubstrate returns the Substrate key, or false for an EVM address.
func (a Address) AsSubstrate() (SubstrateAddress, bool) {
	if a.Kind != FamilySubstrate || a.Substrate == nil {
		return SubstrateAddress{}, false
	}
	return *a.Substrate, true
}

func (a Address) String() string {
	if eth, ok := a.AsEth(); ok {
		return eth.Hex()
	}
	if sub, ok := a.AsSubstrate(); ok {
		return sub.Hex()
	}
	return "<empty address>"
}

// Equal compares two addresses by kind and bytes.
func (a Address) Equal(other Address) bool {
	if a.Kind != other.Kind {
		return false
	}
	switch a.Kind {
	case FamilyEVM:
		x, ok1 := a.AsEth()
		y, ok2 := other.AsEth()
		return ok1 && ok2 && x == y
	case FamilySubstrate:
		x, ok1 := a.AsSubstrate()
		y, ok2 := other.AsSubstrate()
		return ok1 && ok2 && x == y
	}
	return false
}

// TokenKind discriminates the on-chain token key variants.
type TokenKind string

const (
	// TokenNative is the chain's native currency.
	TokenNative TokenKind = "native"
	// TokenERC20 is an ERC-20 style contract token.
	TokenERC20 TokenKind = "erc20"
	// TokenXC20 is a Substrate asset surfaced through the EVM XC-20
	// precompile address space.
	TokenXC20 TokenKind = "xc20"
	// TokenSubstrateAsset is a Substrate asset identified by its location.
	TokenSubstrateAsset TokenKind = "substrate_asset"
)

// TokenKey identifies a token within one chain.
type TokenKey struct {
	Kind TokenKind `json:"kind"`
	// ERC20 contract address, present for erc20 tokens.
	Contract *EthAddress `json:"contract,omitempty"`
	// Substrate asset id as a decimal string (ids are u128), present for
	// xc20 and substrate_asset tokens.
	AssetID string `json:"asset_id,omitempty"`
}

// NativeToken returns the key for a chain's native currency.
func NativeToken() TokenKey { return TokenKey{Kind: TokenNative} }

// ERC20Token returns the key for an ERC-20 contract.
func ERC20Token(contract EthAddress) TokenKey {
	return TokenKey{Kind: TokenERC20, Contract: &contract}
}

// XC20Token returns the key for a Substrate asset mirrored as an XC-20.
func XC20Token(assetID string) TokenKey {
	return TokenKey{Kind: TokenXC20, AssetID: assetID}
}

// SubstrateAssetToken returns the key for a plain Substrate asset.
func SubstrateAssetToken(assetID string) TokenKey {
	return TokenKey{Kind: TokenSubstrateAsset, AssetID: assetID}
}

// AssetIDInt parses the decimal asset id. Returns false when the key has
// no asset id or it does not fit in 128 bits.
func (k TokenKey) AssetIDInt() (*big.Int, bool) {
	if k.AssetID == "" {
		return nil, false
	}
	id, ok := new(big.Int).SetString(k.AssetID, 10)
	if !ok || id.Sign() < 0 || id.BitLen() > 128 {
		return nil, false
	}
	return id, true
}

// EthContract resolves the EVM contract address for ERC-20 compatible
// tokens. XC-20 assets derive their precompile address from the asset id
// (0xFFFFFFFF... prefix followed by the big-endian asset id).
func (k TokenKey) EthContract() (EthAddress, bool) {
	switch k.Kind {
	case TokenERC20:
		if k.Contract == nil {
			return EthAddress{}, false
		}
		return *k.Contract, true
	case TokenXC20:
		id, ok := k.AssetIDInt()
		if !ok {
			return EthAddress{}, false
		}
		// XC-20 precompile address: 0xFFFFFFFF followed by the asset id
		// as a big-endian u128.
		var a EthAddress
		for i := 0; i < 4; i++ {
			a[i] = 0xff
		}
		id.FillBytes(a[4:])
		return a, true
	default:
		return EthAddress{}, false
	}
}

// Equal compares token keys structurally.
func (k TokenKey) Equal(other TokenKey) bool {
	if k.Kind != other.Kind {
		return false
	}
	switch k.Kind {
	case TokenNative:
		return true
	case TokenERC20:
		return k.Contract != nil && other.Contract != nil && *k.Contract == *other.Contract
	default:
		return k.AssetID == other.AssetID
	}
}

// UniversalTokenID identifies a token across all chains.
type UniversalTokenID struct {
	Chain ID       `json:"chain"`
	Key   TokenKey `json:"key"`
}

// Equal compares universal token ids.
func (t UniversalTokenID) Equal(other UniversalTokenID) bool {
	return t.Chain == other.Chain && t.Key.Equal(other.Key)
}

func (t UniversalTokenID) String() string {
	switch t.Key.Kind {
	case TokenNative:
		return fmt.Sprintf("chain%d/native", t.Chain)
	case TokenERC20:
		return fmt.Sprintf("chain%d/erc20:%s", t.Chain, t.Key.Contract.Hex())
	default:
		return fmt.Sprintf("chain%d/%s:%s", t.Chain, t.Key.Kind, t.Key.AssetID)
	}
}
