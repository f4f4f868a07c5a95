// Package registry holds the static chain and bridge metadata the engine
// needs: RPC endpoints, chain family, escrow addresses, pinned gas terms
// and the cross-consensus bridge instruction templates.
package registry

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/kapilsinha/privadex/internal/chain"
	xerrors "github.com/kapilsinha/privadex/internal/errors"
)

// ChainInfo describes one chain.
type ChainInfo struct {
	ID             chain.ID     `yaml:"id"`
	Name           string       `yaml:"name"`
	Family         chain.Family `yaml:"family"`
	RPCURL         string       `yaml:"rpc_url"`
	EVMChainID     uint64       `yaml:"evm_chain_id,omitempty"`
	SS58Prefix     uint16       `yaml:"ss58_prefix,omitempty"`
	NativeSymbol   string       `yaml:"native_symbol"`
	NativeDecimals uint8        `yaml:"native_decimals"`

	// Escrow is the pool-controlled address where intermediate funds rest.
	EscrowEth       string `yaml:"escrow_eth,omitempty"`
	EscrowSubstrate string `yaml:"escrow_substrate,omitempty"`

	// WETH is the wrapped-native contract, when the chain has one.
	WETH string `yaml:"weth,omitempty"`

	// GasPriceWei and the per-kind gas limits are pinned in the registry
	// rather than queried from the node: re-signing a step at the same
	// nonce must produce a byte-identical transaction.
	GasPriceWei     uint64 `yaml:"gas_price_wei,omitempty"`
	GasLimitSend    uint64 `yaml:"gas_limit_send,omitempty"`
	GasLimitERC20   uint64 `yaml:"gas_limit_erc20,omitempty"`
	GasLimitWrap    uint64 `yaml:"gas_limit_wrap,omitempty"`
	GasLimitDexSwap uint64 `yaml:"gas_limit_dex_swap,omitempty"`

	// BlocksAlive is the inclusion window after which a submitted
	// transaction is considered dropped.
	BlocksAlive uint64 `yaml:"blocks_alive,omitempty"`

	escrow chain.Address
	weth   *chain.EthAddress
}

// Escrow returns the escrow address in the chain's native representation.
func (c *ChainInfo) Escrow() chain.Address { return c.escrow }

// WETHAddress returns the wrapped-native contract, or false if absent.
func (c *ChainInfo) WETHAddress() (chain.EthAddress, bool) {
	if c.weth == nil {
		return chain.EthAddress{}, false
	}
	return *c.weth, true
}

// TokenYAML is the YAML shape of a token key.
type TokenYAML struct {
	Kind     chain.TokenKind `yaml:"kind"`
	Contract string          `yaml:"contract,omitempty"`
	AssetID  string          `yaml:"asset_id,omitempty"`
}

func (t TokenYAML) key() (chain.TokenKey, error) {
	switch t.Kind {
	case chain.TokenNative:
		return chain.NativeToken(), nil
	case chain.TokenERC20:
		addr, err := chain.HexToEthAddress(t.Contract)
		if err != nil {
			return chain.TokenKey{}, err
		}
		return chain.ERC20Token(addr), nil
	case chain.TokenXC20:
		return chain.XC20Token(t.AssetID), nil
	case chain.TokenSubstrateAsset:
		return chain.SubstrateAssetToken(t.AssetID), nil
	}
	return chain.TokenKey{}, fmt.Errorf("unknown token kind %q", t.Kind)
}

// Bridge describes one cross-consensus corridor: the asset's location as
// seen from the source chain and the destination template whose account
// placeholder is filled with the escrow (or user) address.
type Bridge struct {
	SrcChain  chain.ID  `yaml:"src_chain"`
	DestChain chain.ID  `yaml:"dest_chain"`
	SrcToken  TokenYAML `yaml:"src_token"`
	DestToken TokenYAML `yaml:"dest_token"`

	AssetLocation chain.MultiLocation `yaml:"asset_location"`
	DestTemplate  chain.MultiLocation `yaml:"dest_template"`

	// Call is the source-chain extrinsic, e.g. "XTokens.transfer_multiasset".
	Call string `yaml:"call"`
	// DestWeight bounds execution weight purchased on the destination.
	DestWeight uint64 `yaml:"dest_weight"`
	// FeeEstimate is the bridge fee in destination native units.
	FeeEstimate uint64 `yaml:"fee_estimate"`

	srcKey  chain.TokenKey
	destKey chain.TokenKey
}

// SrcTokenKey returns the parsed source token key.
func (b *Bridge) SrcTokenKey() chain.TokenKey { return b.srcKey }

// DestTokenKey returns the parsed destination token key.
func (b *Bridge) DestTokenKey() chain.TokenKey { return b.destKey }

type registryYAML struct {
	Chains  []*ChainInfo `yaml:"chains"`
	Bridges []*Bridge    `yaml:"bridges"`
}

// Registry resolves chain and bridge metadata by id.
type Registry struct {
	chains  map[chain.ID]*ChainInfo
	bridges []*Bridge
}

// Load reads the registry from a YAML file.
func Load(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "read chain registry")
	}
	var doc registryYAML
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "parse chain registry")
	}
	return build(&doc)
}

func build(doc *registryYAML) (*Registry, error) {
	reg := &Registry{chains: make(map[chain.ID]*ChainInfo, len(doc.Chains))}
	for _, info := range doc.Chains {
		if err := finishChain(info); err != nil {
			return nil, err
		}
		if _, dup := reg.chains[info.ID]; dup {
			return nil, xerrors.New(xerrors.CodeInvalidArgument,
				fmt.Sprintf("duplicate chain id %d in registry", info.ID))
		}
		reg.chains[info.ID] = info
	}
	for _, bridge := range doc.Bridges {
		var err error
		if bridge.srcKey, err = bridge.SrcToken.key(); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "bridge src token")
		}
		if bridge.destKey, err = bridge.DestToken.key(); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "bridge dest token")
		}
		if !bridge.DestTemplate.HasPlaceholder() {
			return nil, xerrors.New(xerrors.CodeInvalidArgument,
				fmt.Sprintf("bridge %d->%d dest template lacks an account placeholder",
					bridge.SrcChain, bridge.DestChain))
		}
		reg.bridges = append(reg.bridges, bridge)
	}
	return reg, nil
}

func finishChain(info *ChainInfo) error {
	if info.RPCURL == "" {
		return xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("chain %d (%s) has no rpc_url", info.ID, info.Name))
	}
	switch info.Family {
	case chain.FamilyEVM:
		addr, err := chain.HexToEthAddress(info.EscrowEth)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeInvalidArgument, err,
				fmt.Sprintf("chain %d escrow", info.ID))
		}
		info.escrow = chain.NewEthAddress(addr)
	case chain.FamilySubstrate:
		addr, err := chain.HexToSubstrateAddress(info.EscrowSubstrate)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeInvalidArgument, err,
				fmt.Sprintf("chain %d escrow", info.ID))
		}
		info.escrow = chain.NewSubstrateAddress(addr)
	default:
		return xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("chain %d has unknown family %q", info.ID, info.Family))
	}
	if info.WETH != "" {
		addr, err := chain.HexToEthAddress(info.WETH)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeInvalidArgument, err,
				fmt.Sprintf("chain %d weth", info.ID))
		}
		info.weth = &addr
	}
	if info.BlocksAlive == 0 {
		// ~12s blocks, roughly 13 minutes of liveness.
		info.BlocksAlive = 64
	}
	return nil
}

// Chain returns the info for a chain id.
func (r *Registry) Chain(id chain.ID) (*ChainInfo, error) {
	info, ok := r.chains[id]
	if !ok {
		return nil, xerrors.New(xerrors.CodeNotFound, fmt.Sprintf("chain %d not in registry", id))
	}
	return info, nil
}

// Chains returns all registered chains.
func (r *Registry) Chains() []*ChainInfo {
	out := make([]*ChainInfo, 0, len(r.chains))
	for _, info := range r.chains {
		out = append(out, info)
	}
	return out
}

// BridgeFor finds the corridor moving token from src to dest.
func (r *Registry) BridgeFor(src, dest chain.ID, srcToken chain.TokenKey) (*Bridge, bool) {
	for _, b := range r.bridges {
		if b.SrcChain == src && b.DestChain == dest && b.srcKey.Equal(srcToken) {
			return b, true
		}
	}
	return nil, false
}
