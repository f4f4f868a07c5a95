package substrate

import (
	"fmt"
	"math/big"

	"github.com/centrifuge/go-substrate-rpc-client/v4/scale"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types"

	"github.com/kapilsinha/privadex/internal/chain"
)

// SCALE encodings for the V1 cross-consensus types the bridge corridors
// use. Only the junction variants that appear in registry templates are
// supported; an unknown variant is a registry error, not a runtime
// surprise.

// multiLocation wraps chain.MultiLocation with a SCALE encoding.
type multiLocation struct {
	loc chain.MultiLocation
}

func (m multiLocation) Encode(enc scale.Encoder) error {
	if err := enc.PushByte(m.loc.Parents); err != nil {
		return err
	}
	n := len(m.loc.Interior)
	if n > 8 {
		return fmt.Errorf("interior too deep: %d junctions", n)
	}
	// Junctions enum: Here = 0, X1 = 1, ... X8 = 8.
	if err := enc.PushByte(byte(n)); err != nil {
		return err
	}
	for _, j := range m.loc.Interior {
		if err := encodeJunction(enc, j); err != nil {
			return err
		}
	}
	return nil
}

func encodeJunction(enc scale.Encoder, j chain.Junction) error {
	switch {
	case j.Parachain != nil:
		if err := enc.PushByte(0); err != nil {
			return err
		}
		return enc.EncodeUintCompact(*new(big.Int).SetUint64(uint64(*j.Parachain)))
	case j.AccountID32 != nil:
		if err := enc.PushByte(1); err != nil {
			return err
		}
		// NetworkId::Any
		if err := enc.PushByte(0); err != nil {
			return err
		}
		return enc.Write(j.AccountID32[:])
	case j.AccountKey20 != nil:
		if err := enc.PushByte(3); err != nil {
			return err
		}
		if err := enc.PushByte(0); err != nil {
			return err
		}
		return enc.Write(j.AccountKey20[:])
	case j.PalletInstance != nil:
		if err := enc.PushByte(4); err != nil {
			return err
		}
		return enc.PushByte(*j.PalletInstance)
	case j.GeneralIndex != nil:
		if err := enc.PushByte(5); err != nil {
			return err
		}
		return enc.EncodeUintCompact(*new(big.Int).SetUint64(*j.GeneralIndex))
	case j.AccountPlaceholder:
		return fmt.Errorf("unsubstituted account placeholder in location")
	}
	return fmt.Errorf("junction has no recognised variant")
}

// versionedMultiLocation is the VersionedMultiLocation enum, V1 variant.
type versionedMultiLocation struct {
	loc chain.MultiLocation
}

func (v versionedMultiLocation) Encode(enc scale.Encoder) error {
	// VersionedMultiLocation::V1 = 1
	if err := enc.PushByte(1); err != nil {
		return err
	}
	return multiLocation{loc: v.loc}.Encode(enc)
}

// versionedMultiAsset is VersionedMultiAsset::V1 with a concrete asset id
// and fungible amount.
type versionedMultiAsset struct {
	location chain.MultiLocation
	amount   *chain.Amount
}

func (v versionedMultiAsset) Encode(enc scale.Encoder) error {
	// VersionedMultiAsset::V1 = 1
	if err := enc.PushByte(1); err != nil {
		return err
	}
	// AssetId::Concrete = 0
	if err := enc.PushByte(0); err != nil {
		return err
	}
	if err := (multiLocation{loc: v.location}).Encode(enc); err != nil {
		return err
	}
	// Fungibility::Fungible = 0, compact u128 amount.
	if err := enc.PushByte(0); err != nil {
		return err
	}
	return enc.EncodeUintCompact(*v.amount.ToBig())
}

// destWeight is the plain u64 weight bound the xTokens transfer calls take.
type destWeight uint64

func (w destWeight) Encode(enc scale.Encoder) error {
	return enc.Encode(types.NewU64(uint64(w)))
}
