package chain

import "fmt"

// Junction is one hop in a cross-consensus location. Exactly one field is
// set. AccountPlaceholder marks the position where a bridge template takes
// the beneficiary address at execution time.
type Junction struct {
	Parachain          *uint32           `json:"parachain,omitempty" yaml:"parachain,omitempty"`
	PalletInstance     *uint8            `json:"pallet_instance,omitempty" yaml:"pallet_instance,omitempty"`
	GeneralIndex       *uint64           `json:"general_index,omitempty" yaml:"general_index,omitempty"`
	AccountID32        *SubstrateAddress `json:"account_id32,omitempty" yaml:"account_id32,omitempty"`
	AccountKey20       *EthAddress       `json:"account_key20,omitempty" yaml:"account_key20,omitempty"`
	AccountPlaceholder bool              `json:"account_placeholder,omitempty" yaml:"account_placeholder,omitempty"`
}

// MultiLocation is a relative cross-consensus location: how many parents to
// ascend, then which junctions to descend.
type MultiLocation struct {
	Parents  uint8      `json:"parents" yaml:"parents"`
	Interior []Junction `json:"interior" yaml:"interior"`
}

// WithAccount substitutes the beneficiary address into the template's
// placeholder junction and returns the concrete location.
func (m MultiLocation) WithAccount(addr Address) (MultiLocation, error) {
	out := MultiLocation{Parents: m.Parents, Interior: make([]Junction, len(m.Interior))}
	substituted := false
	for i, j := range m.Interior {
		if !j.AccountPlaceholder {
			out.Interior[i] = j
			continue
		}
		switch addr.Kind {
		case FamilyEVM:
			eth, ok := addr.AsEth()
			if !ok {
				return MultiLocation{}, fmt.Errorf("placeholder substitution: empty EVM address")
			}
			out.Interior[i] = Junction{AccountKey20: &eth}
		case FamilySubstrate:
			sub, ok := addr.AsSubstrate()
			if !ok {
				return MultiLocation{}, fmt.Errorf("placeholder substitution: empty Substrate address")
			}
			out.Interior[i] = Junction{AccountID32: &sub}
		default:
			return MultiLocation{}, fmt.Errorf("placeholder substitution: unknown address kind %q", addr.Kind)
		}
		substituted = true
	}
	if !substituted {
		return MultiLocation{}, fmt.Errorf("location template has no account placeholder")
	}
	return out, nil
}

// HasPlaceholder reports whether any junction still awaits substitution.
func (m MultiLocation) HasPlaceholder() bool {
	for _, j := range m.Interior {
		if j.AccountPlaceholder {
			return true
		}
	}
	return false
}
