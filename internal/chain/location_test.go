package chain

import "testing"

func TestTemplateSubstitution(t *testing.T) {
	para := uint32(2004)
	template := MultiLocation{
		Parents: 1,
		Interior: []Junction{
			{Parachain: &para},
			{AccountPlaceholder: true},
		},
	}
	if !template.HasPlaceholder() {
		t.Fatal("template should report its placeholder")
	}

	var ethBytes EthAddress
	ethBytes[0] = 0xab
	concrete, err := template.WithAccount(NewEthAddress(ethBytes))
	if err != nil {
		t.Fatalf("substitute: %v", err)
	}
	if concrete.HasPlaceholder() {
		t.Fatal("substitution left a placeholder behind")
	}
	if concrete.Interior[1].AccountKey20 == nil || concrete.Interior[1].AccountKey20[0] != 0xab {
		t.Fatal("EVM beneficiary not substituted as an AccountKey20 junction")
	}
	// The template itself is untouched.
	if !template.HasPlaceholder() {
		t.Fatal("substitution mutated the template")
	}
}

func TestSubstitutionWithoutPlaceholderFails(t *testing.T) {
	loc := MultiLocation{Parents: 0}
	if _, err := loc.WithAccount(NewEthAddress(EthAddress{})); err == nil {
		t.Fatal("substitution into a template without a placeholder must fail")
	}
}
