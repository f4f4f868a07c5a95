package chain

import (
	"encoding/json"
	"testing"
)

func TestAddressRoundTrip(t *testing.T) {
	eth, err := HexToEthAddress("0x05a81d8564a3ea298660e34e03e5eff9a29d7a2a")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	addr := NewEthAddress(eth)
	raw, err := json.Marshal(addr)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Address
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !addr.Equal(decoded) {
		t.Fatalf("round trip changed the address: %s -> %s", addr, decoded)
	}
}

func TestAddressKindsDoNotMatch(t *testing.T) {
	var ethBytes EthAddress
	var subBytes SubstrateAddress
	eth := NewEthAddress(ethBytes)
	sub := NewSubstrateAddress(subBytes)
	if eth.Equal(sub) {
		t.Fatal("EVM and Substrate addresses must never compare equal")
	}
	if _, ok := eth.AsSubstrate(); ok {
		t.Fatal("EVM address exposed a Substrate view")
	}
}

func TestXC20PrecompileAddress(t *testing.T) {
	key := XC20Token("42259045809535163221576417993425387648")
	addr, ok := key.EthContract()
	if !ok {
		t.Fatal("xc20 key produced no contract address")
	}
	want := "0xffffffff1fcacbd218edc0eba20fc2308c778080"
	if addr.Hex() != want {
		t.Fatalf("xc20 address = %s, want %s", addr.Hex(), want)
	}
}

func TestTokenKeyEquality(t *testing.T) {
	var c1, c2 EthAddress
	c2[0] = 1
	if !ERC20Token(c1).Equal(ERC20Token(c1)) {
		t.Fatal("identical erc20 keys differ")
	}
	if ERC20Token(c1).Equal(ERC20Token(c2)) {
		t.Fatal("distinct erc20 keys compare equal")
	}
	if NativeToken().Equal(ERC20Token(c1)) {
		t.Fatal("native equals erc20")
	}
	if !SubstrateAssetToken("7").Equal(SubstrateAssetToken("7")) {
		t.Fatal("identical asset keys differ")
	}
}

func TestHashParsingRejectsBadLengths(t *testing.T) {
	if _, err := HexToHash("0x1234"); err == nil {
		t.Fatal("short hash accepted")
	}
	if _, err := HexToEthAddress("0xzz"); err == nil {
		t.Fatal("non-hex address accepted")
	}
}
