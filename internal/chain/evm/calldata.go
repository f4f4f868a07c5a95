package evm

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Minimal ABI fragments for the three contract surfaces the engine calls.
// Parsed once at package load; a parse failure is a programming error.
const (
	erc20ABIJSON = `[
        {"name":"transfer","type":"function","inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
        {"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
    ]`
	wethABIJSON = `[
        {"name":"deposit","type":"function","stateMutability":"payable","inputs":[],"outputs":[]},
        {"name":"withdraw","type":"function","inputs":[{"name":"wad","type":"uint256"}],"outputs":[]}
    ]`
	routerABIJSON = `[
        {"name":"swapExactETHForTokens","type":"function","stateMutability":"payable","inputs":[{"name":"amountOutMin","type":"uint256"},{"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],"outputs":[{"name":"amounts","type":"uint256[]"}]},
        {"name":"swapExactTokensForTokens","type":"function","inputs":[{"name":"amountIn","type":"uint256"},{"name":"amountOutMin","type":"uint256"},{"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],"outputs":[{"name":"amounts","type":"uint256[]"}]},
        {"name":"swapExactTokensForETH","type":"function","inputs":[{"name":"amountIn","type":"uint256"},{"name":"amountOutMin","type":"uint256"},{"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],"outputs":[{"name":"amounts","type":"uint256[]"}]}
    ]`
)

var (
	erc20ABI  = mustABI(erc20ABIJSON)
	wethABI   = mustABI(wethABIJSON)
	routerABI = mustABI(routerABIJSON)

	// maxDeadline pins the router deadline instead of deriving it from the
	// wall clock: re-signing a swap at the same nonce must produce a
	// byte-identical transaction. Slippage is bounded by amountOutMin.
	maxDeadline = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

func mustABI(source string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(source))
	if err != nil {
		panic("invalid built-in ABI: " + err.Error())
	}
	return parsed
}

func packTransfer(to common.Address, amount *big.Int) ([]byte, error) {
	return erc20ABI.Pack("transfer", to, amount)
}

func packDeposit() ([]byte, error) {
	return wethABI.Pack("deposit")
}

func packWithdraw(amount *big.Int) ([]byte, error) {
	return wethABI.Pack("withdraw", amount)
}

func packSwapExactETHForTokens(minOut *big.Int, path []common.Address, to common.Address) ([]byte, error) {
	return routerABI.Pack("swapExactETHForTokens", minOut, path, to, maxDeadline)
}

func packSwapExactTokensForTokens(amountIn, minOut *big.Int, path []common.Address, to common.Address) ([]byte, error) {
	return routerABI.Pack("swapExactTokensForTokens", amountIn, minOut, path, to, maxDeadline)
}

func packSwapExactTokensForETH(amountIn, minOut *big.Int, path []common.Address, to common.Address) ([]byte, error) {
	return routerABI.Pack("swapExactTokensForETH", amountIn, minOut, path, to, maxDeadline)
}
