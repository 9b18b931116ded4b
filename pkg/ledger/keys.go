package ledger

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/tickorders/pkg/storage"
)

// balanceStoreKey returns the key for a balance
// Format: "led:{address}:{currency}"
// Example: "led:0x742d35Cc...:0xA0b8...
func balanceStoreKey(account, currency common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", storage.PrefixBalance, account.Hex(), currency.Hex()))
}

// nonceStoreKey returns the key for an account nonce
// Format: "nonce:{address}"
func nonceStoreKey(addr common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s", storage.PrefixNonce, addr.Hex()))
}

func parseBalanceKey(key []byte) (common.Address, common.Address, error) {
	rest := strings.TrimPrefix(string(key), storage.PrefixBalance)
	account, currency, ok := strings.Cut(rest, ":")
	if !ok || !common.IsHexAddress(account) || !common.IsHexAddress(currency) {
		return common.Address{}, common.Address{}, fmt.Errorf("invalid balance key: %s", key)
	}
	return common.HexToAddress(account), common.HexToAddress(currency), nil
}

func parseNonceKey(key []byte) (common.Address, error) {
	addrHex := strings.TrimPrefix(string(key), storage.PrefixNonce)
	if !common.IsHexAddress(addrHex) {
		return common.Address{}, fmt.Errorf("invalid address in key: %s", addrHex)
	}
	return common.HexToAddress(addrHex), nil
}
