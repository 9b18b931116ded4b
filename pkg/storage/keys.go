package storage

// Key schema. Every component owns one prefix:
//
//	led:{address}:{currency}     ledger balance (decimal string)
//	nonce:{address}              signed-request nonce
//	pool:{poolID}                gob snapshot of a curve pool
//	mkt:{symbol}                 market registry entry
//	lo:bm:{market}:{word}        order index bitmap word (32 bytes)
//	lo:lvl:{market}:{level}      order ids resting at a level
//	lo:ord:{id}                  order record
//	lo:meta:{name}               registry metadata (next id, treasury)
const (
	PrefixBalance    = "led:"
	PrefixNonce      = "nonce:"
	PrefixPool       = "pool:"
	PrefixMarket     = "mkt:"
	PrefixOrderIndex = "lo:"
)

// Key concatenates a prefix with raw parts separated by ':'.
func Key(prefix string, parts ...[]byte) []byte {
	n := len(prefix)
	for _, p := range parts {
		n += len(p) + 1
	}
	out := make([]byte, 0, n)
	out = append(out, prefix...)
	for i, p := range parts {
		if i > 0 {
			out = append(out, ':')
		}
		out = append(out, p...)
	}
	return out
}

// KeyUpperBound returns the exclusive upper bound for a prefix scan
// Example: prefix "acc:0x123:" -> upper bound "acc:0x123;" (next byte after ':')
func KeyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	for i := len(bound) - 1; i >= 0; i-- {
		if bound[i] < 0xff {
			bound[i]++
			return bound[:i+1]
		}
	}
	return nil // prefix is all 0xff: no upper bound
}
