package decoder

import "github.com/stellar/go/strkey"

// strkeyCache memoizes strkey encodings within a single decode() batch.
// Contract and account addresses repeat heavily within a ledger (the same
// pool contract emits many events), and strkey encoding is a hot path, so a
// batch-scoped cache avoids re-encoding the same 32 bytes repeatedly.
type strkeyCache struct {
	contracts map[[32]byte]string
	accounts  map[[32]byte]string
}

func newStrkeyCache() *strkeyCache {
	return &strkeyCache{
		contracts: make(map[[32]byte]string),
		accounts:  make(map[[32]byte]string),
	}
}

func (c *strkeyCache) encodeContract(id [32]byte) (string, error) {
	if c == nil {
		return strkey.Encode(strkey.VersionByteContract, id[:])
	}
	if s, ok := c.contracts[id]; ok {
		return s, nil
	}
	s, err := strkey.Encode(strkey.VersionByteContract, id[:])
	if err != nil {
		return "", err
	}
	c.contracts[id] = s
	return s, nil
}

func (c *strkeyCache) encodeAccount(id [32]byte) (string, error) {
	if c == nil {
		return strkey.Encode(strkey.VersionByteAccountID, id[:])
	}
	if s, ok := c.accounts[id]; ok {
		return s, nil
	}
	s, err := strkey.Encode(strkey.VersionByteAccountID, id[:])
	if err != nil {
		return "", err
	}
	c.accounts[id] = s
	return s, nil
}
