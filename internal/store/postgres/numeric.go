package postgres

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/alanyoungcy/tradekeeper/internal/domain"
)

// Amounts are uint64 in the domain and NUMERIC in the schema, since
// BIGINT cannot hold the upper half of uint64.

func numeric(v uint64) pgtype.Numeric {
	return pgtype.Numeric{Int: new(big.Int).SetUint64(v), Valid: true}
}

func numericUint64(n pgtype.Numeric) (uint64, error) {
	if !n.Valid || n.Int == nil {
		return 0, nil
	}
	i := new(big.Int).Set(n.Int)
	if n.Exp != 0 {
		scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(abs32(n.Exp))), nil)
		if n.Exp > 0 {
			i.Mul(i, scale)
		} else {
			i.Quo(i, scale)
		}
	}
	if !i.IsUint64() {
		return 0, fmt.Errorf("numeric %s out of uint64 range", i)
	}
	return i.Uint64(), nil
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}

// addr stores addresses in EIP-55 checksum form.
func addr(a domain.Address) string { return a.Hex() }

func parseAddr(s string) (domain.Address, error) {
	if !common.IsHexAddress(s) {
		return domain.Address{}, fmt.Errorf("bad address %q", s)
	}
	return common.HexToAddress(s), nil
}
