/**
 * @description
 * Domain models for the echo bot. Amounts are expressed in the smallest
 * denomination of the asset (wei for the native asset) and carried as big
 * integers; int64 overflows at amounts well below one whole token.
 *
 * @dependencies
 * - math/big, time: Standard Go libraries.
 * - github.com/ethereum/go-ethereum/common: Asset and holder addresses.
 * - github.com/google/uuid: Snapshot identifiers.
 */

package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// BalanceSnapshot is one observed free-balance entry for one holder.
type BalanceSnapshot struct {
	ID      uuid.UUID
	AssetID common.Address
	Holder  common.Address
	Amount  *big.Int
	TakenAt time.Time
}
