package channel

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// NativeAsset is the zero address, denoting the network's native asset.
var NativeAsset = common.Address{}

// PaymentUnlockedEvent is delivered when a previously locked conditional
// transfer becomes claimable. The sender is the peer's public identifier, an
// opaque string owned by the channel network.
type PaymentUnlockedEvent struct {
	PaymentID string
	Amount    *big.Int
	AssetID   common.Address
	Sender    string
}

// TransferParams describes an outbound transfer submission.
type TransferParams struct {
	Amount    *big.Int
	Recipient string
	AssetID   common.Address
}

// TransferReceipt is the node's acknowledgement of an accepted transfer.
type TransferReceipt struct {
	PaymentID string
}
