package app

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/channelpay/echo-bot/internal/domain"
	"github.com/channelpay/echo-bot/pkg/channel"
)

type balanceReaderStub struct {
	balances map[common.Address]*big.Int
	err      error
	own      common.Address
}

func (s *balanceReaderStub) GetFreeBalance(ctx context.Context, assetID common.Address) (map[common.Address]*big.Int, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.balances, nil
}

func (s *balanceReaderStub) FreeBalanceAddress() common.Address {
	return s.own
}

type snapshotStoreStub struct {
	saved   []domain.BalanceSnapshot
	saveErr error
}

func (s *snapshotStoreStub) SaveBalanceSnapshot(ctx context.Context, snapshot domain.BalanceSnapshot) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = append(s.saved, snapshot)
	return nil
}

func TestBalanceReporter_RunOncePersistsAllHolders(t *testing.T) {
	own := common.HexToAddress("0x00000000000000000000000000000000000000F1")
	peer := common.HexToAddress("0x00000000000000000000000000000000000000A1")
	reader := &balanceReaderStub{
		own: own,
		balances: map[common.Address]*big.Int{
			own:  big.NewInt(1000),
			peer: big.NewInt(250),
		},
	}
	repo := &snapshotStoreStub{}
	reporter := NewBalanceReporter(reader, repo, zerolog.Nop(), time.Minute)

	if err := reporter.runOnce(context.Background()); err != nil {
		t.Fatalf("runOnce returned error: %v", err)
	}
	if len(repo.saved) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(repo.saved))
	}
	for _, snap := range repo.saved {
		if snap.AssetID != channel.NativeAsset {
			t.Errorf("expected native asset snapshot, got %s", snap.AssetID.Hex())
		}
		if snap.ID == uuid.Nil {
			t.Error("expected snapshot id to be assigned")
		}
	}
}

func TestBalanceReporter_RunOnceReportsQueryError(t *testing.T) {
	reader := &balanceReaderStub{err: errors.New("node unreachable")}
	reporter := NewBalanceReporter(reader, &snapshotStoreStub{}, zerolog.Nop(), time.Minute)

	if err := reporter.runOnce(context.Background()); err == nil {
		t.Fatal("expected error from failed balance query")
	}
}

func TestBalanceReporter_RunOnceReportsPersistError(t *testing.T) {
	reader := &balanceReaderStub{
		balances: map[common.Address]*big.Int{
			common.HexToAddress("0x1"): big.NewInt(1),
		},
	}
	repo := &snapshotStoreStub{saveErr: errors.New("db down")}
	reporter := NewBalanceReporter(reader, repo, zerolog.Nop(), time.Minute)

	if err := reporter.runOnce(context.Background()); err == nil {
		t.Fatal("expected error from failed snapshot persist")
	}
}
