package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"krakenBot/internal/domain"
	"krakenBot/internal/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

var (
	_ ports.PositionRepository = (*Repository)(nil)
	_ ports.TradeRepository    = (*Repository)(nil)
	_ ports.OrderRepository    = (*Repository)(nil)
	_ ports.NonceStore         = (*Repository)(nil)
)

// setupTestDB creates a temporary database for testing
func setupTestDB(t *testing.T) *Repository {
	t.Helper()

	repo, err := NewRepository(Config{
		DBPath: filepath.Join(t.TempDir(), "test.db"),
		Logger: &mockLogger{},
	})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func testPosition(strategyID, pair string) *domain.Position {
	return &domain.Position{
		StrategyID: strategyID,
		Pair:       pair,
		Side:       domain.Long,
		Quantity:   1.5,
		EntryPrice: 2000,
		StopLoss:   1960,
		TakeProfit: 2080,
		OpenedAt:   time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		OrderID:    "OENTRY-1",
	}
}

func TestNewRepository_RequiresLogger(t *testing.T) {
	_, err := NewRepository(Config{DBPath: filepath.Join(t.TempDir(), "x.db")})
	assert.Error(t, err)
}

func TestRepository_CreateAndFindPosition(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*Repository) error
		pos     *domain.Position
		wantErr error
	}{
		{
			name: "valid position",
			pos:  testPosition("ma-1", "ETHUSD"),
		},
		{
			name: "same pair for another strategy",
			setup: func(r *Repository) error {
				_, err := r.Create(context.Background(), testPosition("ma-2", "ETHUSD"))
				return err
			},
			pos: testPosition("ma-1", "ETHUSD"),
		},
		{
			name: "duplicate open position",
			setup: func(r *Repository) error {
				_, err := r.Create(context.Background(), testPosition("ma-1", "ETHUSD"))
				return err
			},
			pos:     testPosition("ma-1", "ETHUSD"),
			wantErr: ports.ErrDuplicateEntry,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := setupTestDB(t)
			ctx := context.Background()

			if tt.setup != nil {
				require.NoError(t, tt.setup(repo))
			}

			id, err := repo.Create(ctx, tt.pos)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Greater(t, id, int64(0))
			assert.Equal(t, id, tt.pos.ID)

			found, err := repo.FindByID(ctx, id)
			require.NoError(t, err)
			require.NotNil(t, found)

			assert.Equal(t, tt.pos.StrategyID, found.StrategyID)
			assert.Equal(t, tt.pos.Pair, found.Pair)
			assert.Equal(t, tt.pos.Side, found.Side)
			assert.Equal(t, tt.pos.Quantity, found.Quantity)
			assert.Equal(t, tt.pos.EntryPrice, found.EntryPrice)
			assert.Equal(t, tt.pos.StopLoss, found.StopLoss)
			assert.Equal(t, tt.pos.TakeProfit, found.TakeProfit)
			assert.Equal(t, tt.pos.OrderID, found.OrderID)
			assert.True(t, tt.pos.OpenedAt.Equal(found.OpenedAt))
		})
	}
}

func TestRepository_UpdateAndDeletePosition(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	pos := testPosition("ma-1", "XBTUSD")
	_, err := repo.Create(ctx, pos)
	require.NoError(t, err)

	pos.Quantity = 0.75
	require.NoError(t, repo.Update(ctx, pos))

	found, err := repo.FindByID(ctx, pos.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.75, found.Quantity)

	require.NoError(t, repo.Delete(ctx, pos.ID))
	found, err = repo.FindByID(ctx, pos.ID)
	require.NoError(t, err)
	assert.Nil(t, found)

	assert.True(t, errors.Is(repo.Delete(ctx, pos.ID), ports.ErrNotFound))
	assert.True(t, errors.Is(repo.Update(ctx, pos), ports.ErrNotFound))

	// The pair is free again once the position is gone.
	_, err = repo.Create(ctx, testPosition("ma-1", "XBTUSD"))
	assert.NoError(t, err)
}

func TestRepository_FindOpenByStrategy(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	for _, p := range []*domain.Position{
		testPosition("ma-1", "XBTUSD"),
		testPosition("ma-1", "ETHUSD"),
		testPosition("ma-2", "XBTUSD"),
	} {
		_, err := repo.Create(ctx, p)
		require.NoError(t, err)
	}

	got, err := repo.FindOpenByStrategy(ctx, "ma-1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "ETHUSD", got[0].Pair)
	assert.Equal(t, "XBTUSD", got[1].Pair)

	none, err := repo.FindOpenByStrategy(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRepository_Trades(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	trades := []*domain.Trade{
		{StrategyID: "ma-1", Pair: "XBTUSD", Side: domain.Long, EntryPrice: 100, ExitPrice: 110, Quantity: 1, PNL: 10,
			EntryTime: base, ExitTime: base.Add(time.Hour), PositionID: 7, CloseReason: domain.CloseReasonTakeProfit},
		{StrategyID: "ma-1", Pair: "XBTUSD", Side: domain.Long, EntryPrice: 110, ExitPrice: 105, Quantity: 1, PNL: -5,
			EntryTime: base.Add(2 * time.Hour), ExitTime: base.Add(3 * time.Hour)},
		{StrategyID: "ma-1", Pair: "ETHUSD", Side: domain.Long, EntryPrice: 50, ExitPrice: 60, Quantity: 2, PNL: 20,
			EntryTime: base, ExitTime: base.Add(30 * time.Minute), CloseReason: domain.CloseReasonSignal},
	}
	for _, tr := range trades {
		id, err := repo.CreateTrade(ctx, tr)
		require.NoError(t, err)
		assert.Equal(t, id, tr.ID)
	}

	byPair, err := repo.FindByPair(ctx, "XBTUSD", 10)
	require.NoError(t, err)
	require.Len(t, byPair, 2)
	assert.Equal(t, -5.0, byPair[0].PNL, "most recent first")
	assert.Equal(t, domain.CloseReasonUnknown, byPair[0].CloseReason)
	assert.Equal(t, int64(7), byPair[1].PositionID)

	limited, err := repo.FindByPair(ctx, "XBTUSD", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	all, err := repo.FindAllTrades(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "ETHUSD", all[0].Pair, "ordered by exit time")

	total, err := repo.GetTotalProfit(ctx)
	require.NoError(t, err)
	assert.Equal(t, 25.0, total)
}

func TestRepository_Orders(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	order := &domain.Order{
		ID: "OQCLML-BW3P3-BUCMWZ", ClientOrderID: "c1", StrategyID: "ma-1", Pair: "XBTUSD",
		Side: domain.Buy, Type: domain.Limit, Quantity: 0.5, Price: 30000,
		Status: domain.OrderOpen, OpenedAt: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, repo.SaveOrder(ctx, order))

	order.Status = domain.OrderFilled
	require.NoError(t, repo.SaveOrder(ctx, order))

	found, err := repo.FindOrder(ctx, order.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, domain.OrderFilled, found.Status)
	assert.Equal(t, "c1", found.ClientOrderID)
	assert.Equal(t, domain.Limit, found.Type)

	missing, err := repo.FindOrder(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRepository_NonceStoreKeepsMaximum(t *testing.T) {
	repo := setupTestDB(t)
	ctx := context.Background()

	n, err := repo.LoadNonce(ctx, "key-a")
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, repo.StoreNonce(ctx, "key-a", 1000))
	require.NoError(t, repo.StoreNonce(ctx, "key-a", 900))
	require.NoError(t, repo.StoreNonce(ctx, "key-b", 5))

	n, err = repo.LoadNonce(ctx, "key-a")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), n)

	var wg sync.WaitGroup
	for i := int64(1); i <= 20; i++ {
		wg.Add(1)
		go func(v int64) {
			defer wg.Done()
			assert.NoError(t, repo.StoreNonce(ctx, "key-a", 1000+v))
		}(i)
	}
	wg.Wait()

	n, err = repo.LoadNonce(ctx, "key-a")
	require.NoError(t, err)
	assert.Equal(t, int64(1020), n)
}
