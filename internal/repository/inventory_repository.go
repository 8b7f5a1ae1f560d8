package repository

import (
	"context"
	"fmt"

	"github.com/vanyaWEB/botsshop/internal/domain/model"
)

// 引当する1行
type StockLine struct {
	ProductID int64 `json:"product_id"`
	Quantity  int64 `json:"quantity"`
}

// 在庫不足。どの商品が足りなかったかを返す
type StockShortageError struct {
	ProductID int64
	Requested int64
	Available int64
}

func (e *StockShortageError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: requested %d, available %d", e.ProductID, e.Requested, e.Available)
}

// 在庫台帳。呼び出し側のトランザクション内で使う
type InventoryRepository interface {
	// 全行を検証してから減らす。足りなければ何も書かずに*StockShortageError
	ReserveAndCommit(ctx context.Context, lines []StockLine) ([]model.Product, error)

	// 在庫戻し
	Release(ctx context.Context, lines []StockLine) error

	// 増減履歴
	CreateAdjustments(ctx context.Context, adjustments []model.InventoryAdjustment) error
}
