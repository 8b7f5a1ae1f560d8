package repository

import (
	"context"

	"github.com/vanyaWEB/botsshop/internal/domain/model"
)

type CartItemRepository interface {
	ListByCartID(ctx context.Context, cartID int64) ([]model.CartItem, error)
	// 注文確定用。明細行をロックして読む
	ListByCartIDForUpdate(ctx context.Context, cartID int64) ([]model.CartItem, error)
	// 同じ(product, variant)は数量を足す。足した結果がlimitを超えるなら*StockShortageError
	AddOrMerge(ctx context.Context, cartID int64, productID int64, variant string, addQty int64, limit int64) (model.CartItem, error)
	UpdateQuantity(ctx context.Context, cartItemID int64, qty int64) error
	DeleteByID(ctx context.Context, cartItemID int64) error
	FindByID(ctx context.Context, cartItemID int64) (model.CartItem, error)
	IsOwnedByUser(ctx context.Context, cartItemID int64, userID int64) (bool, error)
}
