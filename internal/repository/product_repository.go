package repository

import (
	"context"

	"github.com/vanyaWEB/botsshop/internal/domain/model"
)

// カタログ参照。キャッシュせず常に現在の価格と在庫を返す
type ProductRepository interface {
	FindByID(ctx context.Context, id int64) (model.Product, error)
	FindByIDs(ctx context.Context, ids []int64) (map[int64]model.Product, error)
}
