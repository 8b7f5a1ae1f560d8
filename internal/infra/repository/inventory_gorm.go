package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/vanyaWEB/botsshop/internal/domain/model"
	repo "github.com/vanyaWEB/botsshop/internal/repository"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type InventoryGormRepository struct {
	db *gorm.DB
}

func NewInventoryGormRepository(db *gorm.DB) *InventoryGormRepository {
	return &InventoryGormRepository{db: db}
}

// 全商品をid昇順でロックして検証し、全部足りるときだけ減らす。
// ロック順を固定しているので、複数商品の同時注文同士でデッドロックしない。
func (r *InventoryGormRepository) ReserveAndCommit(ctx context.Context, lines []repo.StockLine) ([]model.Product, error) {
	merged, err := mergeStockLines(lines)
	if err != nil {
		return nil, err
	}
	if len(merged) == 0 {
		return []model.Product{}, nil
	}

	ids := make([]int64, 0, len(merged))
	for _, l := range merged {
		ids = append(ids, l.ProductID)
	}

	var products []model.Product
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id IN ?", ids).
		Order("id asc").
		Find(&products).Error; err != nil {
		return nil, err
	}

	byID := make(map[int64]int, len(products))
	for i, p := range products {
		byID[p.ID] = i
	}

	//先に全部チェック（ここでは何も書かない）
	for _, l := range merged {
		i, ok := byID[l.ProductID]
		if !ok || !products[i].IsActive {
			return nil, &repo.StockShortageError{ProductID: l.ProductID, Requested: l.Quantity, Available: 0}
		}
		if products[i].Stock < l.Quantity {
			return nil, &repo.StockShortageError{ProductID: l.ProductID, Requested: l.Quantity, Available: products[i].Stock}
		}
	}

	for _, l := range merged {
		res := r.db.WithContext(ctx).
			Model(&model.Product{}).
			Where("id = ? AND stock >= ?", l.ProductID, l.Quantity).
			Update("stock", gorm.Expr("stock - ?", l.Quantity))
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			i := byID[l.ProductID]
			return nil, &repo.StockShortageError{ProductID: l.ProductID, Requested: l.Quantity, Available: products[i].Stock}
		}
		products[byID[l.ProductID]].Stock -= l.Quantity
	}

	return products, nil
}

// 在庫戻し（キャンセル）。
// 論理削除された商品にも戻す（復活させたときに数が合うように）
func (r *InventoryGormRepository) Release(ctx context.Context, lines []repo.StockLine) error {
	merged, err := mergeStockLines(lines)
	if err != nil {
		return err
	}

	for _, l := range merged {
		res := r.db.WithContext(ctx).
			Unscoped().
			Model(&model.Product{}).
			Where("id = ?", l.ProductID).
			Update("stock", gorm.Expr("stock + ?", l.Quantity))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return repo.ErrNotFound
		}
	}
	return nil
}

// 調整履歴作成
func (r *InventoryGormRepository) CreateAdjustments(ctx context.Context, adjustments []model.InventoryAdjustment) error {
	if len(adjustments) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Create(&adjustments).Error; err != nil {
		return err
	}
	return nil
}

// 同じ商品の行（バリエーション違い）を合算し、id昇順に並べる
func mergeStockLines(lines []repo.StockLine) ([]repo.StockLine, error) {
	sum := make(map[int64]int64, len(lines))
	for _, l := range lines {
		if l.Quantity <= 0 {
			return nil, fmt.Errorf("invalid quantity %d for product %d", l.Quantity, l.ProductID)
		}
		sum[l.ProductID] += l.Quantity
	}

	out := make([]repo.StockLine, 0, len(sum))
	for id, qty := range sum {
		out = append(out, repo.StockLine{ProductID: id, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
