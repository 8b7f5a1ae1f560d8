package repository

import (
	"context"
	"errors"
	"time"

	"github.com/vanyaWEB/botsshop/internal/domain/model"
	repo "github.com/vanyaWEB/botsshop/internal/repository"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// carts と cart_items の両方を扱う
type CartGormRepository struct {
	db *gorm.DB
}

// DI
func NewCartGormRepository(db *gorm.DB) *CartGormRepository {
	return &CartGormRepository{db: db}
}

// ユーザーのカートを取得し、無ければ作成
func (r *CartGormRepository) GetOrCreateByUserID(ctx context.Context, userID int64) (model.Cart, error) {
	now := time.Now()
	newCart := model.Cart{UserID: userID, CreatedAt: now, UpdatedAt: now}

	//同時に作られても1行だけ
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(&newCart).Error; err != nil {
		return model.Cart{}, err
	}

	return r.FindByUserID(ctx, userID)
}

func (r *CartGormRepository) FindByUserID(ctx context.Context, userID int64) (model.Cart, error) {
	var cart model.Cart

	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&cart).Error

	if isNotFound(err) {
		return model.Cart{}, repo.ErrNotFound
	}
	if err != nil {
		return model.Cart{}, err
	}
	return cart, nil
}

// 指定カートの明細を全削除
func (r *CartGormRepository) Clear(ctx context.Context, cartID int64) error {
	return r.db.WithContext(ctx).
		Where("cart_id = ?", cartID).
		Delete(&model.CartItem{}).Error
}

// カート明細を一覧取得
func (r *CartGormRepository) ListByCartID(ctx context.Context, cartID int64) ([]model.CartItem, error) {
	var items []model.CartItem

	if err := r.db.WithContext(ctx).
		Where("cart_id = ?", cartID).
		Order("id asc").
		Find(&items).Error; err != nil {
		return []model.CartItem{}, err
	}

	return items, nil
}

// 注文確定用（同じカートの二重注文を直列化）
func (r *CartGormRepository) ListByCartIDForUpdate(ctx context.Context, cartID int64) ([]model.CartItem, error) {
	var items []model.CartItem

	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("cart_id = ?", cartID).
		Order("id asc").
		Find(&items).Error; err != nil {
		return []model.CartItem{}, err
	}

	return items, nil
}

// AddOrMerge は同一(商品, バリエーション)の数量を加算する。
// 加算後がlimitを超えるなら何も変えずにStockShortageErrorを返す。
func (r *CartGormRepository) AddOrMerge(ctx context.Context, cartID int64, productID int64, variant string, addQty int64, limit int64) (model.CartItem, error) {
	if addQty <= 0 {
		return model.CartItem{}, errors.New("invalid quantity")
	}

	var out model.CartItem
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		line := tx.Model(&model.CartItem{}).
			Where("cart_id = ? AND product_id = ? AND variant = ?", cartID, productID, variant).
			Session(&gorm.Session{})

		//挿入が競合したら加算をもう一度試す
		for attempt := 0; attempt < 2; attempt++ {
			now := time.Now()
			res := line.
				Where("quantity + ? <= ?", addQty, limit).
				Updates(map[string]interface{}{
					"quantity":   gorm.Expr("quantity + ?", addQty),
					"updated_at": now,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 1 {
				out = model.CartItem{}
				return line.First(&out).Error
			}

			var existing model.CartItem
			err := line.First(&existing).Error
			if err == nil {
				return &repo.StockShortageError{ProductID: productID, Requested: existing.Quantity + addQty, Available: limit}
			}
			if !isNotFound(err) {
				return err
			}
			if addQty > limit {
				return &repo.StockShortageError{ProductID: productID, Requested: addQty, Available: limit}
			}

			out = model.CartItem{
				CartID:    cartID,
				ProductID: productID,
				Variant:   variant,
				Quantity:  addQty,
				CreatedAt: now,
				UpdatedAt: now,
			}
			ins := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "cart_id"}, {Name: "product_id"}, {Name: "variant"}},
				DoNothing: true,
			}).Create(&out)
			if ins.Error != nil {
				return ins.Error
			}
			if ins.RowsAffected == 1 {
				return nil
			}
		}
		return errors.New("cart line changed concurrently")
	})
	if err != nil {
		return model.CartItem{}, err
	}
	return out, nil
}

// 明細の数量を更新
func (r *CartGormRepository) UpdateQuantity(ctx context.Context, cartItemID int64, qty int64) error {
	res := r.db.WithContext(ctx).
		Model(&model.CartItem{}).
		Where("id = ?", cartItemID).
		Update("quantity", qty)

	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrNotFound
	}
	return nil
}

// 明細を削除
func (r *CartGormRepository) DeleteByID(ctx context.Context, cartItemID int64) error {
	res := r.db.WithContext(ctx).Delete(&model.CartItem{}, cartItemID)

	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrNotFound
	}
	return nil
}

// 明細を取得
func (r *CartGormRepository) FindByID(ctx context.Context, cartItemID int64) (model.CartItem, error) {
	var item model.CartItem

	err := r.db.WithContext(ctx).
		Where("id = ?", cartItemID).
		First(&item).Error

	if isNotFound(err) {
		return model.CartItem{}, repo.ErrNotFound
	}
	if err != nil {
		return model.CartItem{}, err
	}
	return item, nil
}

//cartItemが、そのuserのカートに属しているかを判定

func (r *CartGormRepository) IsOwnedByUser(ctx context.Context, cartItemID int64, userID int64) (bool, error) {
	var count int64

	err := r.db.WithContext(ctx).
		Table("cart_items").
		Joins("join carts on carts.id = cart_items.cart_id").
		Where("cart_items.id = ? AND carts.user_id = ?", cartItemID, userID).
		Count(&count).Error

	if err != nil {
		return false, err
	}

	return count > 0, nil
}
