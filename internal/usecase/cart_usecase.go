package usecase

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/vanyaWEB/botsshop/internal/domain/model"
	repo "github.com/vanyaWEB/botsshop/internal/repository"

	"golang.org/x/sync/singleflight"
)

// CartUsecase は /cart の業務ロジックです。
// ここでの在庫チェックは目安で、確定は注文作成時にもう一度行う。
type CartUsecase struct {
	carts     repo.CartRepository
	cartItems repo.CartItemRepository
	products  repo.ProductRepository
	cache     CartCache
	log       *slog.Logger

	sfg singleflight.Group
}

func NewCartUsecase(
	carts repo.CartRepository,
	cartItems repo.CartItemRepository,
	products repo.ProductRepository,
	cache CartCache,
	log *slog.Logger,
) *CartUsecase {
	return &CartUsecase{
		carts:     carts,
		cartItems: cartItems,
		products:  products,
		cache:     cache,
		log:       log,
	}
}

type AddCartInput struct {
	ProductID int64
	Variant   string
	Quantity  int64
}

type UpdateCartItemInput struct {
	Quantity int64
}

// GetCart はカート取得（無ければ空を返す）。
func (u *CartUsecase) GetCart(ctx context.Context, userID int64) (model.CartView, error) {
	if userID <= 0 {
		return model.CartView{}, ErrUnauthorized
	}

	//同じユーザーの同時ミスは1回だけDBへ
	v, err, _ := u.sfg.Do(strconv.FormatInt(userID, 10), func() (interface{}, error) {
		view, gen, found, err := u.cache.Get(ctx, userID)
		if err != nil {
			u.log.WarnContext(ctx, "cart cache get failed", "user_id", userID, "err", err)
		}
		if found {
			return view, nil
		}

		view, err = u.buildCartView(ctx, userID)
		if err != nil {
			return nil, err
		}
		if err := u.cache.Set(ctx, userID, gen, view); err != nil {
			u.log.WarnContext(ctx, "cart cache set failed", "user_id", userID, "err", err)
		}
		return view, nil
	})
	if err != nil {
		return model.CartView{}, err
	}
	return v.(model.CartView), nil
}

// AddToCart はカートに追加（同一商品・同一バリエーションは数量加算）。
func (u *CartUsecase) AddToCart(ctx context.Context, userID int64, in AddCartInput) (model.CartView, error) {
	if userID <= 0 {
		return model.CartView{}, ErrUnauthorized
	}
	if in.ProductID <= 0 {
		return model.CartView{}, NewHTTPError(http.StatusBadRequest, "invalid product_id")
	}
	if in.Quantity < 1 {
		return model.CartView{}, NewHTTPError(http.StatusBadRequest, "invalid quantity")
	}
	variant := strings.TrimSpace(in.Variant)

	// 商品チェック（公開のみ）
	p, err := u.products.FindByID(ctx, in.ProductID)
	if errors.Is(err, repo.ErrNotFound) {
		return model.CartView{}, ErrNotFound
	}
	if err != nil {
		return model.CartView{}, err
	}
	if !p.IsActive {
		return model.CartView{}, ErrNotFound
	}
	if !p.AcceptsVariant(variant) {
		return model.CartView{}, NewHTTPError(http.StatusBadRequest, "invalid variant")
	}

	cart, err := u.carts.GetOrCreateByUserID(ctx, userID)
	if err != nil {
		return model.CartView{}, err
	}

	if _, err := u.cartItems.AddOrMerge(ctx, cart.ID, p.ID, variant, in.Quantity, p.Stock); err != nil {
		var shortage *repo.StockShortageError
		if errors.As(err, &shortage) {
			return model.CartView{}, &InsufficientStockError{
				ProductID:   p.ID,
				ProductName: p.Name,
				Requested:   shortage.Requested,
				Available:   p.Stock,
			}
		}
		return model.CartView{}, err
	}

	return u.refresh(ctx, userID)
}

// 数量変更（0以下なら削除）。
func (u *CartUsecase) UpdateCartItem(ctx context.Context, userID int64, cartItemID int64, in UpdateCartItemInput) (model.CartView, error) {
	if userID <= 0 {
		return model.CartView{}, ErrUnauthorized
	}
	if cartItemID <= 0 {
		return model.CartView{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if in.Quantity <= 0 {
		return u.DeleteCartItem(ctx, userID, cartItemID)
	}

	item, err := u.ownedItem(ctx, userID, cartItemID)
	if err != nil {
		return model.CartView{}, err
	}

	//商品の在庫チェック
	p, err := u.products.FindByID(ctx, item.ProductID)
	if errors.Is(err, repo.ErrNotFound) {
		return model.CartView{}, ErrNotFound
	}
	if err != nil {
		return model.CartView{}, err
	}
	if !p.IsActive {
		return model.CartView{}, ErrNotFound
	}
	if in.Quantity > p.Stock {
		return model.CartView{}, &InsufficientStockError{
			ProductID:   p.ID,
			ProductName: p.Name,
			Requested:   in.Quantity,
			Available:   p.Stock,
		}
	}

	if err := u.cartItems.UpdateQuantity(ctx, cartItemID, in.Quantity); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.CartView{}, ErrNotFound
		}
		return model.CartView{}, err
	}

	return u.refresh(ctx, userID)
}

// 明細削除
func (u *CartUsecase) DeleteCartItem(ctx context.Context, userID int64, cartItemID int64) (model.CartView, error) {
	if userID <= 0 {
		return model.CartView{}, ErrUnauthorized
	}
	if cartItemID <= 0 {
		return model.CartView{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	if _, err := u.ownedItem(ctx, userID, cartItemID); err != nil {
		return model.CartView{}, err
	}

	if err := u.cartItems.DeleteByID(ctx, cartItemID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return model.CartView{}, ErrNotFound
		}
		return model.CartView{}, err
	}

	return u.refresh(ctx, userID)
}

// カートを空にする
func (u *CartUsecase) ClearCart(ctx context.Context, userID int64) error {
	if userID <= 0 {
		return ErrUnauthorized
	}

	cart, err := u.carts.FindByUserID(ctx, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := u.carts.Clear(ctx, cart.ID); err != nil {
		return err
	}

	u.Invalidate(ctx, userID)
	return nil
}

// 注文作成などカートの外で中身が変わったとき用
func (u *CartUsecase) Invalidate(ctx context.Context, userID int64) {
	if err := u.cache.Delete(ctx, userID); err != nil {
		u.log.WarnContext(ctx, "cart cache delete failed", "user_id", userID, "err", err)
	}
}

// 他人の明細は「存在しない扱い」
func (u *CartUsecase) ownedItem(ctx context.Context, userID int64, cartItemID int64) (model.CartItem, error) {
	owned, err := u.cartItems.IsOwnedByUser(ctx, cartItemID, userID)
	if err != nil {
		return model.CartItem{}, err
	}
	if !owned {
		return model.CartItem{}, ErrNotFound
	}

	item, err := u.cartItems.FindByID(ctx, cartItemID)
	if errors.Is(err, repo.ErrNotFound) {
		return model.CartItem{}, ErrNotFound
	}
	if err != nil {
		return model.CartItem{}, err
	}
	return item, nil
}

func (u *CartUsecase) refresh(ctx context.Context, userID int64) (model.CartView, error) {
	u.Invalidate(ctx, userID)
	return u.buildCartView(ctx, userID)
}

// 明細に現在の商品情報を当てて表示用にまとめる。
// 非公開・削除済みの商品の行は出さない。
func (u *CartUsecase) buildCartView(ctx context.Context, userID int64) (model.CartView, error) {
	view := model.CartView{Items: []model.CartLineView{}, Total: decimal.Zero}

	cart, err := u.carts.FindByUserID(ctx, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return view, nil
	}
	if err != nil {
		return model.CartView{}, err
	}

	items, err := u.cartItems.ListByCartID(ctx, cart.ID)
	if err != nil {
		return model.CartView{}, err
	}
	if len(items) == 0 {
		return view, nil
	}

	ids := make([]int64, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ProductID)
	}
	products, err := u.products.FindByIDs(ctx, ids)
	if err != nil {
		return model.CartView{}, err
	}

	for _, it := range items {
		p, ok := products[it.ProductID]
		if !ok || !p.IsActive {
			continue
		}

		subtotal := p.Price.Mul(decimal.NewFromInt(it.Quantity))
		view.Items = append(view.Items, model.CartLineView{
			ID:        it.ID,
			ProductID: it.ProductID,
			Name:      p.Name,
			Variant:   it.Variant,
			Price:     p.Price,
			Quantity:  it.Quantity,
			Subtotal:  subtotal,
			Available: p.Stock,
		})
		view.Total = view.Total.Add(subtotal)
	}

	return view, nil
}
