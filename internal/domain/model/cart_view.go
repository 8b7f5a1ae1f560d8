package model

import "github.com/shopspring/decimal"

// カートの読み取りモデル（キャッシュにもこの形で入れる）
type CartView struct {
	Items []CartLineView  `json:"items"`
	Total decimal.Decimal `json:"total"`
}

// 価格と名前は表示時点の商品から取る（注文時に再計算する）
type CartLineView struct {
	ID        int64           `json:"id"`
	ProductID int64           `json:"product_id"`
	Name      string          `json:"name"`
	Variant   string          `json:"variant"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int64           `json:"quantity"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	Available int64           `json:"available"`
}
