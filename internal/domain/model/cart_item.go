package model

import "time"

// カートの明細
// (cart_id, product_id, variant) で1行。追加は数量を足し込む。
type CartItem struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	CartID    int64     `gorm:"not null;uniqueIndex:ux_cart_items_line,priority:1" json:"cart_id"`
	ProductID int64     `gorm:"not null;uniqueIndex:ux_cart_items_line,priority:2;index" json:"product_id"`
	Variant   string    `gorm:"type:varchar(64);not null;default:'';uniqueIndex:ux_cart_items_line,priority:3" json:"variant"`
	Quantity  int64     `gorm:"not null" json:"quantity"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`
}
