package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// 商品（カタログ管理は外部。ここでは在庫と価格の参照だけ）
type Product struct {
	ID          int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	CategoryID  *int64          `gorm:"index" json:"category_id"`
	Name        string          `gorm:"type:varchar(255);not null" json:"name"`
	Description string          `gorm:"type:text" json:"description"`
	Price       decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"price"`
	Stock       int64           `gorm:"not null" json:"stock"`
	IsActive    bool            `gorm:"not null;default:false" json:"is_active"`

	//サイズなど。空ならバリエーション無し
	Variants []string `gorm:"type:jsonb;serializer:json;not null" json:"variants"`

	CreatedAt time.Time      `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// variantがこの商品で選べるか
func (p Product) AcceptsVariant(variant string) bool {
	if len(p.Variants) == 0 {
		return variant == ""
	}
	for _, v := range p.Variants {
		if v == variant {
			return true
		}
	}
	return false
}
