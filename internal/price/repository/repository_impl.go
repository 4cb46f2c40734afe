package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	pricedomain "github.com/smallbiznis/meterline/internal/price/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() pricedomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, p *pricedomain.Price) error {
	return db.WithContext(ctx).Create(p).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, orgID, id snowflake.ID) (*pricedomain.Price, error) {
	var price pricedomain.Price
	err := db.WithContext(ctx).
		Where("org_id = ? AND id = ?", orgID, id).
		Limit(1).
		Find(&price).Error
	if err != nil {
		return nil, err
	}
	if price.ID == 0 {
		return nil, nil
	}
	return &price, nil
}

func (r *repo) ListActiveMetered(ctx context.Context, db *gorm.DB, orgID snowflake.ID) ([]pricedomain.Price, error) {
	var prices []pricedomain.Price
	err := db.WithContext(ctx).
		Where("org_id = ? AND type = ? AND active = ?", orgID, pricedomain.PriceTypeMetered, true).
		Order("id ASC").
		Find(&prices).Error
	return prices, err
}

func (r *repo) CountActiveByMeter(ctx context.Context, db *gorm.DB, orgID, meterID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&pricedomain.Price{}).
		Where("org_id = ? AND meter_id = ? AND active = ?", orgID, meterID, true).
		Count(&count).Error
	return count, err
}

func (r *repo) ReplaceSeatTiers(ctx context.Context, db *gorm.DB, priceID snowflake.ID, tiers []pricedomain.SeatTier) error {
	if err := db.WithContext(ctx).
		Where("price_id = ?", priceID).
		Delete(&pricedomain.SeatTier{}).Error; err != nil {
		return err
	}
	if len(tiers) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(&tiers).Error
}

func (r *repo) ListSeatTiers(ctx context.Context, db *gorm.DB, priceID snowflake.ID) ([]pricedomain.SeatTier, error) {
	var tiers []pricedomain.SeatTier
	err := db.WithContext(ctx).
		Where("price_id = ?", priceID).
		Order("min_seats ASC").
		Find(&tiers).Error
	return tiers, err
}
