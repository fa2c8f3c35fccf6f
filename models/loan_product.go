package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LoanProduct is a lending offer discovered by the external matcher.
type LoanProduct struct {
	ID                 uint `gorm:"primaryKey"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
	ProductName        string          `gorm:"size:255;not null"`
	Provider           string          `gorm:"size:255;not null"`
	InterestRate       decimal.Decimal `gorm:"type:numeric(5,2);not null;index"`
	MinIncome          decimal.Decimal `gorm:"type:numeric(10,2);not null"`
	MinCreditScore     int             `gorm:"not null"`
	MaxCreditScore     int             `gorm:"not null;default:850"`
	MinAge             int             `gorm:"not null;default:18"`
	MaxAge             int             `gorm:"not null;default:65"`
	EmploymentRequired *string         `gorm:"size:255"`
	ProductURL         *string         `gorm:"column:product_url;size:200"`
}
