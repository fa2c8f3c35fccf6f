package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// UserProfile is one applicant's financial profile, keyed by the external UserID
// carried in uploaded CSV files.
type UserProfile struct {
	ID               uint `gorm:"primaryKey"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
	UserID           string          `gorm:"size:100;not null;uniqueIndex"`
	Email            string          `gorm:"size:254;not null"`
	MonthlyIncome    decimal.Decimal `gorm:"type:numeric(10,2);not null"`
	CreditScore      int             `gorm:"not null;check:chk_user_profiles_credit_score,credit_score >= 300 AND credit_score <= 850"`
	EmploymentStatus string          `gorm:"size:100;not null"`
	Age              int             `gorm:"not null;check:chk_user_profiles_age,age >= 18"`
}

const (
	MinCreditScore = 300
	MaxCreditScore = 850
	MinAge         = 18
)
