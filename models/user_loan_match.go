package models

import "time"

// DefaultMatchScore is used when the matcher posts a match without a score.
// It is applied in code rather than as a column default so that an explicit
// score of 0 survives gorm's zero-value handling.
const DefaultMatchScore = 100

// UserLoanMatch links a profile to a product it qualifies for. At most one row
// exists per (UserID, LoanProductID); deleting either parent removes the match.
type UserLoanMatch struct {
	ID            uint `gorm:"primaryKey"`
	CreatedAt     time.Time
	UserID        uint        `gorm:"not null;uniqueIndex:idx_user_loan_matches_pair,priority:1"`
	User          UserProfile `gorm:"foreignKey:UserID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	LoanProductID uint        `gorm:"not null;index;uniqueIndex:idx_user_loan_matches_pair,priority:2"`
	LoanProduct   LoanProduct `gorm:"foreignKey:LoanProductID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	MatchScore    int         `gorm:"not null;check:chk_user_loan_matches_score,match_score >= 0 AND match_score <= 100"`
	Notified      bool        `gorm:"not null;default:false;index"`
	NotifiedAt    *time.Time
}
