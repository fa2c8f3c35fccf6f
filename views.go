package main

import (
	"time"

	"loanmatch/models"
)

// JSON projections. Money is always rendered with two decimals.

type userView struct {
	ID               uint   `json:"id"`
	UserID           string `json:"user_id"`
	Email            string `json:"email"`
	MonthlyIncome    string `json:"monthly_income"`
	CreditScore      int    `json:"credit_score"`
	EmploymentStatus string `json:"employment_status"`
	Age              int    `json:"age"`
}

func newUserView(p models.UserProfile) userView {
	return userView{
		ID:               p.ID,
		UserID:           p.UserID,
		Email:            p.Email,
		MonthlyIncome:    p.MonthlyIncome.StringFixed(2),
		CreditScore:      p.CreditScore,
		EmploymentStatus: p.EmploymentStatus,
		Age:              p.Age,
	}
}

type productView struct {
	ID                 uint    `json:"id"`
	ProductName        string  `json:"product_name"`
	Provider           string  `json:"provider"`
	InterestRate       string  `json:"interest_rate"`
	MinIncome          string  `json:"min_income"`
	MinCreditScore     int     `json:"min_credit_score"`
	MaxCreditScore     int     `json:"max_credit_score"`
	MinAge             int     `json:"min_age"`
	MaxAge             int     `json:"max_age"`
	EmploymentRequired *string `json:"employment_required"`
	ProductURL         *string `json:"product_url"`
}

func newProductView(p models.LoanProduct) productView {
	return productView{
		ID:                 p.ID,
		ProductName:        p.ProductName,
		Provider:           p.Provider,
		InterestRate:       p.InterestRate.StringFixed(2),
		MinIncome:          p.MinIncome.StringFixed(2),
		MinCreditScore:     p.MinCreditScore,
		MaxCreditScore:     p.MaxCreditScore,
		MinAge:             p.MinAge,
		MaxAge:             p.MaxAge,
		EmploymentRequired: p.EmploymentRequired,
		ProductURL:         p.ProductURL,
	}
}

type uploadView struct {
	ID                uint      `json:"id"`
	Filename          string    `json:"filename"`
	UploadedAt        time.Time `json:"uploaded_at"`
	TotalRecords      int       `json:"total_records"`
	SuccessfulRecords int       `json:"successful_records"`
	FailedRecords     int       `json:"failed_records"`
	Status            string    `json:"status"`
	ErrorLog          *string   `json:"error_log"`
}

func newUploadView(u models.CSVUpload) uploadView {
	return uploadView{
		ID:                u.ID,
		Filename:          u.Filename,
		UploadedAt:        u.UploadedAt,
		TotalRecords:      u.TotalRecords,
		SuccessfulRecords: u.SuccessfulRecords,
		FailedRecords:     u.FailedRecords,
		Status:            string(u.Status),
		ErrorLog:          u.ErrorLog,
	}
}

type matchView struct {
	ID            uint       `json:"id"`
	UserID        uint       `json:"user_id"`
	ExternalID    string     `json:"external_user_id"`
	Email         string     `json:"email"`
	LoanProductID uint       `json:"loan_product_id"`
	ProductName   string     `json:"product_name"`
	Provider      string     `json:"provider"`
	MatchScore    int        `json:"match_score"`
	Notified      bool       `json:"notified"`
	NotifiedAt    *time.Time `json:"notified_at"`
	CreatedAt     time.Time  `json:"created_at"`
}

func newMatchView(m models.UserLoanMatch) matchView {
	return matchView{
		ID:            m.ID,
		UserID:        m.UserID,
		ExternalID:    m.User.UserID,
		Email:         m.User.Email,
		LoanProductID: m.LoanProductID,
		ProductName:   m.LoanProduct.ProductName,
		Provider:      m.LoanProduct.Provider,
		MatchScore:    m.MatchScore,
		Notified:      m.Notified,
		NotifiedAt:    m.NotifiedAt,
		CreatedAt:     m.CreatedAt,
	}
}

func mapViews[T, V any](in []T, f func(T) V) []V {
	out := make([]V, 0, len(in))
	for _, v := range in {
		out = append(out, f(v))
	}
	return out
}
