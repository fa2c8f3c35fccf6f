package models

// All lists every persisted model in dependency order (parents before children)
// so AutoMigrate can create foreign keys.
func All() []any {
	return []any{&UserProfile{}, &LoanProduct{}, &UserLoanMatch{}, &CSVUpload{}}
}
