package ingest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/mail"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"loanmatch/models"

	"github.com/shopspring/decimal"
)

// Columns every upload must carry, in the canonical export order.
var RequiredColumns = []string{"user_id", "email", "monthly_income", "credit_score", "employment_status", "age"}

var (
	utf8BOM   = []byte{0xEF, 0xBB, 0xBF}
	maxIncome = decimal.New(1, 8)
)

// IsCSVName reports whether name has a .csv extension, ignoring case.
func IsCSVName(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".csv")
}

// Record is one validated CSV row.
type Record struct {
	UserID           string
	Email            string
	MonthlyIncome    decimal.Decimal
	CreditScore      int
	EmploymentStatus string
	Age              int
}

func (r Record) Profile() models.UserProfile {
	return models.UserProfile{
		UserID:           r.UserID,
		Email:            r.Email,
		MonthlyIncome:    r.MonthlyIncome,
		CreditScore:      r.CreditScore,
		EmploymentStatus: r.EmploymentStatus,
		Age:              r.Age,
	}
}

// Row is the outcome of reading one data line. Exactly one of Record and Err is meaningful.
type Row struct {
	Num    int
	Record Record
	Err    error
}

// RowError prefixes a row failure with its 1-based line number (the header is row 1).
type RowError struct {
	Row int
	Err error
}

func (e *RowError) Error() string { return fmt.Sprintf("Row %d: %v", e.Row, e.Err) }

func (e *RowError) Unwrap() error { return e.Err }

// ReadRows decodes data as a header line followed by profile rows. Invalid
// UTF-8 or an unreadable header is returned as a *FileError; anything wrong
// with a single row is reported on that Row.
func ReadRows(data []byte) ([]Row, error) {
	if !utf8.Valid(data) {
		return nil, &FileError{Err: errors.New("file is not valid UTF-8")}
	}
	data = bytes.TrimPrefix(data, utf8BOM)

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, &FileError{Err: fmt.Errorf("read header: %w", err)}
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.TrimSpace(h)
		if _, dup := cols[name]; !dup {
			cols[name] = i
		}
	}

	var rows []Row
	for num := 2; ; num++ {
		fields, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if !errors.As(err, &perr) {
				return rows, &FileError{Err: err}
			}
			rows = append(rows, Row{Num: num, Err: &RowError{Row: num, Err: perr.Err}})
			continue
		}
		rec, err := parseRecord(cols, fields)
		if err != nil {
			rows = append(rows, Row{Num: num, Err: &RowError{Row: num, Err: err}})
			continue
		}
		rows = append(rows, Row{Num: num, Record: rec})
	}
	return rows, nil
}

func parseRecord(cols map[string]int, fields []string) (Record, error) {
	vals := make(map[string]string, len(RequiredColumns))
	for _, name := range RequiredColumns {
		i, ok := cols[name]
		if !ok || i >= len(fields) {
			return Record{}, fmt.Errorf("missing field %q", name)
		}
		vals[name] = strings.TrimSpace(fields[i])
	}

	rec := Record{
		UserID:           vals["user_id"],
		EmploymentStatus: vals["employment_status"],
	}
	if rec.UserID == "" {
		return Record{}, errors.New("user_id is empty")
	}
	if len(rec.UserID) > 100 {
		return Record{}, errors.New("user_id longer than 100 characters")
	}

	addr, err := mail.ParseAddress(vals["email"])
	if err != nil || addr.Address != vals["email"] {
		return Record{}, fmt.Errorf("invalid email %q", vals["email"])
	}
	rec.Email = addr.Address

	income, err := decimal.NewFromString(vals["monthly_income"])
	if err != nil {
		return Record{}, fmt.Errorf("invalid monthly_income %q", vals["monthly_income"])
	}
	income = income.Round(2)
	if income.IsNegative() || income.GreaterThanOrEqual(maxIncome) {
		return Record{}, fmt.Errorf("monthly_income %s out of range", income.StringFixed(2))
	}
	rec.MonthlyIncome = income

	rec.CreditScore, err = strconv.Atoi(vals["credit_score"])
	if err != nil {
		return Record{}, fmt.Errorf("invalid credit_score %q", vals["credit_score"])
	}
	if rec.CreditScore < models.MinCreditScore || rec.CreditScore > models.MaxCreditScore {
		return Record{}, fmt.Errorf("credit_score %d out of range %d-%d", rec.CreditScore, models.MinCreditScore, models.MaxCreditScore)
	}

	rec.Age, err = strconv.Atoi(vals["age"])
	if err != nil {
		return Record{}, fmt.Errorf("invalid age %q", vals["age"])
	}
	if rec.Age < models.MinAge {
		return Record{}, fmt.Errorf("age %d below minimum %d", rec.Age, models.MinAge)
	}
	return rec, nil
}
