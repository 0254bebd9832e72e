package money

import (
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
)

// TestDataGenerator produces realistic bank statement test data.
type TestDataGenerator struct {
	faker *gofakeit.Faker
}

// NewTestDataGenerator creates a generator with a specific seed for
// reproducibility.
func NewTestDataGenerator(seed int64) *TestDataGenerator {
	return &TestDataGenerator{
		faker: gofakeit.New(seed),
	}
}

// TestRow is one generated statement row as a bank would export it.
type TestRow struct {
	ID          uuid.UUID
	Date        time.Time
	Description string
	AmountMinor int64
	IsExpense   bool
}

var merchantNames = []string{
	"STARBUCKS", "WHOLE FOODS MARKET", "AMAZON.COM", "NETFLIX.COM",
	"SHELL OIL", "TRADER JOE'S", "CVS PHARMACY", "UBER TRIP",
	"SPOTIFY", "HOME DEPOT", "TARGET", "COSTCO WHOLESALE",
}

var noiseTemplates = []string{
	"POS DEBIT %s",
	"CHECKCARD %s",
	"DEBIT CARD PURCHASE %s",
	"ACH WITHDRAWAL %s",
	"%s",
}

// Row generates a single random statement row.
func (g *TestDataGenerator) Row() TestRow {
	isExpense := g.faker.Number(0, 9) < 8 // most statement rows are outflows

	amount := int64(g.faker.Number(100, 50000))
	if isExpense {
		amount = -amount
	}

	merchant := merchantNames[g.faker.Number(0, len(merchantNames)-1)]
	template := noiseTemplates[g.faker.Number(0, len(noiseTemplates)-1)]

	return TestRow{
		ID:          uuid.New(),
		Date:        g.faker.DateRange(time.Now().AddDate(-1, 0, 0), time.Now()),
		Description: fmt.Sprintf(template, merchant),
		AmountMinor: amount,
		IsExpense:   isExpense,
	}
}

// Rows generates count random statement rows.
func (g *TestDataGenerator) Rows(count int) []TestRow {
	rows := make([]TestRow, count)
	for i := range rows {
		rows[i] = g.Row()
	}
	return rows
}
