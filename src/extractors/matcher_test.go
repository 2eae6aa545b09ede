package extractors

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeHeader(t *testing.T) {
	cases := map[string]string{
		"Total_Amount_Charged":  "totalamountcharged",
		"Total amount charged":  "totalamountcharged",
		"TOTAL-AMOUNT-CHARGED ": "totalamountcharged",
		"Amount (USD)":          "amountusd",
		"123":                   "",
		"":                      "",
	}
	for in, want := range cases {
		assert.Equal(t, want, normalizeHeader(in), "input=%q", in)
	}
}

func TestMatchAmountColumnPriority(t *testing.T) {
	// An exact "total amount charged" header beats a loose "price" header
	// even when the loose one comes first in column order.
	headers := []string{"Price", "Description", "Total Amount Charged"}
	col, rule := matchAmountColumn(headers)
	assert.Equal(t, 2, col)
	assert.Equal(t, 0, rule)

	// Tier two: all three tokens present but with extra words.
	headers = []string{"Description", "Grand Total Amount Charged (EUR)"}
	col, rule = matchAmountColumn(headers)
	assert.Equal(t, 1, col)
	assert.Equal(t, 1, rule)

	// Tier three: loose token only.
	headers = []string{"Description", "Fee"}
	col, rule = matchAmountColumn(headers)
	assert.Equal(t, 1, col)
	assert.Equal(t, 2, rule)
}

func TestMatchAmountColumnFirstOfEqualPriority(t *testing.T) {
	// Two loose candidates: column order decides.
	headers := []string{"Cost", "Price"}
	col, rule := matchAmountColumn(headers)
	assert.Equal(t, 0, col)
	assert.Equal(t, 2, rule)
}

func TestMatchAmountColumnNoMatch(t *testing.T) {
	col, rule := matchAmountColumn([]string{"Date", "Description", "Notes"})
	assert.Equal(t, -1, col)
	assert.Equal(t, -1, rule)

	col, rule = matchAmountColumn(nil)
	assert.Equal(t, -1, col)
	assert.Equal(t, -1, rule)
}

func TestIsLooseAmountHeader(t *testing.T) {
	assert.True(t, isLooseAmountHeader("Total"))
	assert.True(t, isLooseAmountHeader("Amount (INR)"))
	assert.True(t, isLooseAmountHeader("charged"))
	assert.False(t, isLooseAmountHeader("Description"))
	assert.False(t, isLooseAmountHeader("Fee")) // fallback scan is narrower than the CSV loose tier
}
