package extractors

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractCSVWithAmountColumn(t *testing.T) {
	data := []byte("Date,Description,Total_Amount_Charged\n" +
		"2024-01-01,Lunch,100.50\n" +
		"2024-01-02,Typo,abc\n" +
		"2024-01-03,Refund,-5\n" +
		"2024-01-04,Freebie,0\n" +
		"2024-01-05,Hotel,200\n")

	result, err := Extract(data, "expenses.csv")
	require.NoError(t, err)

	assert.Equal(t, "csv", result.FileKind)
	assert.Equal(t, "Total_Amount_Charged", result.MatchedColumn)
	require.Len(t, result.Amounts, 2)
	assert.True(t, result.Amounts[0].Value.Equal(decimal.RequireFromString("100.50")),
		"got %s", result.Amounts[0].Value)
	assert.True(t, result.Amounts[1].Value.Equal(decimal.RequireFromString("200")),
		"got %s", result.Amounts[1].Value)
	assert.Equal(t, "300.5", result.Total.String())
}

func TestExtractCSVCurrencySymbolsAndSeparators(t *testing.T) {
	data := []byte("Item,Total Amount Charged\n" +
		"A,\"₹1,234.50\"\n" +
		"B, 100.50 \n" +
		"C,$2000\n")

	result, err := Extract(data, "charges.csv")
	require.NoError(t, err)
	require.Len(t, result.Amounts, 3)
	assert.Equal(t, "3335", result.Total.String())
}

func TestExtractCSVNoAmountColumn(t *testing.T) {
	data := []byte("Date,Description,Notes\n2024-01-01,Lunch,ok\n")

	result, err := Extract(data, "notes.csv")
	require.NoError(t, err)
	assert.Empty(t, result.MatchedColumn)
	assert.Empty(t, result.Amounts)
	assert.True(t, result.Total.IsZero())
}

func TestExtractCSVEmptyFile(t *testing.T) {
	_, err := Extract([]byte(""), "empty.csv")
	assert.ErrorIs(t, err, ErrMalformedDocument)
}

func TestExtractCSVRaggedRows(t *testing.T) {
	// Rows shorter than the header must be skipped, not crash extraction.
	data := []byte("Date,Total_Amount_Charged\n" +
		"2024-01-01\n" +
		"2024-01-02,50\n")

	result, err := Extract(data, "ragged.csv")
	require.NoError(t, err)
	require.Len(t, result.Amounts, 1)
	assert.Equal(t, "50", result.Total.String())
}

func TestExtractUnsupportedFileType(t *testing.T) {
	_, err := Extract([]byte("total amount charged: 100"), "invoice.txt")
	assert.ErrorIs(t, err, ErrUnsupportedFileType)

	_, err = Extract([]byte{0x50, 0x4B}, "sheet.xlsx")
	assert.ErrorIs(t, err, ErrUnsupportedFileType)
}

func TestExtractHTMLMultipleTables(t *testing.T) {
	data := []byte(`<html><body>
		<table>
			<thead><tr><th>Item</th><th>Total Amount Charged</th></tr></thead>
			<tbody><tr><td>Flight</td><td>50</td></tr></tbody>
		</table>
		<p>unrelated</p>
		<table>
			<tr><th>Service</th><th>total_amount_charged</th></tr>
			<tr><td>Hotel</td><td>75</td></tr>
			<tr><td>Broken</td><td>n/a</td></tr>
		</table>
	</body></html>`)

	result, err := Extract(data, "statement.html")
	require.NoError(t, err)

	assert.Equal(t, "html", result.FileKind)
	require.Len(t, result.Amounts, 2)
	assert.Equal(t, "50", result.Amounts[0].Value.String())
	assert.Equal(t, "75", result.Amounts[1].Value.String())
	assert.Equal(t, "125", result.Total.String())
}

func TestExtractHTMLFallbackScan(t *testing.T) {
	// No table header matches the strict rules in row one; the loose scan
	// must find the "Amount" cell mid-table and take numeric cells below it.
	data := []byte(`<table>
		<tr><td>Invoice 42</td><td></td></tr>
		<tr><td>Item</td><td>Amount</td></tr>
		<tr><td>Taxi</td><td>19.99</td></tr>
		<tr><td>Note</td><td>pending</td></tr>
		<tr><td>Dinner</td><td>30.01</td></tr>
	</table>`)

	result, err := Extract(data, "loose.htm")
	require.NoError(t, err)
	require.Len(t, result.Amounts, 2)
	assert.Equal(t, "Amount", result.MatchedColumn)
	assert.Equal(t, "50", result.Total.String())
}

func TestExtractHTMLFallbackIgnoresNonNumericCells(t *testing.T) {
	data := []byte(`<table>
		<tr><td>Total</td></tr>
		<tr><td>see below</td></tr>
		<tr><td>12.50</td></tr>
	</table>`)

	result, err := Extract(data, "fallback.html")
	require.NoError(t, err)
	require.Len(t, result.Amounts, 1)
	assert.Equal(t, "12.5", result.Total.String())
}

func TestExtractHTMLFallbackTwoColumnsStableOrder(t *testing.T) {
	// Two cells qualify as loose headers; the leftmost must win the
	// matched-column slot and amounts must come out in column order,
	// run after run.
	data := []byte(`<table>
		<tr><td>Invoice 7</td><td></td><td></td></tr>
		<tr><td>Item</td><td>Total</td><td>Amount</td></tr>
		<tr><td>Taxi</td><td>10</td><td>20</td></tr>
		<tr><td>Dinner</td><td>30</td><td>40</td></tr>
	</table>`)

	first, err := Extract(data, "twocols.html")
	require.NoError(t, err)
	assert.Equal(t, "Total", first.MatchedColumn)
	require.Len(t, first.Amounts, 4)
	assert.Equal(t, "Total", first.Amounts[0].SourceColumn)
	assert.Equal(t, "Total", first.Amounts[1].SourceColumn)
	assert.Equal(t, "Amount", first.Amounts[2].SourceColumn)
	assert.Equal(t, "Amount", first.Amounts[3].SourceColumn)
	assert.Equal(t, "100", first.Total.String())

	for i := 0; i < 50; i++ {
		again, err := Extract(data, "twocols.html")
		require.NoError(t, err)
		assert.Equal(t, first.MatchedColumn, again.MatchedColumn, "run %d", i)
		require.Equal(t, first.Amounts, again.Amounts, "run %d", i)
	}
}

func TestExtractHTMLNoTables(t *testing.T) {
	result, err := Extract([]byte("<html><body><p>hello</p></body></html>"), "plain.html")
	require.NoError(t, err)
	assert.Empty(t, result.Amounts)
	assert.True(t, result.Total.IsZero())
}

func TestExtractDeterministic(t *testing.T) {
	data := []byte("Name,amount\nA,1.11\nB,2.22\nC,3.33\n")

	first, err := Extract(data, "repeat.csv")
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := Extract(data, "repeat.csv")
		require.NoError(t, err)
		assert.Equal(t, first.MatchedColumn, again.MatchedColumn)
		require.Len(t, again.Amounts, len(first.Amounts))
		assert.True(t, first.Total.Equal(again.Total))
	}
}

func TestTotalEqualsSumOfAmounts(t *testing.T) {
	data := []byte("x,Total_Amount_Charged\na,10.10\nb,20.204\nc,0.696\n")

	result, err := Extract(data, "sum.csv")
	require.NoError(t, err)

	sum := decimal.Zero
	for _, a := range result.Amounts {
		sum = sum.Add(a.Value)
	}
	assert.True(t, result.Total.Equal(sum.Round(2)),
		"total %s != rounded sum %s", result.Total, sum.Round(2))
}

func TestParseAmountNoiseFilter(t *testing.T) {
	cases := []struct {
		raw string
		ok  bool
		val string
	}{
		{"100.50", true, "100.5"},
		{"₹1,234.50", true, "1234.5"},
		{" 200 ", true, "200"},
		{"$99.99", true, "99.99"},
		{"abc", false, ""},
		{"", false, ""},
		{"-5", false, ""},
		{"0", false, ""},
		{"0.00", false, ""},
		{"-", false, ""},
	}
	for _, tc := range cases {
		value, ok := parseAmount(tc.raw)
		assert.Equal(t, tc.ok, ok, "raw=%q", tc.raw)
		if tc.ok {
			assert.Equal(t, tc.val, value.String(), "raw=%q", tc.raw)
		}
	}
}
