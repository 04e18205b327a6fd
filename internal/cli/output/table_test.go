package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTable(t *testing.T) {
	table := NewTable("User", "Quality")
	assert.Equal(t, []string{"User", "Quality"}, table.Headers())
	assert.Empty(t, table.Rows())

	table.AddRow("42", "h265")
	table.AddRow("7", "audio")

	rows := table.Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"7", "audio"}, rows[1])
}

func TestPrintTable(t *testing.T) {
	table := NewTable("User", "Quality")
	table.AddRow("42", "h265")

	var buf bytes.Buffer
	require.NoError(t, NewPrinter(&buf, FormatTable).Print(table))

	out := buf.String()
	assert.Contains(t, out, "USER")
	assert.Contains(t, out, "QUALITY")
	assert.Contains(t, out, "42")
	assert.Contains(t, out, "h265")
}

func TestKeyValues(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, KeyValues(&buf, [][2]string{
		{"Status", "healthy"},
		{"Uptime", "3m 2s"},
	}))

	out := buf.String()
	assert.Contains(t, out, "Status")
	assert.Contains(t, out, "healthy")
	assert.Contains(t, out, "3m 2s")
}
