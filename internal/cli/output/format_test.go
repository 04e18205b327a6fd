package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Format
		wantErr bool
	}{
		{name: "table", input: "table", want: FormatTable},
		{name: "empty defaults to table", input: "", want: FormatTable},
		{name: "JSON uppercase", input: "JSON", want: FormatJSON},
		{name: "yml alias", input: "yml", want: FormatYAML},
		{name: "whitespace trimmed", input: "  yaml  ", want: FormatYAML},
		{name: "invalid format", input: "xml", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseFormat(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

type preference struct {
	UserID  int64  `json:"user_id" yaml:"user_id"`
	Quality string `json:"quality" yaml:"quality"`
}

func TestPrinterFormats(t *testing.T) {
	data := preference{UserID: 42, Quality: "h265"}

	var buf bytes.Buffer
	require.NoError(t, NewPrinter(&buf, FormatJSON).Print(data))
	assert.JSONEq(t, `{"user_id":42,"quality":"h265"}`, buf.String())

	buf.Reset()
	require.NoError(t, NewPrinter(&buf, FormatYAML).Print(data))
	assert.YAMLEq(t, "user_id: 42\nquality: h265\n", buf.String())

	// Tables fall back to JSON for plain structs.
	buf.Reset()
	require.NoError(t, NewPrinter(&buf, FormatTable).Print(data))
	assert.JSONEq(t, `{"user_id":42,"quality":"h265"}`, buf.String())
}

func TestPrinterUnknownFormat(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, NewPrinter(&buf, Format("xml")).Print(1))
}

func TestStdout(t *testing.T) {
	p := Stdout()
	assert.Equal(t, FormatTable, p.Format())
	assert.NotNil(t, p.Writer())
}
