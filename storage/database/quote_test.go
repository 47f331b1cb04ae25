package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuoting(t *testing.T) {
	tests := []struct {
		in, ident, literal string
	}{
		{"bursar", `"bursar"`, `'bursar'`},
		{`we"ird`, `"we""ird"`, `'we"ird'`},
		{"o'neil", `"o'neil"`, `'o''neil'`},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			assert.Equal(t, tc.ident, quoteIdent(tc.in))
			assert.Equal(t, tc.literal, quoteLiteral(tc.in))
		})
	}
}
