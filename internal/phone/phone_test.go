package phone

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"domestic with trunk zero", "08012345678", "8012345678"},
		{"country coded", "2348012345678", "8012345678"},
		{"already canonical", "8012345678", "8012345678"},
		{"formatted international", "+234 801 234 5678", "8012345678"},
		{"formatted domestic", "0801-234-5678", "8012345678"},
		{"short number unchanged", "12345", "12345"},
		{"eleven digits no trunk zero", "18012345678", "18012345678"},
		{"thirteen digits wrong country code", "9998012345678", "9998012345678"},
		{"empty", "", ""},
		{"garbage", "not-a-phone", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.input))
		})
	}
}

func TestMatchesEquivalentForms(t *testing.T) {
	forms := []string{"08012345678", "2348012345678", "8012345678", "+234 (801) 234-5678"}
	for _, a := range forms {
		for _, b := range forms {
			assert.True(t, Matches(a, b), "%q should match %q", a, b)
		}
	}

	assert.False(t, Matches("08012345678", "08099998888"))
}
