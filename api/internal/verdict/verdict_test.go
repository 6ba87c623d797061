package verdict

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	cases := []struct {
		raw  string
		want bool
	}{
		{"Yes", true},
		{"yes", true},
		{"YES.", true},
		{"Yes, the answer is fabricated.", true},
		{"No", false},
		{"No issues found.", false},
		{"NO.", false},
		// "not" contains "no"
		{"I am not sure.", false},
		{"Cannot tell", false},
		// both present
		{"Yes and no.", true},
		{"Yes. Nothing else to add.", true},
		// neither present
		{"", true},
		{"Maybe.", true},
		{"The answer is correct.", true},
		// substring inside another word
		{"eyes only", true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Parse(tc.raw), "%q", tc.raw)
	}
}
