package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAmountPattern(t *testing.T) {
	valid := []string{"1", "100", "0.01", "10.5", "99.99"}
	for _, amount := range valid {
		assert.True(t, amountPattern.MatchString(amount), amount)
	}

	invalid := []string{"", "-5", "1.234", "1,50", "abc", "1.", ".5"}
	for _, amount := range invalid {
		assert.False(t, amountPattern.MatchString(amount), amount)
	}
}
