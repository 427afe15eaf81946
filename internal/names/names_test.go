package names

import (
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerate(t *testing.T) {
	for range 100 {
		name := Generate()

		var word string
		for _, w := range words {
			if strings.HasPrefix(name, w) {
				word = w
				break
			}
		}
		assert.NotEmpty(t, word, "expected name %q to start with a known word", name)

		n, err := strconv.Atoi(strings.TrimPrefix(name, word))
		assert.NoError(t, err, "expected numeric suffix in %q", name)
		assert.GreaterOrEqual(t, n, 10, "expected suffix of %q to be >= 10", name)
		assert.LessOrEqual(t, n, 99, "expected suffix of %q to be <= 99", name)
	}
}
