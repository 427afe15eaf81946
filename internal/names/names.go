// Package names generates the throwaway display names shown to chat
// partners in place of any real identity.
package names

import (
	"fmt"
	"math/rand/v2"
)

var words = []string{
	"Corallo",
	"Nebbia",
	"Quercia",
	"Gabbiano",
	"Sorgente",
	"Falco",
	"Luce",
	"Roccia",
	"Vento",
	"Fiume",
}

// Generate returns a display name of the form "<word><nn>" with nn in 10..99.
func Generate() string {
	return fmt.Sprintf("%s%d", words[rand.IntN(len(words))], 10+rand.IntN(90))
}
