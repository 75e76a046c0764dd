package mock

import (
	"math/rand/v2"
	"strings"
)

var loremWords = [...]string{
	"lorem", "ipsum", "dolor", "sit", "amet", "consectetur", "adipiscing", "elit",
	"sed", "do", "eiusmod", "tempor", "incididunt", "ut", "labore", "et", "dolore",
	"magna", "aliqua", "enim", "ad", "minim", "veniam", "quis", "nostrud",
	"exercitation", "ullamco", "laboris", "nisi", "aliquip", "ex", "ea", "commodo",
	"consequat", "duis", "aute", "irure", "in", "reprehenderit", "voluptate",
	"velit", "esse", "cillum", "fugiat", "nulla", "pariatur", "excepteur", "sint",
	"occaecat", "cupidatat", "non", "proident", "sunt", "culpa", "qui", "officia",
	"deserunt", "mollit", "anim", "id", "est", "laborum", "integer", "vitae",
	"justo", "eget", "magna", "fermentum", "iaculis", "eu", "facilisis", "mauris",
	"pharetra", "massa", "tincidunt", "nunc", "pulvinar", "sapien", "ligula",
	"ullamcorper", "malesuada", "proin", "libero", "volutpat", "odio", "viverra",
}

const loremOpening = "Lorem ipsum dolor sit amet"

// generateArticle builds ASCII filler text of at least minChars bytes.
// ASCII keeps byte offsets equal to character offsets, so views can slice by index.
func generateArticle(r *rand.Rand, minChars int) string {
	var b strings.Builder
	b.Grow(minChars + 32)
	b.WriteString(loremOpening)

	words := 5
	sentence := 8 + r.IntN(10)
	for b.Len() < minChars {
		w := loremWords[r.IntN(len(loremWords))]
		if words == 0 {
			b.WriteByte(' ')
			b.WriteByte(w[0] - 'a' + 'A')
			b.WriteString(w[1:])
		} else {
			if r.IntN(12) == 0 {
				b.WriteByte(',')
			}
			b.WriteByte(' ')
			b.WriteString(w)
		}
		words++
		if words >= sentence {
			b.WriteByte('.')
			words = 0
			sentence = 8 + r.IntN(10)
		}
	}
	if words != 0 {
		b.WriteByte('.')
	}
	return b.String()
}
