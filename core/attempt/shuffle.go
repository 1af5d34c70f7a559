package attempt

import (
	crand "crypto/rand"
	"encoding/binary"
	"math/rand"
	"time"

	"github.com/trezcool/jitu/core/period"
)

var newRandFunc = newRand // mockable

// newRand returns a source seeded per attempt. It does not need to be cryptographically strong,
// only never shared between attempts.
func newRand() *rand.Rand {
	var seed [8]byte
	if _, err := crand.Read(seed[:]); err != nil {
		return rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return rand.New(rand.NewSource(int64(binary.LittleEndian.Uint64(seed[:]))))
}

// shuffleOrder applies Fisher–Yates to the questions and, independently, to each question's choices.
func shuffleOrder(r *rand.Rand, questions []period.Question) []OrderedQuestion {
	order := make([]OrderedQuestion, 0, len(questions))
	for _, q := range questions {
		keys := make([]string, 0, len(q.Choices))
		for _, c := range q.Choices {
			keys = append(keys, c.Key)
		}
		shuffleStrings(r, keys)
		order = append(order, OrderedQuestion{QuestionID: q.ID, ChoiceKeys: keys})
	}
	for i := len(order) - 1; i > 0; i-- {
		j := r.Intn(i + 1)
		order[i], order[j] = order[j], order[i]
	}
	return order
}

func shuffleStrings(r *rand.Rand, s []string) {
	for i := len(s) - 1; i > 0; i-- {
		j := r.Intn(i + 1)
		s[i], s[j] = s[j], s[i]
	}
}
