package period

import (
	"bytes"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/jitu/core"
)

const csvHeaderLine = "question,choice_a,choice_b,choice_c,choice_d,correct_key,rationale\n"

func TestParseQuestionsCSV(t *testing.T) {
	t.Run("mixed rows", func(t *testing.T) {
		data := csvHeaderLine +
			"What is 2+2?,3,4,5,6,b,Basic maths\n" + // line 2
			"Too short,a,b\n" + // line 3
			"Empty answer,a,b,c,d,,\n" + // line 4
			"Bad answer,a,b,c,d,E,\n" + // line 5
			"\"Quoted, question\",w,x,y,z,D\n" // line 6

		imp, err := ParseQuestionsCSV(strings.NewReader(data))
		require.NoError(t, err)

		require.Len(t, imp.Questions, 2)
		assert.Equal(t, []int{2, 6}, imp.Lines)

		q := imp.Questions[0]
		assert.Equal(t, "What is 2+2?", q.Text)
		assert.Equal(t, "B", q.CorrectKey)
		assert.Equal(t, "Basic maths", q.Rationale)
		assert.Equal(t, []Choice{{"A", "3"}, {"B", "4"}, {"C", "5"}, {"D", "6"}}, q.Choices)

		q = imp.Questions[1]
		assert.Equal(t, "Quoted, question", q.Text)
		assert.Equal(t, "D", q.CorrectKey)
		assert.Equal(t, "", q.Rationale)

		assert.Equal(t, []LineError{
			{Line: 3, Error: "incomplete columns"},
			{Line: 4, Error: "required columns empty"},
			{Line: 5, Error: "correct_key must be one of A, B, C, D"},
		}, imp.Errors)
	})

	t.Run("no valid row", func(t *testing.T) {
		_, err := ParseQuestionsCSV(strings.NewReader(csvHeaderLine + "Too short,a\n"))
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrEmptyCSV))

		vErr, ok := err.(*core.ValidationError)
		require.True(t, ok)
		assert.Equal(t, "file", vErr.Fields[0].Field)
		assert.Contains(t, vErr.Fields[0].Error, "line 2: incomplete columns")
	})

	t.Run("header only", func(t *testing.T) {
		_, err := ParseQuestionsCSV(strings.NewReader(csvHeaderLine))
		assert.True(t, errors.Is(err, ErrEmptyCSV))
	})

	t.Run("template", func(t *testing.T) {
		imp, err := ParseQuestionsCSV(bytes.NewReader(QuestionsCSVTemplate()))
		require.NoError(t, err)
		assert.Len(t, imp.Questions, 1)
		assert.Empty(t, imp.Errors)
	})
}

func TestFindNearDuplicates(t *testing.T) {
	existing := []Question{{Text: "What should you do with a suspicious email?"}}
	nqs := []NewQuestion{
		{Text: "What should you do with a SUSPICIOUS email?"},
		{Text: "Which port does HTTPS use by default?"},
		{Text: "which port does HTTPS use by default?"},
		{Text: "Who signs off expense reports?"},
	}

	dups := FindNearDuplicates(existing, nqs, 2, 3, 4, 5)
	require.Len(t, dups, 2)

	assert.Equal(t, 2, dups[0].Line)
	assert.Equal(t, existing[0].Text, dups[0].Other)
	assert.Equal(t, 1.0, dups[0].Ratio)

	assert.Equal(t, 4, dups[1].Line)
	assert.Equal(t, nqs[1].Text, dups[1].Other)
	assert.GreaterOrEqual(t, dups[1].Ratio, nearDuplicateRatio)

	t.Run("positions without lines", func(t *testing.T) {
		dups := FindNearDuplicates(nil, nqs[1:3])
		require.Len(t, dups, 1)
		assert.Equal(t, 2, dups[0].Line)
	})
}
