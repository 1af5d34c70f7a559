package period

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/trezcool/jitu/core"
)

// similarity ratio above which two question texts are reported as near duplicates
const nearDuplicateRatio = 0.9

var (
	// CSVHeader is the first row of a questions file, choices A to D.
	CSVHeader = []string{"question", "choice_a", "choice_b", "choice_c", "choice_d", "correct_key", "rationale"}

	csvChoiceKeys = []string{"A", "B", "C", "D"}

	ErrEmptyCSV = errors.New("no valid question found in file")
)

type (
	// LineError reports a rejected row; Line counts the header as line 1.
	LineError struct {
		Line  int    `json:"line"`
		Error string `json:"error"`
	}

	// NearDuplicate reports a question whose text is close to another one.
	NearDuplicate struct {
		Line  int     `json:"line"`
		Text  string  `json:"text"`
		Other string  `json:"other"`
		Ratio float64 `json:"ratio"`
	}

	CSVImport struct {
		Questions  []NewQuestion   `json:"-"`
		Lines      []int           `json:"-"` // file line of each question
		Errors     []LineError     `json:"errors"`
		Duplicates []NearDuplicate `json:"duplicates"`
	}
)

// ParseQuestionsCSV reads a questions file. Bad rows are collected as LineErrors while valid ones are kept;
// ErrEmptyCSV is returned when no row is valid.
func ParseQuestionsCSV(r io.Reader) (CSVImport, error) {
	rd := csv.NewReader(r)
	rd.FieldsPerRecord = -1
	rd.TrimLeadingSpace = true

	records, err := rd.ReadAll()
	if err != nil {
		return CSVImport{}, core.NewValidationError(err, core.FieldError{Field: "file", Error: "invalid CSV file"})
	}
	if len(records) <= 1 {
		return CSVImport{}, core.NewValidationError(ErrEmptyCSV, core.FieldError{Field: "file", Error: ErrEmptyCSV.Error()})
	}

	var imp CSVImport
	for i, rec := range records[1:] {
		line := i + 2
		nq, lineErr := parseQuestionRecord(rec)
		if lineErr != "" {
			imp.Errors = append(imp.Errors, LineError{Line: line, Error: lineErr})
			continue
		}
		imp.Questions = append(imp.Questions, nq)
		imp.Lines = append(imp.Lines, line)
	}
	if len(imp.Questions) == 0 {
		msgs := make([]string, 0, len(imp.Errors))
		for _, le := range imp.Errors {
			msgs = append(msgs, fmt.Sprintf("line %d: %s", le.Line, le.Error))
		}
		return imp, core.NewValidationError(ErrEmptyCSV, core.FieldError{
			Field: "file",
			Error: ErrEmptyCSV.Error() + ": " + strings.Join(msgs, "; "),
		})
	}
	return imp, nil
}

func parseQuestionRecord(rec []string) (NewQuestion, string) {
	if len(rec) < 6 {
		return NewQuestion{}, "incomplete columns"
	}
	for i := range rec {
		rec[i] = core.CleanString(rec[i])
	}
	for _, v := range rec[:6] {
		if v == "" {
			return NewQuestion{}, "required columns empty"
		}
	}

	key := strings.ToUpper(rec[5])
	nq := NewQuestion{Text: rec[0], CorrectKey: key}
	for i, k := range csvChoiceKeys {
		nq.Choices = append(nq.Choices, Choice{Key: k, Text: rec[i+1]})
	}
	if !nq.hasChoice(key) {
		return NewQuestion{}, fmt.Sprintf("correct_key must be one of %s", strings.Join(csvChoiceKeys, ", "))
	}
	if len(rec) > 6 {
		nq.Rationale = rec[6]
	}
	return nq, ""
}

func (nq *NewQuestion) hasChoice(key string) bool {
	for _, c := range nq.Choices {
		if c.Key == key {
			return true
		}
	}
	return false
}

// FindNearDuplicates compares each imported question to the existing set and to the rows before it.
// Reported lines are taken from lines when given (see CSVImport.Lines), else positions start at 1.
func FindNearDuplicates(existing []Question, nqs []NewQuestion, lines ...int) []NearDuplicate {
	seen := make([][]string, 0, len(existing)+len(nqs))
	texts := make([]string, 0, cap(seen))
	for _, q := range existing {
		seen = append(seen, words(q.Text))
		texts = append(texts, q.Text)
	}

	var dups []NearDuplicate
	for i, nq := range nqs {
		w := words(nq.Text)
		line := i + 1
		if i < len(lines) {
			line = lines[i]
		}
		for j := range seen {
			if ratio := difflib.NewMatcher(seen[j], w).Ratio(); ratio >= nearDuplicateRatio {
				dups = append(dups, NearDuplicate{Line: line, Text: nq.Text, Other: texts[j], Ratio: ratio})
				break
			}
		}
		seen = append(seen, w)
		texts = append(texts, nq.Text)
	}
	return dups
}

func words(s string) []string {
	return strings.Fields(strings.ToLower(s))
}

// QuestionsCSVTemplate returns an example questions file.
func QuestionsCSVTemplate() []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write(CSVHeader)
	_ = w.Write([]string{
		"What should you do when you receive a suspicious email?",
		"Open the attachment",
		"Report it to the security team",
		"Forward it to colleagues",
		"Ignore it",
		"B",
		"Suspicious emails must be reported so they can be investigated.",
	})
	w.Flush()
	return buf.Bytes()
}
