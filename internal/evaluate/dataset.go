// Package evaluate scores the classifier against labelled cases.
package evaluate

import (
	"bytes"
	"encoding/json"
	"os"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/sells-group/scopesignal/internal/model"
)

// Case is one labelled project update.
type Case struct {
	ID       string               `json:"id"`
	Text     string               `json:"text"`
	Trade    model.Trade          `json:"trade"`
	Agency   string               `json:"agency,omitempty"`
	Expected model.Classification `json:"expected_classification"`
	Category string               `json:"category,omitempty"`
}

type rawCase struct {
	ID       string `json:"id"`
	Text     string `json:"text"`
	Trade    string `json:"trade"`
	Agency   string `json:"agency"`
	Expected string `json:"expected_classification"`
	Category string `json:"category"`
}

// LoadDataset reads cases from a JSON file holding either an array of
// cases or an object with a "cases" array.
func LoadDataset(path string) ([]Case, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "evaluate: read dataset %s", path)
	}
	return ParseDataset(data)
}

// ParseDataset decodes and validates dataset JSON. Trades are matched
// case-insensitively; the expected classification must be one of the
// enumerated values.
func ParseDataset(data []byte) ([]Case, error) {
	var raws []rawCase
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var wrapper struct {
			Cases []rawCase `json:"cases"`
		}
		if err := json.Unmarshal(trimmed, &wrapper); err != nil {
			return nil, eris.Wrap(err, "evaluate: decode dataset")
		}
		raws = wrapper.Cases
	} else if err := json.Unmarshal(trimmed, &raws); err != nil {
		return nil, eris.Wrap(err, "evaluate: decode dataset")
	}

	cases := make([]Case, 0, len(raws))
	for i, r := range raws {
		trade, err := model.ParseTrade(r.Trade)
		if err != nil {
			return nil, eris.Wrapf(err, "evaluate: case %d", i)
		}
		expected := model.Classification(r.Expected)
		if !expected.Valid() {
			return nil, eris.Errorf("evaluate: case %d: invalid expected_classification %q", i, r.Expected)
		}
		c := Case{
			ID:       r.ID,
			Text:     r.Text,
			Trade:    trade,
			Agency:   r.Agency,
			Expected: expected,
			Category: r.Category,
		}
		if c.ID == "" {
			c.ID = "case-" + strconv.Itoa(i)
		}
		cases = append(cases, c)
	}
	return cases, nil
}
