package reasoning

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/brunobiangulo/medreason/llm"
)

// Report is the structured analysis the model is asked to return.
type Report struct {
	Summary           string          `json:"summary"`
	KeyFindings       TextList        `json:"keyFindings"`
	AbnormalValues    []AbnormalValue `json:"abnormalValues"`
	RiskAssessment    RiskAssessment  `json:"riskAssessment"`
	Recommendations   TextList        `json:"recommendations"`
	FollowUp          TextList        `json:"followUp"`
	RelatedConditions TextList        `json:"relatedConditions"`
}

type AbnormalValue struct {
	Parameter    Text `json:"parameter"`
	Value        Text `json:"value"`
	Normal       Text `json:"normal"`
	Significance Text `json:"significance"`
}

type RiskAssessment struct {
	Level   Text     `json:"level"`
	Factors TextList `json:"factors"`
}

// Text decodes a JSON string, number or boolean as a string. Models often
// answer "value": 14.2 where a string was asked for.
type Text string

func (t *Text) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*t = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = Text(s)
		return nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case float64:
		*t = Text(strconv.FormatFloat(x, 'f', -1, 64))
	case bool:
		*t = Text(strconv.FormatBool(x))
	default:
		*t = Text(string(data))
	}
	return nil
}

// TextList decodes either a JSON array of strings or a single string.
type TextList []string

func (l *TextList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*l = nil
		return nil
	}
	if len(data) > 0 && data[0] == '[' {
		var items []Text
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		out := make([]string, 0, len(items))
		for _, it := range items {
			if s := strings.TrimSpace(string(it)); s != "" {
				out = append(out, s)
			}
		}
		*l = out
		return nil
	}
	var single Text
	if err := json.Unmarshal(data, &single); err != nil {
		return err
	}
	if s := strings.TrimSpace(string(single)); s != "" {
		*l = []string{s}
	} else {
		*l = nil
	}
	return nil
}

// parseReport decodes a completion into a Report.
func parseReport(content string) (*Report, error) {
	js, err := llm.ExtractJSON(content)
	if err != nil {
		return nil, err
	}
	var r Report
	if err := json.Unmarshal([]byte(js), &r); err != nil {
		return nil, err
	}
	return &r, nil
}
