package extract

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	"taskcal/internal/model"
)

var errNoArray = errors.New("no JSON array in output")

// SliceArray returns the text between the first '[' and the last ']', or
// the input unchanged when there is no such pair. Models like to wrap the
// array in prose or code fences.
func SliceArray(text string) string {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start == -1 || end <= start {
		return text
	}
	return text[start : end+1]
}

// Decode parses model output into raw candidates. Malformed JSON is passed
// through jsonrepair once before giving up.
func Decode(text string) ([]model.RawCandidate, error) {
	body := SliceArray(strings.TrimSpace(text))
	if !strings.HasPrefix(body, "[") {
		return nil, errNoArray
	}
	var out []model.RawCandidate
	err := json.Unmarshal([]byte(body), &out)
	if err == nil {
		return out, nil
	}
	fixed, rerr := jsonrepair.JSONRepair(body)
	if rerr != nil {
		return nil, err
	}
	out = nil
	if uerr := json.Unmarshal([]byte(fixed), &out); uerr != nil {
		return nil, uerr
	}
	return out, nil
}
