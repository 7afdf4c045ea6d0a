package classifier

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/tidwall/gjson"

	"piiguard/internal/detect"
)

// LoadVocabulary reads the label map of a model directory: config.json
// id2label first, then labels.json as an object or an array.
func LoadVocabulary(modelDir string) (detect.Vocabulary, error) {
	if raw, err := os.ReadFile(filepath.Join(modelDir, "config.json")); err == nil {
		if !gjson.ValidBytes(raw) {
			return nil, fmt.Errorf("load labels: config.json is not valid json")
		}
		if id2label := gjson.GetBytes(raw, "id2label"); id2label.Exists() {
			return parseLabels(id2label)
		}
	}
	raw, err := os.ReadFile(filepath.Join(modelDir, "labels.json"))
	if err != nil {
		return nil, fmt.Errorf("load labels: %w", err)
	}
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("load labels: labels.json is not valid json")
	}
	return parseLabels(gjson.ParseBytes(raw))
}

func parseLabels(r gjson.Result) (detect.Vocabulary, error) {
	vocab := detect.Vocabulary{}
	var err error
	switch {
	case r.IsArray():
		for i, v := range r.Array() {
			vocab[i] = v.String()
		}
	case r.IsObject():
		r.ForEach(func(k, v gjson.Result) bool {
			id, convErr := strconv.Atoi(k.String())
			if convErr != nil {
				err = fmt.Errorf("load labels: bad label id %q", k.String())
				return false
			}
			vocab[id] = v.String()
			return true
		})
	default:
		return nil, fmt.Errorf("load labels: expected object or array")
	}
	if err != nil {
		return nil, err
	}
	if len(vocab) == 0 {
		return nil, fmt.Errorf("load labels: no labels")
	}
	return vocab, nil
}
