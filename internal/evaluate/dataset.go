// Package evaluate scores the correlation engine against hand-labeled cases.
//
// Each case is a small synthetic alert set plus the list of alert pairs an
// analyst says should end up linked. The harness replays every case through a
// fresh, isolated store, extracts predicted pairs from the returned thread
// timelines, and reports pairwise precision/recall/F1 per case and
// micro-averaged across the dataset. This is the correctness contract for the
// clustering behavior and is fully deterministic for a fixed dataset.
package evaluate

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
)

//go:embed cases.json
var defaultDatasetJSON []byte

// CaseEntity is an entity link seeded onto a case alert.
type CaseEntity struct {
	EntityType  string `json:"entity_type"`
	EntityValue string `json:"entity_value"`
}

// CaseAlert is one synthetic alert in a labeled case.
type CaseAlert struct {
	ID           string       `json:"id"`
	SourceType   string       `json:"source_type"`
	MatchedTerm  string       `json:"matched_term"`
	HoursAgo     float64      `json:"hours_ago"`
	Title        string       `json:"title"`
	Content      string       `json:"content"`
	URL          string       `json:"url"`
	ActorHandles []string     `json:"actor_handles"`
	Entities     []CaseEntity `json:"entities"`
	POINames     []string     `json:"poi_names"`
}

// Case is one hand-labeled correlation scenario.
type Case struct {
	ID                  string      `json:"id"`
	WindowHours         int         `json:"window_hours"`
	Alerts              []CaseAlert `json:"alerts"`
	ExpectedLinkedPairs [][]string  `json:"expected_linked_pairs"`
}

// Dataset is a collection of labeled cases.
type Dataset struct {
	Description string `json:"description"`
	Cases       []Case `json:"cases"`
}

// LoadDefaultDataset parses the dataset embedded in the binary.
func LoadDefaultDataset() (*Dataset, error) {
	return parseDataset(defaultDatasetJSON)
}

// LoadDataset parses a dataset from a JSON file on disk.
func LoadDataset(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading dataset: %w", err)
	}
	return parseDataset(data)
}

func parseDataset(data []byte) (*Dataset, error) {
	var ds Dataset
	if err := json.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("parsing dataset: %w", err)
	}
	if len(ds.Cases) == 0 {
		return nil, fmt.Errorf("correlation eval dataset has no cases")
	}
	return &ds, nil
}
