package earthdata

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// LinksFile is the persisted result of a catalog search, reused by subsequent
// runs instead of searching again
type LinksFile struct {
	SearchedAt time.Time `json:"searched_at"`
	Links      []string  `json:"links"`
}

// WriteLinks saves the asset links of a search next to the processing outputs
func WriteLinks(path string, links []string) error {
	data, err := json.MarshalIndent(LinksFile{SearchedAt: time.Now().UTC(), Links: links}, "", "  ")
	if err != nil {
		return fmt.Errorf("WriteLinks.Marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("WriteLinks: %w", err)
	}
	return nil
}

// ReadLinks loads the asset links persisted by a previous search. A missing
// file is not an error and yields no links.
func ReadLinks(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("ReadLinks: %w", err)
	}
	file := LinksFile{}
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("ReadLinks.Unmarshal[%s]: %w", path, err)
	}
	return file.Links, nil
}
