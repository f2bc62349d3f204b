package config

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
)

// LoadSites reads a site list: a one-column CSV whose first row is the
// "site" header. Blank lines and duplicates are dropped, order is kept.
func LoadSites(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	var sites []string
	seen := map[string]bool{}
	for line := 0; ; line++ {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading %v: %w", path, err)
		}
		if len(row) == 0 {
			continue
		}
		site := strings.TrimSpace(row[0])
		if site == "" || (line == 0 && strings.EqualFold(site, "site")) {
			continue
		}
		if seen[site] {
			continue
		}
		seen[site] = true
		sites = append(sites, site)
	}

	return sites, nil
}

// Contains reports whether site is listed
func Contains(sites []string, site string) bool {
	for _, s := range sites {
		if strings.EqualFold(s, site) {
			return true
		}
	}
	return false
}
