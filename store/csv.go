package store

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/thetooth/hopwatch/record"
)

// File names are shared with data collected by earlier versions of the tool.
var fileNames = map[Partition]string{
	Popular:     "popular_sites_data.csv",
	Frequent:    "sites_data.csv",
	PopularBad:  "popular_sites_data_bad.csv",
	FrequentBad: "sites_data_bad.csv",
}

// Timestamp layouts accepted when reading, the first is used for writing.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05",
}

// CSV stores each partition as a CSV file with a header row under Dir.
type CSV struct {
	Dir string
	mu  sync.Mutex
}

// OpenCSV creates the data directory and any missing or empty partition
// files, writing the header row into them.
func OpenCSV(dir string) (*CSV, error) {
	s := &CSV{Dir: dir}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	for _, p := range Partitions {
		if err := s.bootstrap(p); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Path returns the file backing partition p.
func (s *CSV) Path(p Partition) string {
	return filepath.Join(s.Dir, fileNames[p])
}

func (s *CSV) bootstrap(p Partition) error {
	path := s.Path(p)
	info, err := os.Stat(path)
	if err == nil && info.Size() > 0 {
		return nil
	}
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("creating %v: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(record.Columns); err != nil {
		return err
	}
	w.Flush()
	logrus.Info("[ DATA_INIT ] created ", path)
	return w.Error()
}

// Append writes the whole batch with a single open and flush.
func (s *CSV) Append(p Partition, recs []record.Measurement) error {
	if len(recs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.bootstrap(p); err != nil {
		return err
	}
	f, err := os.OpenFile(s.Path(p), os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := WriteRecords(f, recs); err != nil {
		return fmt.Errorf("appending to %v: %w", p, err)
	}
	return nil
}

func (s *CSV) ReadAll(p Partition) ([]record.Measurement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.Path(p))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	recs, err := ReadRecords(f)
	if err != nil {
		return nil, fmt.Errorf("reading %v: %w", s.Path(p), err)
	}
	return recs, nil
}

// WriteRecords writes rows in the fixed column order without a header.
func WriteRecords(w io.Writer, recs []record.Measurement) error {
	writer := csv.NewWriter(w)
	for _, m := range recs {
		row := []string{
			m.Time.UTC().Format(timeLayouts[0]),
			m.Site,
			m.IP,
			strconv.Itoa(m.HopNum),
			formatRTT(m.MinRTT),
			formatRTT(m.AvgRTT),
			formatRTT(m.MaxRTT),
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// ReadRecords parses rows, skipping a leading header row when present.
func ReadRecords(r io.Reader) ([]record.Measurement, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}

	start := 0
	if len(rows) > 0 && len(rows[0]) > 0 && rows[0][0] == record.Columns[0] {
		start = 1
	}

	recs := make([]record.Measurement, 0, len(rows)-start)
	for i := start; i < len(rows); i++ {
		row := rows[i]
		if len(row) < len(record.Columns) {
			return nil, fmt.Errorf("invalid record at line %d", i+1)
		}
		ts, err := parseTime(row[0])
		if err != nil {
			return nil, fmt.Errorf("invalid timestamp at line %d: %w", i+1, err)
		}
		hop, err := strconv.Atoi(strings.TrimSpace(row[3]))
		if err != nil {
			return nil, fmt.Errorf("invalid hop_num at line %d: %w", i+1, err)
		}
		recs = append(recs, record.Measurement{
			Time:   ts,
			Site:   row[1],
			IP:     row[2],
			HopNum: hop,
			MinRTT: parseRTT(row[4]),
			AvgRTT: parseRTT(row[5]),
			MaxRTT: parseRTT(row[6]),
		})
	}
	return recs, nil
}

func parseTime(s string) (t time.Time, err error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		t, err = time.Parse(layout, s)
		if err == nil {
			return t.UTC(), nil
		}
	}
	return
}

func formatRTT(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', 3, 64)
}

func parseRTT(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return math.NaN()
	}
	return v
}
