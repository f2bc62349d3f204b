package store

import (
	"fmt"

	"github.com/thetooth/hopwatch/record"
)

// Partition names one historical dataset
type Partition string

const (
	Popular     Partition = "popular"
	Frequent    Partition = "frequent"
	PopularBad  Partition = "popular_bad"
	FrequentBad Partition = "frequent_bad"
)

// Partitions lists every dataset in a stable order
var Partitions = []Partition{Popular, Frequent, PopularBad, FrequentBad}

// Bad returns the partition that receives inconsistent measurements for p.
func (p Partition) Bad() Partition {
	switch p {
	case Popular, PopularBad:
		return PopularBad
	default:
		return FrequentBad
	}
}

// ParsePartition accepts the dataset names used on the command line.
func ParsePartition(s string) (Partition, error) {
	switch s {
	case "popular":
		return Popular, nil
	case "frequent", "sites":
		return Frequent, nil
	case "popular_bad":
		return PopularBad, nil
	case "frequent_bad", "sites_bad":
		return FrequentBad, nil
	}
	return "", fmt.Errorf("unknown dataset %q", s)
}

// Store is an append-only collection of measurements split into partitions.
// ReadAll returns records in insertion order, which is time order.
type Store interface {
	Append(p Partition, recs []record.Measurement) error
	ReadAll(p Partition) ([]record.Measurement, error)
}

// ReadUnion concatenates several partitions.
func ReadUnion(s Store, parts ...Partition) (out []record.Measurement, err error) {
	for _, p := range parts {
		recs, err := s.ReadAll(p)
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
	}
	return out, nil
}
