package training

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/theblitlabs/parity-flsim/internal/core/models"
	"github.com/theblitlabs/parity-flsim/pkg/logger"
)

const ipfsScheme = "ipfs://"

// Partition is the private data of one simulated client
type Partition struct {
	ID    string
	Train models.Dataset
	Test  models.Dataset
}

// Fetcher retrieves content addressed data
type Fetcher interface {
	Cat(ctx context.Context, cid string) (io.ReadCloser, error)
}

// DataLoader reads datasets from local files or, for ipfs:// paths, from IPFS
type DataLoader struct {
	fetcher Fetcher
}

// NewDataLoader creates a new DataLoader instance. fetcher may be nil when
// no ipfs:// paths are used.
func NewDataLoader(fetcher Fetcher) *DataLoader {
	return &DataLoader{fetcher: fetcher}
}

// Open returns a reader for a local path or an ipfs://<cid> reference
func (d *DataLoader) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	if cid, ok := strings.CutPrefix(path, ipfsScheme); ok {
		if d.fetcher == nil {
			return nil, fmt.Errorf("no IPFS fetcher configured for %s", path)
		}
		rc, err := d.fetcher.Cat(ctx, cid)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch data: %w", err)
		}
		return rc, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open data file: %w", err)
	}
	return f, nil
}

// LoadFile loads a single dataset. An empty format is inferred from the
// file extension.
func (d *DataLoader) LoadFile(ctx context.Context, path string, format string) (models.Dataset, error) {
	if format == "" {
		format = strings.TrimPrefix(filepath.Ext(path), ".")
	}

	rc, err := d.Open(ctx, path)
	if err != nil {
		return models.Dataset{}, err
	}
	defer rc.Close()

	var ds models.Dataset
	switch strings.ToLower(format) {
	case "csv":
		ds, err = d.parseCSV(rc)
	case "json":
		ds, err = d.parseJSON(rc)
	default:
		return models.Dataset{}, fmt.Errorf("unsupported data format: %s", format)
	}
	if err != nil {
		return models.Dataset{}, err
	}

	log := logger.WithComponent("data_loader")
	log.Debug().
		Str("path", path).
		Int("samples", ds.Len()).
		Msg("Dataset loaded")
	return ds, nil
}

type leafFile struct {
	Users    []string `json:"users"`
	UserData map[string]struct {
		X [][]float64 `json:"x"`
		Y []float64   `json:"y"`
	} `json:"user_data"`
}

// LoadLEAF reads a LEAF-formatted dataset with train/ and test/
// subdirectories and returns one partition per user, ordered as the users
// appear in the training files
func (d *DataLoader) LoadLEAF(ctx context.Context, dir string) ([]Partition, error) {
	log := logger.WithComponent("data_loader")

	train, order, err := d.readLEAFDir(ctx, filepath.Join(dir, "train"))
	if err != nil {
		return nil, err
	}
	test, _, err := d.readLEAFDir(ctx, filepath.Join(dir, "test"))
	if err != nil {
		return nil, err
	}

	parts := make([]Partition, 0, len(order))
	for _, user := range order {
		parts = append(parts, Partition{ID: user, Train: train[user], Test: test[user]})
	}

	log.Info().
		Str("dir", dir).
		Int("users", len(parts)).
		Msg("LEAF dataset loaded")
	return parts, nil
}

func (d *DataLoader) readLEAFDir(ctx context.Context, dir string) (map[string]models.Dataset, []string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	sort.Strings(files)

	data := make(map[string]models.Dataset)
	var order []string
	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		raw, err := os.ReadFile(file)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read %s: %w", file, err)
		}
		var lf leafFile
		if err := json.Unmarshal(raw, &lf); err != nil {
			return nil, nil, fmt.Errorf("failed to parse LEAF file %s: %w", file, err)
		}

		for _, user := range lf.Users {
			ud := lf.UserData[user]
			if len(ud.X) != len(ud.Y) {
				return nil, nil, fmt.Errorf("user %s in %s: mismatched features and labels length", user, file)
			}
			labels, err := toLabels(ud.Y)
			if err != nil {
				return nil, nil, fmt.Errorf("user %s in %s: %w", user, file, err)
			}

			ds, seen := data[user]
			if !seen {
				order = append(order, user)
			}
			ds.X = append(ds.X, ud.X...)
			ds.Y = append(ds.Y, labels...)
			data[user] = ds
		}
	}
	return data, order, nil
}

func (d *DataLoader) parseCSV(r io.Reader) (models.Dataset, error) {
	csvReader := csv.NewReader(r)

	// Skip header
	if _, err := csvReader.Read(); err != nil {
		return models.Dataset{}, fmt.Errorf("failed to read CSV header: %w", err)
	}

	var ds models.Dataset
	labelMap := make(map[string]int)

	for {
		record, err := csvReader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return models.Dataset{}, fmt.Errorf("failed to read CSV record: %w", err)
		}
		if len(record) < 2 {
			return models.Dataset{}, fmt.Errorf("CSV record needs at least one feature and a label, got %d columns", len(record))
		}

		// Last column is assumed to be the label
		featureVals := make([]float64, len(record)-1)
		for i := 0; i < len(record)-1; i++ {
			val, err := strconv.ParseFloat(record[i], 64)
			if err != nil {
				return models.Dataset{}, fmt.Errorf("failed to parse feature value: %w", err)
			}
			featureVals[i] = val
		}

		// Numeric labels are used as is, anything else is mapped to the next free index
		labelStr := record[len(record)-1]
		label, err := strconv.Atoi(labelStr)
		if err != nil {
			var exists bool
			if label, exists = labelMap[labelStr]; !exists {
				label = len(labelMap)
				labelMap[labelStr] = label
			}
		} else if label < 0 {
			return models.Dataset{}, fmt.Errorf("negative label %d", label)
		}

		ds.X = append(ds.X, featureVals)
		ds.Y = append(ds.Y, label)
	}

	return ds, nil
}

func (d *DataLoader) parseJSON(r io.Reader) (models.Dataset, error) {
	var data struct {
		Features [][]float64 `json:"features"`
		Labels   []float64   `json:"labels"`
	}

	if err := json.NewDecoder(r).Decode(&data); err != nil {
		return models.Dataset{}, fmt.Errorf("failed to parse JSON data: %w", err)
	}

	if len(data.Features) != len(data.Labels) {
		return models.Dataset{}, fmt.Errorf("mismatched features and labels length")
	}

	labels, err := toLabels(data.Labels)
	if err != nil {
		return models.Dataset{}, err
	}
	return models.Dataset{X: data.Features, Y: labels}, nil
}

func toLabels(values []float64) ([]int, error) {
	labels := make([]int, len(values))
	for i, v := range values {
		if v < 0 || v != math.Trunc(v) {
			return nil, fmt.Errorf("label %v at index %d is not a class index", v, i)
		}
		labels[i] = int(v)
	}
	return labels, nil
}
