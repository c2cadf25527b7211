// Package summary rebuilds the upload CSVs from the raw sensor data
// folders. Each raw file carries the readings of one sensor in the
// vendor's semicolon-separated format; the outputs are the four
// comma-separated summary tables the feature layers are built from.
package summary

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Output file names. The publisher maps each of these onto one hosted
// feature-layer item.
const (
	OutputDendroAvg   = "Dendrometer_Average.csv"
	OutputDendroDaily = "Dendrometer_Daily.csv"
	OutputTMSAvg      = "TMS_Average.csv"
	OutputTMSDaily    = "TMS_Daily.csv"
	OutputDBHDiff     = "Dendrometer_DBH_Difference.csv"
)

// rawTimeLayout is the timestamp format in column 1 of the raw files.
const rawTimeLayout = "2006.01.02 15:04"

// dataFilePattern matches raw data file names and captures the sensor ID.
var dataFilePattern = regexp.MustCompile(`^data_(\d+)_\d{4}_\d{2}_\d{2}_\d+\.csv$`)

// Metric names one averaged column of a raw data file.
type Metric struct {
	Name string
	Col  int
}

// Column layouts of the two vendor formats.
var (
	dendroMetrics = []Metric{
		{Name: "avg_air_temp", Col: 3},
		{Name: "avg_growth", Col: 6},
	}
	tmsMetrics = []Metric{
		{Name: "avg_t1", Col: 3},
		{Name: "avg_t2", Col: 4},
		{Name: "avg_t3", Col: 5},
		{Name: "avg_moist", Col: 6},
	}
)

// Options configures a summary generation run. All paths are resolved
// relative to the process working directory unless absolute.
type Options struct {
	DendroDir string // raw dendrometer data folder
	TMSDir    string // raw TMS data folder

	DendroMetaPath string // JOINED.DENDROMETER.csv
	TMSMetaPath    string // JOINED.TMS.csv

	// StartDBHPath points at the Dendrometer_Start_DBH.csv baseline. When
	// empty, the DBH difference output is skipped.
	StartDBHPath string

	OutDir string

	// ImageURLTemplate builds the dendrometer image_url column;
	// "{sensor_id}" is replaced with the sensor ID.
	ImageURLTemplate string
}

// DefaultOptions returns the standard layout rooted at dataDir, matching
// the dashboard repository's file placement.
func DefaultOptions(dataDir, imageURLTemplate string) Options {
	return Options{
		DendroDir:        filepath.Join(dataDir, "Dendrometer_Data"),
		TMSDir:           filepath.Join(dataDir, "TMS_Data"),
		DendroMetaPath:   filepath.Join(dataDir, "JOINED.DENDROMETER.csv"),
		TMSMetaPath:      filepath.Join(dataDir, "JOINED.TMS.csv"),
		StartDBHPath:     filepath.Join(dataDir, "Dendrometer_Start_DBH.csv"),
		OutDir:           dataDir,
		ImageURLTemplate: imageURLTemplate,
	}
}

// Generate rebuilds all summary CSVs and returns the written file paths.
//
// A raw folder with no matching data files is a fatal error so that an
// accidentally empty sync never publishes empty layers.
func Generate(opts Options, log *zap.SugaredLogger) ([]string, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	var written []string

	// Dendrometer overall: metadata rows enriched with overall means and
	// the image URL column.
	dendroSums, err := summarizeFolder(opts.DendroDir, dendroMetrics)
	if err != nil {
		return nil, err
	}
	dendroMeta, err := readTable(opts.DendroMetaPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read dendrometer metadata: %w", err)
	}
	path := filepath.Join(opts.OutDir, OutputDendroAvg)
	if err := writeOverall(path, dendroMeta, dendroMetrics, dendroSums, opts.ImageURLTemplate); err != nil {
		return nil, err
	}
	written = append(written, path)

	// Dendrometer daily.
	dendroDaily, err := dailySummary(opts.DendroDir, dendroMetrics)
	if err != nil {
		return nil, err
	}
	path = filepath.Join(opts.OutDir, OutputDendroDaily)
	if err := writeDaily(path, dendroDaily, dendroMetrics, dendroMeta); err != nil {
		return nil, err
	}
	written = append(written, path)

	// TMS overall and daily.
	tmsSums, err := summarizeFolder(opts.TMSDir, tmsMetrics)
	if err != nil {
		return nil, err
	}
	tmsMeta, err := readTable(opts.TMSMetaPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read TMS metadata: %w", err)
	}
	path = filepath.Join(opts.OutDir, OutputTMSAvg)
	if err := writeOverall(path, tmsMeta, tmsMetrics, tmsSums, ""); err != nil {
		return nil, err
	}
	written = append(written, path)

	tmsDaily, err := dailySummary(opts.TMSDir, tmsMetrics)
	if err != nil {
		return nil, err
	}
	path = filepath.Join(opts.OutDir, OutputTMSDaily)
	if err := writeDaily(path, tmsDaily, tmsMetrics, tmsMeta); err != nil {
		return nil, err
	}
	written = append(written, path)

	// DBH difference is optional: skipped when no baseline file exists.
	if opts.StartDBHPath != "" {
		if _, err := os.Stat(opts.StartDBHPath); err == nil {
			path = filepath.Join(opts.OutDir, OutputDBHDiff)
			if err := writeDBHDifference(path, opts.DendroDir, opts.StartDBHPath, dendroMeta); err != nil {
				return nil, err
			}
			written = append(written, path)
		} else {
			log.Debugw("no DBH baseline file, skipping DBH output", "path", opts.StartDBHPath)
		}
	}

	log.Infow("summary CSVs generated", "files", len(written))
	return written, nil
}

// sensorFiles maps sensor ID to the raw data files found for it.
func sensorFiles(dir string) (map[int][]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read data folder %s: %w", dir, err)
	}

	files := make(map[int][]string)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := dataFilePattern.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		id, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		files[id] = append(files[id], filepath.Join(dir, entry.Name()))
	}

	if len(files) == 0 {
		return nil, fmt.Errorf("no data files matching data_*.csv found in %s", dir)
	}
	return files, nil
}

// readRawFile parses one semicolon-separated raw file. Rows are returned
// as-is; the caller decides which columns matter.
func readRawFile(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open data file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.Comma = ';'
	r.FieldsPerRecord = -1

	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	return rows, nil
}

func maxCol(metrics []Metric) int {
	max := 0
	for _, m := range metrics {
		if m.Col > max {
			max = m.Col
		}
	}
	return max
}

// summarizeFolder computes the overall mean of each metric per sensor.
func summarizeFolder(dir string, metrics []Metric) (map[int][]float64, error) {
	files, err := sensorFiles(dir)
	if err != nil {
		return nil, err
	}

	need := maxCol(metrics)
	out := make(map[int][]float64, len(files))

	for id, paths := range files {
		sums := make([]float64, len(metrics))
		counts := make([]int, len(metrics))

		for _, path := range paths {
			rows, err := readRawFile(path)
			if err != nil {
				return nil, err
			}
			for _, row := range rows {
				if len(row) <= need {
					continue
				}
				for i, m := range metrics {
					v, err := strconv.ParseFloat(strings.TrimSpace(row[m.Col]), 64)
					if err != nil {
						continue
					}
					sums[i] += v
					counts[i]++
				}
			}
		}

		means := make([]float64, len(metrics))
		for i := range metrics {
			if counts[i] > 0 {
				means[i] = sums[i] / float64(counts[i])
			}
		}
		out[id] = means
	}

	return out, nil
}

type dailyKey struct {
	sensorID int
	date     string // YYYY-MM-DD
}

type dailyRow struct {
	sensorID int
	date     string
	means    []float64
}

// dailySummary computes per-sensor per-day means, ordered by sensor then
// date.
func dailySummary(dir string, metrics []Metric) ([]dailyRow, error) {
	files, err := sensorFiles(dir)
	if err != nil {
		return nil, err
	}

	need := maxCol(metrics)
	sums := make(map[dailyKey][]float64)
	counts := make(map[dailyKey][]int)

	for id, paths := range files {
		for _, path := range paths {
			rows, err := readRawFile(path)
			if err != nil {
				return nil, err
			}
			for _, row := range rows {
				if len(row) <= need || len(row) < 2 {
					continue
				}
				ts, err := time.Parse(rawTimeLayout, strings.TrimSpace(row[1]))
				if err != nil {
					continue
				}
				key := dailyKey{sensorID: id, date: ts.Format("2006-01-02")}
				if _, ok := sums[key]; !ok {
					sums[key] = make([]float64, len(metrics))
					counts[key] = make([]int, len(metrics))
				}
				for i, m := range metrics {
					v, err := strconv.ParseFloat(strings.TrimSpace(row[m.Col]), 64)
					if err != nil {
						continue
					}
					sums[key][i] += v
					counts[key][i]++
				}
			}
		}
	}

	out := make([]dailyRow, 0, len(sums))
	for key, s := range sums {
		means := make([]float64, len(metrics))
		for i := range metrics {
			if counts[key][i] > 0 {
				means[i] = s[i] / float64(counts[key][i])
			}
		}
		out = append(out, dailyRow{sensorID: key.sensorID, date: key.date, means: means})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].sensorID != out[j].sensorID {
			return out[i].sensorID < out[j].sensorID
		}
		return out[i].date < out[j].date
	})

	return out, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func imageURL(template string, sensorID int) string {
	return strings.ReplaceAll(template, "{sensor_id}", strconv.Itoa(sensorID))
}
