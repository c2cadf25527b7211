package summary

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// table is a comma-separated file with a header row, such as the JOINED
// metadata files or the DBH baseline.
type table struct {
	header []string
	rows   [][]string
}

func readTable(path string) (*table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%s is empty", filepath.Base(path))
	}

	return &table{header: records[0], rows: records[1:]}, nil
}

// colIndex returns the position of a header column, or -1.
func (t *table) colIndex(name string) int {
	for i, h := range t.header {
		if strings.EqualFold(strings.TrimSpace(h), name) {
			return i
		}
	}
	return -1
}

func (t *table) cell(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[col])
}

// rowsBySensor indexes the table rows by their sensor_id column.
func (t *table) rowsBySensor() (map[int][]string, error) {
	idCol := t.colIndex("sensor_id")
	if idCol < 0 {
		return nil, fmt.Errorf("metadata is missing a sensor_id column")
	}

	out := make(map[int][]string, len(t.rows))
	for _, row := range t.rows {
		id, err := strconv.Atoi(t.cell(row, idCol))
		if err != nil {
			continue
		}
		out[id] = row
	}
	return out, nil
}

func writeCSV(path string, header []string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return err
	}
	if err := w.WriteAll(rows); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

// writeOverall joins the overall per-sensor means onto the metadata rows,
// keeping the metadata's row order. Sensors without data get empty metric
// cells, matching a left join.
func writeOverall(path string, meta *table, metrics []Metric, sums map[int][]float64, imageURLTemplate string) error {
	idCol := meta.colIndex("sensor_id")
	if idCol < 0 {
		return fmt.Errorf("metadata is missing a sensor_id column")
	}

	header := append([]string{}, meta.header...)
	for _, m := range metrics {
		header = append(header, m.Name)
	}
	if imageURLTemplate != "" {
		header = append(header, "image_url")
	}

	rows := make([][]string, 0, len(meta.rows))
	for _, metaRow := range meta.rows {
		row := append([]string{}, metaRow...)
		for len(row) < len(meta.header) {
			row = append(row, "")
		}

		id, err := strconv.Atoi(meta.cell(metaRow, idCol))
		if err != nil {
			id = -1
		}

		means, ok := sums[id]
		for i := range metrics {
			if ok {
				row = append(row, formatFloat(means[i]))
			} else {
				row = append(row, "")
			}
		}
		if imageURLTemplate != "" {
			row = append(row, imageURL(imageURLTemplate, id))
		}
		rows = append(rows, row)
	}

	return writeCSV(path, header, rows)
}

// writeDaily writes the per-day rows with position and species columns
// pulled from the metadata.
func writeDaily(path string, daily []dailyRow, metrics []Metric, meta *table) error {
	bySensor, err := meta.rowsBySensor()
	if err != nil {
		return err
	}
	xCol := meta.colIndex("X")
	yCol := meta.colIndex("Y")
	nameCol := meta.colIndex("Common_Name")

	header := []string{"sensor_id", "date"}
	for _, m := range metrics {
		header = append(header, m.Name)
	}
	header = append(header, "X", "Y", "Common_Name")

	rows := make([][]string, 0, len(daily))
	for _, d := range daily {
		row := []string{strconv.Itoa(d.sensorID), d.date}
		for i := range metrics {
			row = append(row, formatFloat(d.means[i]))
		}

		metaRow := bySensor[d.sensorID]
		row = append(row, meta.cell(metaRow, xCol), meta.cell(metaRow, yCol), meta.cell(metaRow, nameCol))
		rows = append(rows, row)
	}

	return writeCSV(path, header, rows)
}

// writeDBHDifference derives each tree's DBH change from its dendrometer
// baseline and the last recorded growth value. The raw growth column is in
// micrometers of circumference change; converting to diameter at breast
// height uses end = start + (growth/10000)*2.
func writeDBHDifference(path, dendroDir, startDBHPath string, meta *table) error {
	baseline, err := readTable(startDBHPath)
	if err != nil {
		return fmt.Errorf("failed to read DBH baseline: %w", err)
	}
	idCol := baseline.colIndex("ID")
	startCol := baseline.colIndex("start_DBH")
	if idCol < 0 || startCol < 0 {
		return fmt.Errorf("DBH baseline must have ID and start_DBH columns")
	}

	startBySensor := make(map[int]float64)
	for _, row := range baseline.rows {
		id, err := strconv.Atoi(baseline.cell(row, idCol))
		if err != nil {
			continue
		}
		v, err := strconv.ParseFloat(baseline.cell(row, startCol), 64)
		if err != nil {
			continue
		}
		startBySensor[id] = v
	}

	lastGrowth, err := lastGrowthValues(dendroDir)
	if err != nil {
		return err
	}

	type dbhRow struct {
		start, end, diff float64
	}
	bySensor := make(map[int]dbhRow)
	for id, growth := range lastGrowth {
		start, ok := startBySensor[id]
		if !ok {
			continue
		}
		end := start + (growth/10000)*2
		bySensor[id] = dbhRow{
			start: round2(start),
			end:   round2(end),
			diff:  round2(end - start),
		}
	}

	metaIDCol := meta.colIndex("sensor_id")
	header := append([]string{}, meta.header...)
	header = append(header, "start_DBH", "end_DBH", "dbh_diff")

	rows := make([][]string, 0, len(meta.rows))
	for _, metaRow := range meta.rows {
		row := append([]string{}, metaRow...)
		for len(row) < len(meta.header) {
			row = append(row, "")
		}

		id, err := strconv.Atoi(meta.cell(metaRow, metaIDCol))
		if err != nil {
			id = -1
		}
		if d, ok := bySensor[id]; ok {
			row = append(row, format2(d.start), format2(d.end), format2(d.diff))
		} else {
			row = append(row, "", "", "")
		}
		rows = append(rows, row)
	}

	return writeCSV(path, header, rows)
}

// lastGrowthValues returns the final growth reading (column 6) per sensor,
// taken from the last row of the sensor's most recent data file.
func lastGrowthValues(dir string) (map[int]float64, error) {
	files, err := sensorFiles(dir)
	if err != nil {
		return nil, err
	}

	out := make(map[int]float64, len(files))
	for id, paths := range files {
		sort.Strings(paths)
		rows, err := readRawFile(paths[len(paths)-1])
		if err != nil {
			return nil, err
		}
		for i := len(rows) - 1; i >= 0; i-- {
			if len(rows[i]) < 7 {
				continue
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(rows[i][6]), 64)
			if err != nil {
				continue
			}
			out[id] = v
			break
		}
	}
	return out, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func format2(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
