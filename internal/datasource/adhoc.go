package datasource

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/quarry-labs/quarry/internal/adapters"
	"github.com/quarry-labs/quarry/internal/config"
	"github.com/quarry-labs/quarry/internal/dialects"
	"github.com/quarry-labs/quarry/internal/errors"
	"github.com/quarry-labs/quarry/internal/schema"
	"github.com/quarry-labs/quarry/internal/sql"
)

// if_exists modes for ad-hoc data. The mode governs both the cached
// download and the loaded table: fail refuses to overwrite, ignore
// reuses what is there, replace always reloads, and replace_after
// reloads once the cached file is older than replace_after.
const (
	IfExistsFail         = "fail"
	IfExistsIgnore       = "ignore"
	IfExistsReplace      = "replace"
	IfExistsReplaceAfter = "replace_after"
)

// DefaultReplaceAfter is the cache age used by replace_after when the
// config gives none.
const DefaultReplaceAfter = "1 days"

// sqlite caps bind parameters per statement; stay under the strictest
// compile-time default.
const maxStatementParams = 999

func validIfExists(mode string) bool {
	switch mode {
	case IfExistsFail, IfExistsIgnore, IfExistsReplace, IfExistsReplaceAfter:
		return true
	}
	return false
}

// parseReplaceAfter parses an interval of the form "number interval",
// e.g. "30 minutes" or "1.5 days". Intervals: seconds, minutes, hours,
// days, weeks.
func parseReplaceAfter(s string) (time.Duration, error) {
	parts := strings.Fields(strings.ToLower(s))
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid replace_after %q: expected \"number interval\"", s)
	}
	num, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid replace_after numeric value %q", parts[0])
	}
	var unit time.Duration
	switch parts[1] {
	case "seconds":
		unit = time.Second
	case "minutes":
		unit = time.Minute
	case "hours":
		unit = time.Hour
	case "days":
		unit = 24 * time.Hour
	case "weeks":
		unit = 7 * 24 * time.Hour
	default:
		return 0, fmt.Errorf("invalid replace_after interval %q", parts[1])
	}
	return time.Duration(num * float64(unit)), nil
}

// loadAdHocTables loads every table config that declares a data_url
// into the datasource's database. Returns non-fatal warnings.
func loadAdHocTables(ctx context.Context, ds string, adapter adapters.Adapter, configs map[string]*schema.TableConfig, cfg *config.Config) ([]string, error) {
	names := make([]string, 0, len(configs))
	for name, tc := range configs {
		if tc != nil && tc.IsAdHoc() {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil, nil
	}
	sort.Strings(names)

	if !adapter.Capabilities().Has(dialects.CapabilityAdHocTables) {
		return nil, errors.NewUnsupportedOperation("ad-hoc tables",
			fmt.Sprintf("engine %s does not support ad-hoc table loads", adapter.Name()))
	}

	var warnings []string
	for _, name := range names {
		w, err := loadAdHocTable(ctx, ds, adapter, name, configs[name], cfg)
		if err != nil {
			return nil, err
		}
		warnings = append(warnings, w...)
	}
	return warnings, nil
}

func loadAdHocTable(ctx context.Context, ds string, adapter adapters.Adapter, tableName string, tc *schema.TableConfig, cfg *config.Config) ([]string, error) {
	mode := tc.IfExists
	if mode == "" {
		mode = IfExistsFail
	}
	if !validIfExists(mode) {
		return nil, errors.NewInvalidTableConfig(tableName,
			fmt.Sprintf("invalid if_exists mode %q", mode))
	}

	exists, err := adhocTableExists(ctx, adapter, tableName)
	if err != nil {
		return nil, err
	}
	if exists {
		switch mode {
		case IfExistsFail:
			return nil, errors.NewInvalidTableConfig(tableName,
				fmt.Sprintf("table already exists in datasource %s", ds))
		case IfExistsIgnore:
			return nil, nil
		}
	}

	shape, err := resolveAdHocShape(tableName, tc)
	if err != nil {
		return nil, err
	}

	dataPath, err := adhocDataPath(ds, tableName, tc.DataURL, mode, tc.ReplaceAfter, cfg)
	if err != nil {
		return nil, err
	}

	rows, err := readAdHocRows(tableName, dataPath, shape.columns)
	if err != nil {
		return nil, err
	}

	rows, warnings, err := transformAdHocRows(tableName, tc, shape, rows)
	if err != nil {
		return nil, err
	}

	if exists {
		if err := adapter.Exec(ctx, "DROP TABLE IF EXISTS "+tableName); err != nil {
			return nil, errors.NewFailedExecution(ds, err)
		}
	}
	if err := createAdHocTable(ctx, ds, adapter, tableName, shape); err != nil {
		return nil, err
	}
	if err := insertAdHocRows(ctx, ds, adapter, tableName, shape, rows, cfg.LoadTableChunkSize); err != nil {
		return nil, err
	}
	return warnings, nil
}

// adhocShape is the resolved column layout of an ad-hoc table: column
// names in sorted order, their load-time types after convert_types, and
// the indexes of primary key columns.
type adhocShape struct {
	columns   []string
	effective []sql.ColumnType
	pkIndexes []int
}

func resolveAdHocShape(tableName string, tc *schema.TableConfig) (*adhocShape, error) {
	if len(tc.Columns) == 0 {
		return nil, errors.NewInvalidTableConfig(tableName, "ad-hoc table declares no columns")
	}
	columns := make([]string, 0, len(tc.Columns))
	for name := range tc.Columns {
		columns = append(columns, name)
	}
	sort.Strings(columns)

	shape := &adhocShape{columns: columns}
	for _, colName := range columns {
		cc := tc.Columns[colName]
		if cc == nil || cc.Type == "" {
			return nil, errors.NewInvalidTableConfig(tableName,
				fmt.Sprintf("column %s has no type", colName))
		}
		declared, err := sql.ParseColumnType(cc.Type)
		if err != nil {
			return nil, errors.NewInvalidTableConfig(tableName,
				fmt.Sprintf("column %s: %v", colName, err))
		}
		effective := declared
		if override, ok := tc.ConvertTypes[colName]; ok {
			effective, err = sql.ParseColumnType(override)
			if err != nil {
				return nil, errors.NewInvalidTableConfig(tableName,
					fmt.Sprintf("convert_types for column %s: %v", colName, err))
			}
		}
		shape.effective = append(shape.effective, effective)
	}

	for _, pk := range tc.PrimaryKey {
		colName, ok := adhocColumnForField(tableName, tc, pk)
		if !ok {
			return nil, errors.NewInvalidTableConfig(tableName,
				fmt.Sprintf("primary key field %s is not bound to any column", pk))
		}
		idx := sort.SearchStrings(columns, colName)
		shape.pkIndexes = append(shape.pkIndexes, idx)
	}
	return shape, nil
}

// adhocColumnForField maps a field name back to the column that binds
// it, consulting explicit bindings first and default field names for
// columns that declare none.
func adhocColumnForField(tableName string, tc *schema.TableConfig, field string) (string, bool) {
	names := make([]string, 0, len(tc.Columns))
	for name := range tc.Columns {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, colName := range names {
		cc := tc.Columns[colName]
		if cc == nil {
			continue
		}
		if len(cc.Fields) == 0 {
			if defaultFieldName(tableName, colName, tc.UseFullColumnNames) == field {
				return colName, true
			}
			continue
		}
		for _, fb := range cc.Fields {
			if fb.Name == field {
				return colName, true
			}
		}
	}
	return "", false
}

// adhocDataPath resolves a data_url to a readable local file,
// downloading remote data into the ad-hoc datasource directory.
func adhocDataPath(ds, tableName, dataURL, mode, replaceAfter string, cfg *config.Config) (string, error) {
	if replaceAfter == "" {
		replaceAfter = DefaultReplaceAfter
	}
	if isRemoteURL(dataURL) {
		ext, err := dataURLExtension(dataURL)
		if err != nil {
			return "", errors.NewInvalidTableConfig(tableName, err.Error())
		}
		name := ds + "_" + strings.ReplaceAll(tableName, ".", "_") + ext
		outPath := filepath.Join(cfg.AdHocDataSourceDirectory, name)
		localPath, err := fetchDataFile(dataURL, outPath, mode, replaceAfter)
		if err != nil {
			return "", errors.NewInvalidTableConfig(tableName, err.Error())
		}
		return localPath, nil
	}
	localPath := strings.TrimPrefix(dataURL, "file://")
	if _, err := os.Stat(localPath); err != nil {
		return "", errors.NewInvalidTableConfig(tableName,
			fmt.Sprintf("data file %s is not readable", localPath))
	}
	return localPath, nil
}

func isRemoteURL(rawURL string) bool {
	return strings.HasPrefix(rawURL, "http://") || strings.HasPrefix(rawURL, "https://")
}

func dataURLExtension(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid data_url %q", rawURL)
	}
	ext := path.Ext(parsed.Path)
	if ext == "" {
		return "", fmt.Errorf("data_url %q has no file extension", rawURL)
	}
	return ext, nil
}

// fetchDataFile ensures a local copy of a data URL exists at outPath.
// Local paths are returned as-is. For remote URLs the if_exists mode
// decides what to do with a previous download.
func fetchDataFile(rawURL, outPath, ifExists, replaceAfter string) (string, error) {
	if !isRemoteURL(rawURL) {
		localPath := strings.TrimPrefix(rawURL, "file://")
		if _, err := os.Stat(localPath); err != nil {
			return "", fmt.Errorf("data file %s is not readable", localPath)
		}
		return localPath, nil
	}

	if ifExists == "" {
		ifExists = IfExistsFail
	}
	if !validIfExists(ifExists) {
		return "", fmt.Errorf("invalid if_exists mode %q", ifExists)
	}

	if info, err := os.Stat(outPath); err == nil {
		switch ifExists {
		case IfExistsFail:
			return "", fmt.Errorf("file %s already exists", outPath)
		case IfExistsIgnore:
			return outPath, nil
		case IfExistsReplaceAfter:
			if replaceAfter == "" {
				replaceAfter = DefaultReplaceAfter
			}
			age, err := parseReplaceAfter(replaceAfter)
			if err != nil {
				return "", err
			}
			if time.Since(info.ModTime()) < age {
				return outPath, nil
			}
		}
	}

	if err := downloadFile(rawURL, outPath); err != nil {
		return "", err
	}
	return outPath, nil
}

func downloadFile(rawURL, outPath string) error {
	resp, err := http.Get(rawURL)
	if err != nil {
		return fmt.Errorf("downloading %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("downloading %s: unexpected status %s", rawURL, resp.Status)
	}
	out, err := os.Create(outPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(outPath)
		return fmt.Errorf("writing %s: %w", outPath, err)
	}
	return out.Close()
}

// readAdHocRows parses a data file into rows ordered by the table's
// column layout. CSV files need a header row; JSON files hold either an
// array of objects or an object with a "data" array.
func readAdHocRows(tableName, dataPath string, columns []string) ([][]interface{}, error) {
	switch strings.ToLower(path.Ext(dataPath)) {
	case ".csv":
		return readCSVRows(tableName, dataPath, columns)
	case ".json":
		return readJSONRows(tableName, dataPath, columns)
	}
	return nil, errors.NewInvalidTableConfig(tableName,
		fmt.Sprintf("unrecognized data format %q (want .csv or .json)", path.Ext(dataPath)))
}

func readCSVRows(tableName, dataPath string, columns []string) ([][]interface{}, error) {
	f, err := os.Open(dataPath)
	if err != nil {
		return nil, errors.NewInvalidTableConfig(tableName, err.Error())
	}
	defer f.Close()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, errors.NewInvalidTableConfig(tableName,
			fmt.Sprintf("reading CSV header: %v", err))
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimSpace(name)] = i
	}
	positions := make([]int, len(columns))
	for i, col := range columns {
		pos, ok := index[col]
		if !ok {
			return nil, errors.NewInvalidTableConfig(tableName,
				fmt.Sprintf("column %s not found in CSV header", col))
		}
		positions[i] = pos
	}

	var rows [][]interface{}
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.NewInvalidTableConfig(tableName,
				fmt.Sprintf("reading CSV row: %v", err))
		}
		row := make([]interface{}, len(columns))
		for i, pos := range positions {
			if v := record[pos]; v != "" {
				row[i] = v
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func readJSONRows(tableName, dataPath string, columns []string) ([][]interface{}, error) {
	data, err := os.ReadFile(dataPath)
	if err != nil {
		return nil, errors.NewInvalidTableConfig(tableName, err.Error())
	}
	var decoded interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, errors.NewInvalidTableConfig(tableName,
			fmt.Sprintf("parsing JSON: %v", err))
	}

	var records []interface{}
	switch v := decoded.(type) {
	case []interface{}:
		records = v
	case map[string]interface{}:
		inner, ok := v["data"].([]interface{})
		if !ok {
			return nil, errors.NewInvalidTableConfig(tableName,
				"JSON object form requires a \"data\" array")
		}
		records = inner
	default:
		return nil, errors.NewInvalidTableConfig(tableName,
			"JSON data must be an array of objects")
	}

	rows := make([][]interface{}, 0, len(records))
	for _, record := range records {
		obj, ok := record.(map[string]interface{})
		if !ok {
			return nil, errors.NewInvalidTableConfig(tableName,
				"JSON data must be an array of objects")
		}
		row := make([]interface{}, len(columns))
		for i, col := range columns {
			if v, ok := obj[col]; ok && v != "" {
				row[i] = v
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// transformAdHocRows applies per-column type conversion, fills null
// primary key cells, and drops duplicate primary key rows when asked.
func transformAdHocRows(tableName string, tc *schema.TableConfig, shape *adhocShape, rows [][]interface{}) ([][]interface{}, []string, error) {
	for _, row := range rows {
		for i, col := range shape.columns {
			converted, err := convertValue(row[i], shape.effective[i])
			if err != nil {
				return nil, nil, errors.NewInvalidTableConfig(tableName,
					fmt.Sprintf("column %s: %v", col, err))
			}
			row[i] = converted
		}
	}

	fill := tc.FillNA
	if fill == nil {
		fill = ""
	}
	for _, row := range rows {
		for _, idx := range shape.pkIndexes {
			if row[idx] == nil {
				row[idx] = fill
			}
		}
	}

	var warnings []string
	if tc.DropDupes && len(shape.pkIndexes) > 0 {
		seen := make(map[string]struct{}, len(rows))
		kept := rows[:0]
		for _, row := range rows {
			var key strings.Builder
			for _, idx := range shape.pkIndexes {
				fmt.Fprintf(&key, "%v\x00", row[idx])
			}
			if _, dup := seen[key.String()]; dup {
				continue
			}
			seen[key.String()] = struct{}{}
			kept = append(kept, row)
		}
		if dropped := len(rows) - len(kept); dropped > 0 {
			warnings = append(warnings,
				fmt.Sprintf("table %s: dropped %d duplicate primary key rows", tableName, dropped))
		}
		rows = kept
	}
	return rows, warnings, nil
}

// convertValue coerces a raw CSV or JSON value to the column's load
// type. Empty values become NULL.
func convertValue(v interface{}, t sql.ColumnType) (interface{}, error) {
	switch raw := v.(type) {
	case nil:
		return nil, nil
	case string:
		if raw == "" {
			return nil, nil
		}
		switch {
		case t.IsInteger():
			n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%q is not an integer", raw)
			}
			return n, nil
		case t.IsFloat() || t.IsDecimal():
			f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
			if err != nil {
				return nil, fmt.Errorf("%q is not a number", raw)
			}
			return f, nil
		case t.Base == "boolean":
			b, err := strconv.ParseBool(strings.ToLower(strings.TrimSpace(raw)))
			if err != nil {
				return nil, fmt.Errorf("%q is not a boolean", raw)
			}
			return b, nil
		}
		return raw, nil
	case float64:
		if t.IsInteger() {
			if raw != math.Trunc(raw) {
				return nil, fmt.Errorf("%v is not an integer", raw)
			}
			return int64(raw), nil
		}
		return raw, nil
	case bool, int, int64:
		return raw, nil
	}
	return v, nil
}

func adhocTableExists(ctx context.Context, adapter adapters.Adapter, tableName string) (bool, error) {
	res, err := adapter.Query(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?",
		sql.TableShortName(tableName))
	if err != nil {
		return false, err
	}
	return res.RowCount > 0, nil
}

func createAdHocTable(ctx context.Context, ds string, adapter adapters.Adapter, tableName string, shape *adhocShape) error {
	quote := adapter.Dialect().Quote

	decls := make([]string, 0, len(shape.columns)+1)
	for i, col := range shape.columns {
		decls = append(decls, quote(col)+" "+sql.TypeDecl(shape.effective[i]))
	}
	if len(shape.pkIndexes) > 0 {
		pkCols := make([]string, 0, len(shape.pkIndexes))
		for _, idx := range shape.pkIndexes {
			pkCols = append(pkCols, quote(shape.columns[idx]))
		}
		decls = append(decls, "PRIMARY KEY ("+strings.Join(pkCols, ", ")+")")
	}

	stmt := fmt.Sprintf("CREATE TABLE %s (%s)", tableName, strings.Join(decls, ", "))
	if err := adapter.Exec(ctx, stmt); err != nil {
		return errors.NewFailedExecution(ds, err)
	}
	return nil
}

func insertAdHocRows(ctx context.Context, ds string, adapter adapters.Adapter, tableName string, shape *adhocShape, rows [][]interface{}, chunkSize int) error {
	if len(rows) == 0 {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = config.DefaultConfig().LoadTableChunkSize
	}
	if limit := maxStatementParams / len(shape.columns); limit > 0 && chunkSize > limit {
		chunkSize = limit
	}

	quote := adapter.Dialect().Quote
	quoted := make([]string, len(shape.columns))
	for i, col := range shape.columns {
		quoted[i] = quote(col)
	}
	placeholder := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(shape.columns)), ", ") + ")"
	prefix := fmt.Sprintf("INSERT INTO %s (%s) VALUES ", tableName, strings.Join(quoted, ", "))

	for start := 0; start < len(rows); start += chunkSize {
		end := start + chunkSize
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]

		groups := make([]string, len(chunk))
		args := make([]interface{}, 0, len(chunk)*len(shape.columns))
		for i, row := range chunk {
			groups[i] = placeholder
			args = append(args, row...)
		}
		if err := adapter.Exec(ctx, prefix+strings.Join(groups, ", "), args...); err != nil {
			return errors.NewFailedExecution(ds, err)
		}
	}
	return nil
}
