package marketdata

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/newthinker/tradesim/internal/core"
)

// CSVStore reads one <ts_code>_<name>.csv file per security from a
// directory. Files carry a header row with at least trade_date, open and
// close columns.
type CSVStore struct {
	dir      string
	encoding encoding.Encoding
	logger   *zap.Logger
}

// NewCSVStore creates a store over dir. charset is "utf-8" (default),
// "gbk" or "gb18030".
func NewCSVStore(dir, charset string, logger *zap.Logger) (*CSVStore, error) {
	if dir == "" {
		return nil, core.Errorf(core.ErrConfigMissing, "data.csv_dir")
	}
	enc, err := lookupEncoding(charset)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CSVStore{dir: dir, encoding: enc, logger: logger}, nil
}

func lookupEncoding(charset string) (encoding.Encoding, error) {
	switch strings.ToLower(strings.ReplaceAll(charset, "-", "")) {
	case "", "utf8":
		return unicode.UTF8, nil
	case "gbk":
		return simplifiedchinese.GBK, nil
	case "gb18030":
		return simplifiedchinese.GB18030, nil
	default:
		return nil, core.Errorf(core.ErrConfigInvalid, "unsupported csv encoding %q", charset)
	}
}

type csvFile struct {
	path       string
	instrument core.Instrument
}

// files indexes the directory by ts_code.
func (s *CSVStore) files() (map[string]csvFile, error) {
	paths, err := filepath.Glob(filepath.Join(s.dir, "*.csv"))
	if err != nil {
		return nil, core.WrapError(core.ErrStorageFailed, err)
	}
	out := make(map[string]csvFile, len(paths))
	for _, p := range paths {
		base := strings.TrimSuffix(filepath.Base(p), ".csv")
		code, name, _ := strings.Cut(base, "_")
		if code == "" {
			continue
		}
		out[code] = csvFile{
			path:       p,
			instrument: core.Instrument{Symbol: code, Name: name, Market: core.MarketOf(code)},
		}
	}
	return out, nil
}

// Instruments lists the securities found in the directory.
func (s *CSVStore) Instruments(ctx context.Context) ([]core.Instrument, error) {
	files, err := s.files()
	if err != nil {
		return nil, err
	}
	out := make([]core.Instrument, 0, len(files))
	for _, f := range files {
		out = append(out, f.instrument)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

// LoadHistory reads the files of the requested symbols. Symbols without a
// file are absent from the result.
func (s *CSVStore) LoadHistory(ctx context.Context, symbols []string, start, end time.Time) (map[string][]core.OHLCV, error) {
	files, err := s.files()
	if err != nil {
		return nil, err
	}

	out := make(map[string][]core.OHLCV)
	for _, sym := range symbols {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f, ok := files[sym]
		if !ok {
			s.logger.Debug("no csv file for symbol", zap.String("symbol", sym))
			continue
		}
		bars, err := s.readFile(f.path, sym)
		if err != nil {
			return nil, err
		}
		for _, b := range bars {
			if inRange(b.Time, start, end) {
				out[sym] = append(out[sym], b)
			}
		}
	}
	return out, nil
}

func (s *CSVStore) readFile(path, symbol string) ([]core.OHLCV, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, core.WrapError(core.ErrStorageFailed, err)
	}
	defer f.Close()

	bars, err := parseBars(transform.NewReader(f, s.encoding.NewDecoder()), symbol)
	if err != nil {
		return nil, core.WrapError(core.ErrStorageFailed, fmt.Errorf("%s: %w", filepath.Base(path), err))
	}
	return bars, nil
}

// parseBars decodes a header-led CSV of daily bars. Rows with an
// unparseable date or price are skipped.
func parseBars(r io.Reader, symbol string) ([]core.OHLCV, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	for _, required := range []string{"trade_date", "open", "close"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("missing column %q", required)
		}
	}

	field := func(rec []string, name string) (float64, bool) {
		i, ok := col[name]
		if !ok || i >= len(rec) {
			return 0, false
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[i]), 64)
		return v, err == nil
	}

	var bars []core.OHLCV
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if col["trade_date"] >= len(rec) {
			continue
		}
		t, err := parseDate(strings.TrimSpace(rec[col["trade_date"]]))
		if err != nil {
			continue
		}
		open, ok1 := field(rec, "open")
		closePrice, ok2 := field(rec, "close")
		if !ok1 || !ok2 {
			continue
		}
		high, _ := field(rec, "high")
		low, _ := field(rec, "low")
		vol, _ := field(rec, "vol")

		bars = append(bars, core.OHLCV{
			Symbol:   symbol,
			Interval: "1d",
			Time:     t,
			Open:     open,
			High:     high,
			Low:      low,
			Close:    closePrice,
			Volume:   int64(vol),
		})
	}

	sort.Slice(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })
	return bars, nil
}
