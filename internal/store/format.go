// Package store implements the partitioned, compressed, atomically-written
// columnar file format bar data lives in on disk, plus the writer/reader
// pair that produces and scans it.
//
// The container is a small self-describing binary layout: a header carrying
// the schema (decimal precision/scale, resolution), per-column statistics,
// and a sid dictionary, followed by one compressed row block
// (klauspost/compress/zstd or compress/gzip).
package store

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/shopspring/decimal"

	"github.com/sawpanic/marketdata/internal/bar"
)

// magic identifies a bar column file; readers refuse anything else.
var magic = [8]byte{'M', 'D', 'B', 'A', 'R', '0', '0', '1'}

const schemaVersion = 1

// Compression selects the block-compression mode a file was written with:
// Lightweight is gzip, Strong is zstd.
type Compression uint8

const (
	Lightweight Compression = iota
	Strong
)

func (c Compression) String() string {
	if c == Strong {
		return "strong"
	}
	return "lightweight"
}

// decimalPrecision/decimalScale are the canonical decimal(18,8) every bar
// column carries; a file claiming any other precision/scale is rejected by
// the reader.
const (
	decimalPrecision = 18
	decimalScale     = 8
)

// header is the self-describing schema portion of a bar file: enough for a
// reader to validate compatibility and prune without decompressing the row
// block.
type header struct {
	SchemaVersion uint8
	Compression   Compression
	Resolution    bar.Resolution
	RowCount      uint32
	Precision     uint8
	Scale         uint8
	MinTime       time.Time
	MaxTime       time.Time
	SidDict       []int64 // dictionary encoding for the sid column
	Stats         ColumnStats
}

// ColumnStats carries per-column min/max for the decimal fields, stored in
// the file header. The reader's file skipping uses the header's min/max time,
// not these statistics.
type ColumnStats struct {
	MinOpen, MaxOpen     decimal.Decimal
	MinHigh, MaxHigh     decimal.Decimal
	MinLow, MaxLow       decimal.Decimal
	MinClose, MaxClose   decimal.Decimal
	MinVolume, MaxVolume decimal.Decimal
}

func computeStats(rows []bar.Bar) ColumnStats {
	s := ColumnStats{
		MinOpen: rows[0].Open, MaxOpen: rows[0].Open,
		MinHigh: rows[0].High, MaxHigh: rows[0].High,
		MinLow: rows[0].Low, MaxLow: rows[0].Low,
		MinClose: rows[0].Close, MaxClose: rows[0].Close,
		MinVolume: rows[0].Volume, MaxVolume: rows[0].Volume,
	}
	for _, r := range rows[1:] {
		if r.Open.LessThan(s.MinOpen) {
			s.MinOpen = r.Open
		}
		if r.Open.GreaterThan(s.MaxOpen) {
			s.MaxOpen = r.Open
		}
		if r.High.LessThan(s.MinHigh) {
			s.MinHigh = r.High
		}
		if r.High.GreaterThan(s.MaxHigh) {
			s.MaxHigh = r.High
		}
		if r.Low.LessThan(s.MinLow) {
			s.MinLow = r.Low
		}
		if r.Low.GreaterThan(s.MaxLow) {
			s.MaxLow = r.Low
		}
		if r.Close.LessThan(s.MinClose) {
			s.MinClose = r.Close
		}
		if r.Close.GreaterThan(s.MaxClose) {
			s.MaxClose = r.Close
		}
		if r.Volume.LessThan(s.MinVolume) {
			s.MinVolume = r.Volume
		}
		if r.Volume.GreaterThan(s.MaxVolume) {
			s.MaxVolume = r.Volume
		}
	}
	return s
}

func sidDictionary(rows []bar.Bar) ([]int64, map[int64]uint32) {
	seen := make(map[int64]struct{})
	for _, r := range rows {
		seen[r.Sid] = struct{}{}
	}
	dict := make([]int64, 0, len(seen))
	for sid := range seen {
		dict = append(dict, sid)
	}
	sort.Slice(dict, func(i, j int) bool { return dict[i] < dict[j] })

	index := make(map[int64]uint32, len(dict))
	for i, sid := range dict {
		index[sid] = uint32(i)
	}
	return dict, index
}

// encodeFile serializes rows (already sorted ascending by time, already
// validated) into the on-disk byte layout.
func encodeFile(rows []bar.Bar, res bar.Resolution, compression Compression) ([]byte, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("store: encodeFile called with zero rows")
	}

	dict, dictIndex := sidDictionary(rows)
	stats := computeStats(rows)

	var rowBuf bytes.Buffer
	for _, r := range rows {
		writeInt64(&rowBuf, r.Time.UTC().UnixMicro())
		writeUint32(&rowBuf, dictIndex[r.Sid])
		writeDecimal(&rowBuf, r.Open)
		writeDecimal(&rowBuf, r.High)
		writeDecimal(&rowBuf, r.Low)
		writeDecimal(&rowBuf, r.Close)
		writeDecimal(&rowBuf, r.Volume)
	}

	compressed, err := compressBlock(rowBuf.Bytes(), compression)
	if err != nil {
		return nil, err
	}

	var out bytes.Buffer
	out.Write(magic[:])
	out.WriteByte(schemaVersion)
	out.WriteByte(byte(compression))
	out.WriteByte(resolutionByte(res))
	writeUint32(&out, uint32(len(rows)))
	out.WriteByte(decimalPrecision)
	out.WriteByte(decimalScale)
	writeInt64(&out, rows[0].Time.UTC().UnixMicro())
	writeInt64(&out, rows[len(rows)-1].Time.UTC().UnixMicro())

	writeUint32(&out, uint32(len(dict)))
	for _, sid := range dict {
		writeInt64(&out, sid)
	}

	for _, d := range []decimal.Decimal{
		stats.MinOpen, stats.MaxOpen, stats.MinHigh, stats.MaxHigh,
		stats.MinLow, stats.MaxLow, stats.MinClose, stats.MaxClose,
		stats.MinVolume, stats.MaxVolume,
	} {
		writeDecimal(&out, d)
	}

	writeUint32(&out, uint32(len(compressed)))
	out.Write(compressed)

	return out.Bytes(), nil
}

// decodeFile parses a bar file, optionally skipping the row block entirely
// (pruneOnly) when the caller only needs the header for partition pruning.
func decodeFile(data []byte, pruneOnly bool) (header, []bar.Bar, error) {
	r := bufio.NewReader(bytes.NewReader(data))

	var gotMagic [8]byte
	if _, err := io.ReadFull(r, gotMagic[:]); err != nil {
		return header{}, nil, fmt.Errorf("store: truncated file header: %w", err)
	}
	if gotMagic != magic {
		return header{}, nil, fmt.Errorf("store: not a bar file (bad magic)")
	}

	var h header
	schemaVer, _ := r.ReadByte()
	h.SchemaVersion = schemaVer
	if h.SchemaVersion != schemaVersion {
		return header{}, nil, fmt.Errorf("store: unsupported schema version %d", h.SchemaVersion)
	}
	compByte, _ := r.ReadByte()
	h.Compression = Compression(compByte)
	resByte, _ := r.ReadByte()
	h.Resolution = resolutionFromByte(resByte)

	h.RowCount = readUint32(r)
	h.Precision, _ = r.ReadByte()
	h.Scale, _ = r.ReadByte()
	if h.Precision != decimalPrecision || h.Scale != decimalScale {
		return header{}, nil, fmt.Errorf("store: schema mismatch: decimal(%d,%d) != decimal(%d,%d)",
			h.Precision, h.Scale, decimalPrecision, decimalScale)
	}

	minMicro := readInt64(r)
	maxMicro := readInt64(r)
	h.MinTime = time.UnixMicro(minMicro).UTC()
	h.MaxTime = time.UnixMicro(maxMicro).UTC()

	dictCount := readUint32(r)
	dict := make([]int64, dictCount)
	for i := range dict {
		dict[i] = readInt64(r)
	}
	h.SidDict = dict

	dec := make([]decimal.Decimal, 10)
	for i := range dec {
		dec[i] = readDecimal(r)
	}
	h.Stats = ColumnStats{
		MinOpen: dec[0], MaxOpen: dec[1], MinHigh: dec[2], MaxHigh: dec[3],
		MinLow: dec[4], MaxLow: dec[5], MinClose: dec[6], MaxClose: dec[7],
		MinVolume: dec[8], MaxVolume: dec[9],
	}

	blockLen := readUint32(r)
	if pruneOnly {
		return h, nil, nil
	}

	compressed := make([]byte, blockLen)
	if _, err := io.ReadFull(r, compressed); err != nil {
		return header{}, nil, fmt.Errorf("store: truncated row block: %w", err)
	}

	raw, err := decompressBlock(compressed, h.Compression)
	if err != nil {
		return header{}, nil, err
	}

	rows := make([]bar.Bar, 0, h.RowCount)
	rr := bufio.NewReader(bytes.NewReader(raw))
	for i := uint32(0); i < h.RowCount; i++ {
		micros := readInt64(rr)
		dictIdx := readUint32(rr)
		open := readDecimal(rr)
		high := readDecimal(rr)
		low := readDecimal(rr)
		closeP := readDecimal(rr)
		vol := readDecimal(rr)
		rows = append(rows, bar.Bar{
			Time: time.UnixMicro(micros).UTC(), Sid: dict[dictIdx],
			Open: open, High: high, Low: low, Close: closeP, Volume: vol,
		})
	}

	return h, rows, nil
}

func resolutionByte(r bar.Resolution) byte {
	if r == bar.Minute {
		return 1
	}
	return 0
}

func resolutionFromByte(b byte) bar.Resolution {
	if b == 1 {
		return bar.Minute
	}
	return bar.Daily
}

func compressBlock(data []byte, c Compression) ([]byte, error) {
	var buf bytes.Buffer
	switch c {
	case Strong:
		enc, err := zstd.NewWriter(&buf)
		if err != nil {
			return nil, fmt.Errorf("store: zstd writer: %w", err)
		}
		if _, err := enc.Write(data); err != nil {
			enc.Close()
			return nil, fmt.Errorf("store: zstd write: %w", err)
		}
		if err := enc.Close(); err != nil {
			return nil, fmt.Errorf("store: zstd close: %w", err)
		}
	default:
		gw := gzip.NewWriter(&buf)
		if _, err := gw.Write(data); err != nil {
			gw.Close()
			return nil, fmt.Errorf("store: gzip write: %w", err)
		}
		if err := gw.Close(); err != nil {
			return nil, fmt.Errorf("store: gzip close: %w", err)
		}
	}
	return buf.Bytes(), nil
}

func decompressBlock(data []byte, c Compression) ([]byte, error) {
	switch c {
	case Strong:
		dec, err := zstd.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("store: zstd reader: %w", err)
		}
		defer dec.Close()
		return io.ReadAll(dec)
	default:
		gr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("store: gzip reader: %w", err)
		}
		defer gr.Close()
		return io.ReadAll(gr)
	}
}

func writeInt64(w io.Writer, v int64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	w.Write(b[:])
}

func readInt64(r io.Reader) int64 {
	var b [8]byte
	io.ReadFull(r, b[:])
	return int64(binary.BigEndian.Uint64(b[:]))
}

func writeUint32(w io.Writer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.Write(b[:])
}

func readUint32(r io.Reader) uint32 {
	var b [4]byte
	io.ReadFull(r, b[:])
	return binary.BigEndian.Uint32(b[:])
}

// writeDecimal stores a decimal as its exact string form, length-prefixed —
// values must round-trip bit-exact, which rules out any binary float
// encoding.
func writeDecimal(w io.Writer, d decimal.Decimal) {
	s := d.String()
	writeUint32(w, uint32(len(s)))
	io.WriteString(w, s)
}

func readDecimal(r io.Reader) decimal.Decimal {
	n := readUint32(r)
	b := make([]byte, n)
	io.ReadFull(r, b)
	d, _ := decimal.NewFromString(string(b))
	return d
}

// CompressionStats compares a written file's total on-disk size (header
// included) with the uncompressed size of its row block.
type CompressionStats struct {
	Compression    Compression
	RowCount       int
	CompressedSize int64
	RawSize        int64
}

// Ratio is CompressedSize/RawSize, or 0 when RawSize is unknown.
func (s CompressionStats) Ratio() float64 {
	if s.RawSize == 0 {
		return 0
	}
	return float64(s.CompressedSize) / float64(s.RawSize)
}

// FileCompressionStats reads a single bar file's header and row block and
// reports its compression ratio, for `bundle info` diagnostics.
func FileCompressionStats(path string) (CompressionStats, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return CompressionStats{}, fmt.Errorf("store: read %s: %w", path, err)
	}

	h, rows, err := decodeFile(data, false)
	if err != nil {
		return CompressionStats{}, err
	}

	raw, err := encodeRawRowBlock(rows)
	if err != nil {
		return CompressionStats{}, err
	}

	return CompressionStats{
		Compression:    h.Compression,
		RowCount:       int(h.RowCount),
		CompressedSize: int64(len(data)),
		RawSize:        int64(len(raw)),
	}, nil
}

// encodeRawRowBlock serializes rows into the uncompressed row-block layout,
// used only to measure compression ratio (the same bytes encodeFile
// compresses before writing).
func encodeRawRowBlock(rows []bar.Bar) ([]byte, error) {
	var rowBuf bytes.Buffer
	_, dictIndex := sidDictionary(rows)
	for _, r := range rows {
		writeInt64(&rowBuf, r.Time.UTC().UnixMicro())
		writeUint32(&rowBuf, dictIndex[r.Sid])
		writeDecimal(&rowBuf, r.Open)
		writeDecimal(&rowBuf, r.High)
		writeDecimal(&rowBuf, r.Low)
		writeDecimal(&rowBuf, r.Close)
		writeDecimal(&rowBuf, r.Volume)
	}
	return rowBuf.Bytes(), nil
}
