package cdr

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/kirillkom/cdr-backoffice/internal/core/domain"
)

const (
	minFields = 7
	maxFields = 8
)

// Parser reads headerless CDR files:
// date, imsi, msisdn, iccid, mcc, mnc, usage[, usage_charged].
type Parser struct {
	logger *slog.Logger
}

func NewParser(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{logger: logger}
}

// Parse returns every accepted row. Malformed rows are skipped with a warning;
// only read failures of the underlying stream are returned as errors.
func (p *Parser) Parse(ctx context.Context, r io.Reader) ([]domain.CDRRecord, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.ReuseRecord = true

	records := make([]domain.CDRRecord, 0, 128)
	rowNumber := 0
	skipped := 0
	for {
		if rowNumber%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		fields, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		rowNumber++
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				skipped++
				p.logger.Warn("cdr_row_skipped", "row", rowNumber, "reason", parseErr.Error())
				continue
			}
			return nil, fmt.Errorf("read cdr row %d: %w", rowNumber, err)
		}

		rec, reason := parseRow(fields)
		if reason != "" {
			skipped++
			p.logger.Warn("cdr_row_skipped", "row", rowNumber, "reason", reason)
			continue
		}
		rec.RowNumber = rowNumber
		records = append(records, rec)
	}

	if skipped > 0 {
		p.logger.Info("cdr_parse_summary", "rows", rowNumber, "accepted", len(records), "skipped", skipped)
	}
	return records, nil
}

func parseRow(fields []string) (domain.CDRRecord, string) {
	if len(fields) < minFields {
		return domain.CDRRecord{}, fmt.Sprintf("expected at least %d fields, got %d", minFields, len(fields))
	}
	trimmed := make([]string, maxFields)
	for i := 0; i < len(fields) && i < maxFields; i++ {
		trimmed[i] = strings.TrimSpace(strings.TrimPrefix(fields[i], "\ufeff"))
	}

	usage, err := parseQuantity(trimmed[6])
	if err != nil {
		return domain.CDRRecord{}, "usage is not an integer: " + trimmed[6]
	}
	charged, err := parseQuantity(trimmed[7])
	if err != nil {
		return domain.CDRRecord{}, "usage_charged is not an integer: " + trimmed[7]
	}

	iccid := trimmed[3]
	if !domain.ValidICCID(iccid) {
		return domain.CDRRecord{}, "invalid iccid: " + iccid
	}

	return domain.CDRRecord{
		Date:         trimmed[0],
		IMSI:         trimmed[1],
		MSISDN:       trimmed[2],
		ICCID:        iccid,
		MCC:          trimmed[4],
		MNC:          trimmed[5],
		Usage:        usage,
		UsageCharged: charged,
	}, ""
}

func parseQuantity(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}
