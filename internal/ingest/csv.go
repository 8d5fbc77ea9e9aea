// Package ingest loads award records from CSV exports into the store.
package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"

	"github.com/sells-group/award-enricher/internal/model"
)

// Options configures the streaming CSV parser.
type Options struct {
	Delimiter  rune // default ','
	Comment    rune // comment character (0 = none)
	LazyQuotes bool
	// OnSkip is called for every row that cannot be turned into a record.
	OnSkip func(line int, err error)
}

// recordRow mirrors the export columns. Headers are matched after
// lowercasing and replacing spaces and dashes with underscores.
type recordRow struct {
	ID                 string `csv:"id"`
	PIID               string `csv:"piid"`
	UEI                string `csv:"uei"`
	GovernmentID       string `csv:"cage"`
	AwardeeName        string `csv:"awardee_name"`
	City               string `csv:"city"`
	State              string `csv:"state"`
	Zip                string `csv:"zip"`
	AwardYear          string `csv:"award_year"`
	Amount             string `csv:"amount"`
	SignedDate         string `csv:"signed_date"`
	AgencyCode         string `csv:"agency_code"`
	OfficeCode         string `csv:"office_code"`
	SolicitationNumber string `csv:"solicitation_number"`
	NAICS              string `csv:"naics"`
}

var dateLayouts = []string{"2006-01-02", "01/02/2006", "1/2/2006", time.RFC3339}

// StreamRecords reads an award CSV and sends parsed records to a channel.
// The caller must consume the record channel. A fatal error is sent on the
// error channel; rows that fail to parse are reported to opts.OnSkip and
// dropped. Both channels are closed when processing completes.
func StreamRecords(ctx context.Context, r io.Reader, opts Options) (<-chan model.AwardRecord, <-chan error) {
	recCh := make(chan model.AwardRecord, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(recCh)
		defer close(errCh)

		reader := csv.NewReader(r)
		if opts.Delimiter != 0 {
			reader.Comma = opts.Delimiter
		}
		if opts.Comment != 0 {
			reader.Comment = opts.Comment
		}
		reader.LazyQuotes = opts.LazyQuotes
		reader.FieldsPerRecord = -1

		header, err := reader.Read()
		if err == io.EOF {
			return
		}
		if err != nil {
			errCh <- eris.Wrap(err, "ingest: read header")
			return
		}
		for i, h := range header {
			header[i] = normalizeHeader(h)
		}

		dec, err := csvutil.NewDecoder(reader, header...)
		if err != nil {
			errCh <- eris.Wrap(err, "ingest: build decoder")
			return
		}

		line := 1
		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "ingest: context cancelled")
				return
			}

			line++
			var row recordRow
			if err := dec.Decode(&row); err == io.EOF {
				return
			} else if err != nil {
				var perr *csv.ParseError
				if errors.As(err, &perr) {
					errCh <- eris.Wrapf(err, "ingest: line %d", line)
					return
				}
				skip(opts, line, err)
				continue
			}

			rec, err := row.toRecord()
			if err != nil {
				skip(opts, line, err)
				continue
			}

			select {
			case recCh <- rec:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "ingest: context cancelled")
				return
			}
		}
	}()

	return recCh, errCh
}

func skip(opts Options, line int, err error) {
	if opts.OnSkip != nil {
		opts.OnSkip(line, err)
	}
}

func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(h)
}

func (row recordRow) toRecord() (model.AwardRecord, error) {
	rec := model.AwardRecord{
		ID:                 strings.TrimSpace(row.ID),
		PIID:               strings.TrimSpace(row.PIID),
		ExternalEntityID:   strings.TrimSpace(row.UEI),
		GovernmentID:       strings.TrimSpace(row.GovernmentID),
		AwardeeName:        strings.TrimSpace(row.AwardeeName),
		City:               strings.TrimSpace(row.City),
		State:              strings.ToUpper(strings.TrimSpace(row.State)),
		Zip:                strings.TrimSpace(row.Zip),
		AgencyCode:         strings.TrimSpace(row.AgencyCode),
		OfficeCode:         strings.TrimSpace(row.OfficeCode),
		SolicitationNumber: strings.TrimSpace(row.SolicitationNumber),
		NAICS:              strings.TrimSpace(row.NAICS),
	}
	if rec.ID == "" {
		rec.ID = rec.PIID
	}
	if rec.ID == "" {
		return rec, eris.New("ingest: row has neither id nor piid")
	}

	if s := strings.TrimSpace(row.Amount); s != "" {
		amt, err := parseAmount(s)
		if err != nil {
			return rec, err
		}
		rec.Amount = amt
	}

	if s := strings.TrimSpace(row.SignedDate); s != "" {
		d, err := parseDate(s)
		if err != nil {
			return rec, err
		}
		rec.SignedDate = d
	}

	if s := strings.TrimSpace(row.AwardYear); s != "" {
		y, err := strconv.Atoi(s)
		if err != nil {
			return rec, eris.Wrapf(err, "ingest: award_year %q", s)
		}
		rec.AwardYear = y
	} else if !rec.SignedDate.IsZero() {
		rec.AwardYear = rec.SignedDate.Year()
	}

	return rec, nil
}

func parseAmount(s string) (float64, error) {
	clean := strings.NewReplacer("$", "", ",", "").Replace(s)
	if strings.HasPrefix(clean, "(") && strings.HasSuffix(clean, ")") {
		clean = "-" + strings.Trim(clean, "()")
	}
	v, err := strconv.ParseFloat(clean, 64)
	if err != nil {
		return 0, eris.Wrapf(err, "ingest: amount %q", s)
	}
	return v, nil
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, eris.Errorf("ingest: unrecognized date %q", s)
}
