package main

import (
	"context"
	"encoding/csv"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/conscious-checkout/internal/domain/coupon"
)

const (
	bloomFPR     = 0.001
	minBloomSize = 1024
)

// Recognised CSV columns. The first row must name them; order is free.
const (
	colCode          = "code"
	colDiscountType  = "discountType"
	colDiscount      = "discount"
	colName          = "name"
	colCity          = "city"
	colPhone         = "phone"
	colInstagramID   = "instagramId"
	colAccountNumber = "accountNumber"
	colIFSCCode      = "ifscCode"
)

var requiredColumns = []string{colCode, colDiscount, colName, colCity, colPhone}

// parsedFile holds the valid coupons of one file.
type parsedFile struct {
	path    string
	coupons []coupon.Coupon
	codes   map[string]struct{}
	filter  *bloom.BloomFilter
	skipped int
}

// parseFiles parses every file concurrently.
func parseFiles(ctx context.Context, paths []string) ([]*parsedFile, error) {
	out := make([]*parsedFile, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	for i, p := range paths {
		g.Go(func() error {
			f, err := parseFile(ctx, p, time.Now().UTC())
			if err != nil {
				return errors.Wrapf(err, "parse %s", p)
			}
			slog.Info("pass 1 complete",
				slog.String("file", p),
				slog.Int("coupons", len(f.coupons)),
				slog.Int("skipped", f.skipped),
			)
			out[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func parseFile(ctx context.Context, path string, now time.Time) (*parsedFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open")
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return nil, errors.Wrap(err, "create gzip reader")
	}
	defer func() { _ = gz.Close() }()

	return readCoupons(ctx, path, gz, now)
}

func readCoupons(ctx context.Context, path string, r io.Reader, now time.Time) (*parsedFile, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, errors.Wrap(err, "read header")
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.TrimSpace(h)] = i
	}
	for _, c := range requiredColumns {
		if _, ok := cols[c]; !ok {
			return nil, errors.Errorf("missing column %q", c)
		}
	}

	pf := &parsedFile{path: path, codes: map[string]struct{}{}}
	for line := 2; ; line++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "line %d", line)
		}

		c, err := rowCoupon(cols, rec, now)
		if err != nil {
			slog.Warn("row skipped", slog.String("file", path), slog.Int("line", line), slog.String("reason", err.Error()))
			pf.skipped++
			continue
		}
		if _, dup := pf.codes[c.Code]; dup {
			slog.Warn("duplicate code in file, skipped", slog.String("file", path), slog.Int("line", line), slog.String("code", c.Code))
			pf.skipped++
			continue
		}
		pf.codes[c.Code] = struct{}{}
		pf.coupons = append(pf.coupons, *c)
	}

	pf.filter = bloom.NewWithEstimates(uint(max(len(pf.coupons), minBloomSize)), bloomFPR)
	for code := range pf.codes {
		pf.filter.AddString(code)
	}
	return pf, nil
}

func rowCoupon(cols map[string]int, rec []string, now time.Time) (*coupon.Coupon, error) {
	field := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	discount, err := decimal.NewFromString(field(colDiscount))
	if err != nil {
		return nil, errors.Wrap(err, "discount")
	}
	return coupon.NewCoupon(coupon.Input{
		Code:         field(colCode),
		DiscountType: coupon.DiscountType(field(colDiscountType)),
		Discount:     discount,
		OwnerName:    field(colName),
		City:         field(colCity),
		Phone:        field(colPhone),
		InstagramID:  field(colInstagramID),
		BankDetails: coupon.BankDetails{
			AccountNumber: field(colAccountNumber),
			IFSCCode:      field(colIFSCCode),
		},
	}, now)
}

// crossFileDuplicates returns the codes present in more than one file with
// the number of files listing each. Other files' bloom filters screen the
// codes and their exact sets confirm the hits.
func crossFileDuplicates(ctx context.Context, files []*parsedFile) (map[string]int, error) {
	hits := make([]map[string]int, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, pf := range files {
		g.Go(func() error {
			found := map[string]int{}
			for code := range pf.codes {
				if err := ctx.Err(); err != nil {
					return err
				}
				for j, other := range files {
					if j == i || !other.filter.TestString(code) {
						continue
					}
					if _, ok := other.codes[code]; ok {
						found[code]++
					}
				}
			}
			hits[i] = found
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	dups := map[string]int{}
	for _, found := range hits {
		for code, n := range found {
			// A code in k files is seen k times with k-1 matches each.
			dups[code] = n + 1
		}
	}
	return dups, nil
}

// merge concatenates the parsed coupons, leaving out conflicting codes.
func merge(files []*parsedFile, dups map[string]int) []coupon.Coupon {
	var out []coupon.Coupon
	for _, pf := range files {
		for _, c := range pf.coupons {
			if _, conflict := dups[c.Code]; conflict {
				continue
			}
			out = append(out, c)
		}
	}
	return out
}

func batches(coupons []coupon.Coupon, size int) [][]coupon.Coupon {
	if size <= 0 {
		size = len(coupons)
	}
	var out [][]coupon.Coupon
	for len(coupons) > 0 {
		n := min(size, len(coupons))
		out = append(out, coupons[:n])
		coupons = coupons[n:]
	}
	return out
}
