package main

import (
	"context"
	"log/slog"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	bloomMinCapacity = 100_000
	bloomFPR         = 0.001
)

var pincodeColumns = []string{"zipcode", "state", "city", "estimated_delivery_days"}

// loadExisting builds a bloom filter over the zipcodes already stored.
func loadExisting(ctx context.Context, pool *pgxpool.Pool) (*bloom.BloomFilter, error) {
	var n int
	if err := pool.QueryRow(ctx, `SELECT count(*) FROM pincodes`).Scan(&n); err != nil {
		return nil, errors.Wrap(err, "count pincodes")
	}
	filter := bloom.NewWithEstimates(uint(max(n, bloomMinCapacity)), bloomFPR)

	rows, err := pool.Query(ctx, `SELECT zipcode FROM pincodes`)
	if err != nil {
		return nil, errors.Wrap(err, "query pincodes")
	}
	defer rows.Close()
	for rows.Next() {
		var zipcode string
		if err := rows.Scan(&zipcode); err != nil {
			return nil, errors.Wrap(err, "scan pincode")
		}
		filter.AddString(zipcode)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate pincodes")
	}

	slog.Info("existing pincodes loaded", slog.Int("count", n))
	return filter, nil
}

// write copies fresh rows directly and upserts known rows through a staging
// table, in one transaction.
func write(ctx context.Context, pool *pgxpool.Pool, fresh, known []record) error {
	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		if len(fresh) > 0 {
			n, err := tx.CopyFrom(ctx, pgx.Identifier{"pincodes"}, pincodeColumns, copySource(fresh))
			if err != nil {
				return errors.Wrap(err, "copy fresh pincodes")
			}
			slog.Info("copied fresh pincodes", slog.Int64("rows", n))
		}
		if len(known) == 0 {
			return nil
		}

		if _, err := tx.Exec(ctx, `CREATE TEMP TABLE pincode_staging
			(LIKE pincodes INCLUDING DEFAULTS) ON COMMIT DROP`); err != nil {
			return errors.Wrap(err, "create staging table")
		}
		if _, err := tx.CopyFrom(ctx, pgx.Identifier{"pincode_staging"}, pincodeColumns, copySource(known)); err != nil {
			return errors.Wrap(err, "copy staging pincodes")
		}
		tag, err := tx.Exec(ctx, `INSERT INTO pincodes (zipcode, state, city, estimated_delivery_days)
			SELECT zipcode, state, city, estimated_delivery_days FROM pincode_staging
			ON CONFLICT (zipcode) DO UPDATE SET
				state = EXCLUDED.state,
				city = EXCLUDED.city,
				estimated_delivery_days = EXCLUDED.estimated_delivery_days`)
		if err != nil {
			return errors.Wrap(err, "upsert staged pincodes")
		}
		slog.Info("upserted pincodes", slog.Int64("rows", tag.RowsAffected()))
		return nil
	})
}

func copySource(records []record) pgx.CopyFromSource {
	return pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
		r := records[i]
		return []any{r.zipcode, r.state, r.city, int32(r.days)}, nil
	})
}
