package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/syntrixbase/medstore/internal/core/index"
	"github.com/syntrixbase/medstore/internal/dicom"
)

const tagColumns = `tag_key, tag_path, tag_vr, tag_private_creator, tag_level, tag_status, error_count, operation_id`

func (s *Store) AddExtendedQueryTags(ctx context.Context, entries []index.ExtendedQueryTagEntry, maxAllowed int, ready bool) ([]index.ExtendedQueryTag, error) {
	status := index.TagStatusAdding
	if ready {
		status = index.TagStatusReady
	}

	var out []index.ExtendedQueryTag
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		// serializes concurrent adds so the count check holds
		if _, err := tx.ExecContext(ctx, `LOCK TABLE extended_query_tag IN SHARE ROW EXCLUSIVE MODE`); err != nil {
			return err
		}
		var count int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM extended_query_tag`).Scan(&count); err != nil {
			return err
		}
		if maxAllowed > 0 && count+len(entries) > maxAllowed {
			return index.ErrExtendedQueryTagLimitExceeded
		}

		for _, e := range entries {
			t := index.ExtendedQueryTag{
				Path:           e.Path,
				VR:             e.VR,
				PrivateCreator: e.PrivateCreator,
				Level:          e.Level,
				Status:         status,
			}
			err := tx.QueryRowContext(ctx, `
				INSERT INTO extended_query_tag (tag_path, tag_vr, tag_private_creator, tag_level, tag_status)
				VALUES ($1, $2, $3, $4, $5)
				RETURNING tag_key
			`, e.Path, string(e.VR), nullString(e.PrivateCreator), int16(e.Level), int16(status)).Scan(&t.Key)
			if err != nil {
				if isUniqueViolation(err) {
					return fmt.Errorf("%w: %s", index.ErrExtendedQueryTagAlreadyExists, e.Path)
				}
				return err
			}
			out = append(out, t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (s *Store) ListExtendedQueryTags(ctx context.Context, opts index.TagListOptions) ([]index.ExtendedQueryTag, error) {
	var statuses any
	if len(opts.Statuses) > 0 {
		list := make([]int64, 0, len(opts.Statuses))
		for _, st := range opts.Statuses {
			list = append(list, int64(st))
		}
		statuses = pq.Array(list)
	}
	return s.queryTags(ctx, s.db, `
		SELECT `+tagColumns+`
		FROM extended_query_tag
		WHERE ($1::SMALLINT[] IS NULL OR tag_status = ANY($1))
		ORDER BY tag_key
		LIMIT $2 OFFSET $3
	`, statuses, limitArg(opts.Limit), opts.Offset)
}

func (s *Store) GetExtendedQueryTag(ctx context.Context, path string) (*index.ExtendedQueryTag, error) {
	t, err := scanTag(s.db.QueryRowContext(ctx, `
		SELECT `+tagColumns+` FROM extended_query_tag WHERE tag_path = $1
	`, path))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, index.ErrExtendedQueryTagNotFound
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Store) GetExtendedQueryTagsByKey(ctx context.Context, keys []int32) ([]index.ExtendedQueryTag, error) {
	return s.queryTags(ctx, s.db, `
		SELECT `+tagColumns+` FROM extended_query_tag WHERE tag_key = ANY($1) ORDER BY tag_key
	`, pq.Array(keys))
}

func (s *Store) AssignReindexingOperation(ctx context.Context, keys []int32, operationID uuid.UUID, returnIfCompleted bool) ([]index.ExtendedQueryTag, error) {
	var out []index.ExtendedQueryTag
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE extended_query_tag SET operation_id = $2
			WHERE tag_key = ANY($1) AND tag_status = 0 AND operation_id IS NULL
		`, pq.Array(keys), operationID)
		if err != nil {
			return err
		}
		out, err = s.queryTags(ctx, tx, `
			SELECT `+tagColumns+`
			FROM extended_query_tag
			WHERE tag_key = ANY($1)
			  AND ((tag_status = 0 AND operation_id = $2) OR ($3 AND tag_status = 1))
			ORDER BY tag_key
		`, pq.Array(keys), operationID, returnIfCompleted)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) ReleaseReindexingOperation(ctx context.Context, keys []int32, operationID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE extended_query_tag SET operation_id = NULL
		WHERE tag_key = ANY($1) AND tag_status = 0 AND operation_id = $2
	`, pq.Array(keys), operationID)
	return err
}

func (s *Store) CompleteReindexing(ctx context.Context, keys []int32) ([]index.ExtendedQueryTag, error) {
	return s.queryTags(ctx, s.db, `
		UPDATE extended_query_tag SET tag_status = 1, operation_id = NULL
		WHERE tag_key = ANY($1) AND tag_status = 0 AND operation_id IS NOT NULL
		RETURNING `+tagColumns, pq.Array(keys))
}

func (s *Store) UpdateExtendedQueryTagStatusToDeleting(ctx context.Context, key int32) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE extended_query_tag SET tag_status = 2
		WHERE tag_key = $1 AND tag_status <> 2 AND operation_id IS NULL
	`, key)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM extended_query_tag WHERE tag_key = $1)
	`, key).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return index.ErrExtendedQueryTagNotFound
	}
	return index.ErrExtendedQueryTagBusy
}

func (s *Store) IncrementExtendedQueryTagErrorCount(ctx context.Context, key int32, delta int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE extended_query_tag SET error_count = error_count + $2 WHERE tag_key = $1
	`, key, delta)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return index.ErrExtendedQueryTagNotFound
	}
	return nil
}

func (s *Store) GetExtendedQueryTagBatches(ctx context.Context, batchSize, batchCount int, vr dicom.VR, key int32) ([]index.WatermarkRange, error) {
	table, err := valueTable(vr)
	if err != nil {
		return nil, err
	}
	if batchSize <= 0 {
		return nil, nil
	}
	return s.queryRanges(ctx, fmt.Sprintf(`
		SELECT MIN(watermark), MAX(watermark)
		FROM (
			SELECT watermark, (ROW_NUMBER() OVER (ORDER BY watermark) - 1) / $2 AS batch
			FROM %s
			WHERE tag_key = $1
		) b
		GROUP BY batch
		ORDER BY batch
		LIMIT $3
	`, table), key, batchSize, limitArg(batchCount))
}

func (s *Store) DeleteExtendedQueryTagDataByWatermarkRange(ctx context.Context, r index.WatermarkRange, vr dicom.VR, key int32) error {
	table, err := valueTable(vr)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM %s WHERE tag_key = $1 AND watermark BETWEEN $2 AND $3
	`, table), key, r.Start, r.End)
	return err
}

func (s *Store) DeleteExtendedQueryTagEntry(ctx context.Context, key int32, vr dicom.VR) error {
	table, err := valueTable(vr)
	if err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var status index.TagStatus
		err := tx.QueryRowContext(ctx, `
			SELECT tag_status FROM extended_query_tag WHERE tag_key = $1 FOR UPDATE
		`, key).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return index.ErrExtendedQueryTagNotFound
		}
		if err != nil {
			return err
		}
		if status != index.TagStatusDeleting {
			return index.ErrExtendedQueryTagNotDeleting
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE tag_key = $1`, table), key); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM extended_query_tag WHERE tag_key = $1`, key)
		return err
	})
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) queryTags(ctx context.Context, q querier, query string, args ...any) ([]index.ExtendedQueryTag, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []index.ExtendedQueryTag
	for rows.Next() {
		t, err := scanTag(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func scanTag(row scanner) (*index.ExtendedQueryTag, error) {
	var (
		t       index.ExtendedQueryTag
		vr      string
		creator sql.NullString
		level   int16
		opID    uuid.NullUUID
	)
	if err := row.Scan(&t.Key, &t.Path, &vr, &creator, &level, &t.Status, &t.ErrorCount, &opID); err != nil {
		return nil, err
	}
	t.VR = dicom.VR(vr)
	t.PrivateCreator = creator.String
	t.Level = dicom.Level(level)
	if opID.Valid {
		id := opID.UUID
		t.OperationID = &id
	}
	return &t, nil
}
