package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/syntrixbase/medstore/internal/core/index"
	"github.com/syntrixbase/medstore/internal/dicom"
)

const instanceColumns = `
	watermark, partition_key, study_instance_uid, series_instance_uid, sop_instance_uid,
	status, original_watermark, new_watermark, created_at,
	sop_class_uid, transfer_syntax_uid, patient_id, patient_name, patient_birth_date,
	referring_physician_name, study_date, study_description, accession_number, modality,
	performed_procedure_step_start_date, manufacturer_model_name,
	file_path, etag, content_length`

func (s *Store) ReserveInstance(ctx context.Context, partition index.PartitionKey, ds *dicom.Dataset) (int64, error) {
	id := index.IdentifierOf(partition, ds)
	core := index.ExtractCoreAttributes(ds)

	var watermark int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO instance (
			watermark, partition_key, study_instance_uid, series_instance_uid, sop_instance_uid,
			status, created_at, sop_class_uid, transfer_syntax_uid
		) VALUES (nextval('watermark_sequence'), $1, $2, $3, $4, 0, $5, $6, $7)
		RETURNING watermark
	`,
		id.Partition, id.StudyInstanceUID, id.SeriesInstanceUID, id.SOPInstanceUID,
		s.clock.Now(), core.SOPClassUID, core.TransferSyntaxUID,
	).Scan(&watermark)
	if err == nil {
		return watermark, nil
	}
	if !isUniqueViolation(err) {
		return 0, err
	}

	var status index.InstanceStatus
	err = s.db.QueryRowContext(ctx, `
		SELECT status FROM instance
		WHERE partition_key = $1 AND study_instance_uid = $2
		  AND series_instance_uid = $3 AND sop_instance_uid = $4
	`, id.Partition, id.StudyInstanceUID, id.SeriesInstanceUID, id.SOPInstanceUID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		// the holder was removed after the insert lost; it was still in flight
		return 0, index.NewConflictError(id, index.StatusCreating)
	}
	if err != nil {
		return 0, err
	}
	return 0, index.NewConflictError(id, status)
}

func (s *Store) FinalizeInstance(ctx context.Context, partition index.PartitionKey, ds *dicom.Dataset, watermark int64,
	tags []index.ExtendedQueryTag, file *index.FileProperties, allowExpiredTags bool) error {
	id := index.IdentifierOf(partition, ds)
	core := index.ExtractCoreAttributes(ds)
	if file == nil {
		file = &index.FileProperties{}
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		statuses, err := lockTags(ctx, tx)
		if err != nil {
			return err
		}
		if !allowExpiredTags && maxQueryableKey(statuses) > index.MaxKey(tags) {
			return index.ErrTagSetStale
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE instance SET
				status = 1,
				sop_class_uid = $6,
				transfer_syntax_uid = $7,
				patient_id = $8,
				patient_name = $9,
				patient_birth_date = $10,
				referring_physician_name = $11,
				study_date = $12,
				study_description = $13,
				accession_number = $14,
				modality = $15,
				performed_procedure_step_start_date = $16,
				manufacturer_model_name = $17,
				file_path = $18,
				etag = $19,
				content_length = $20
			WHERE watermark = $1 AND partition_key = $2 AND study_instance_uid = $3
			  AND series_instance_uid = $4 AND sop_instance_uid = $5 AND status = 0
		`,
			watermark, id.Partition, id.StudyInstanceUID, id.SeriesInstanceUID, id.SOPInstanceUID,
			core.SOPClassUID, core.TransferSyntaxUID, core.PatientID, core.PatientName, core.PatientBirthDate,
			core.ReferringPhysicianName, core.StudyDate, core.StudyDescription, core.AccessionNumber, core.Modality,
			core.PerformedProcedureStepStartDate, core.ManufacturerModelName,
			file.Path, file.ETag, file.ContentLength,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return index.ErrInstanceNotFound
		}

		return upsertValues(ctx, tx, id, watermark, ds, liveTags(tags, statuses))
	})
}

// lockTags share-locks every tag row so no tag changes status until the
// transaction ends, and returns the current statuses by key.
func lockTags(ctx context.Context, tx *sql.Tx) (map[int32]index.TagStatus, error) {
	rows, err := tx.QueryContext(ctx, `SELECT tag_key, tag_status FROM extended_query_tag FOR SHARE`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	statuses := make(map[int32]index.TagStatus)
	for rows.Next() {
		var (
			key    int32
			status index.TagStatus
		)
		if err := rows.Scan(&key, &status); err != nil {
			return nil, err
		}
		statuses[key] = status
	}
	return statuses, rows.Err()
}

func maxQueryableKey(statuses map[int32]index.TagStatus) int32 {
	var max int32
	for key, status := range statuses {
		if status.Queryable() && key > max {
			max = key
		}
	}
	return max
}

// liveTags drops tags that no longer exist or are being deleted.
func liveTags(tags []index.ExtendedQueryTag, statuses map[int32]index.TagStatus) []index.ExtendedQueryTag {
	out := make([]index.ExtendedQueryTag, 0, len(tags))
	for _, t := range tags {
		status, ok := statuses[t.Key]
		if !ok || status == index.TagStatusDeleting {
			continue
		}
		t.Status = status
		out = append(out, t)
	}
	return out
}

func upsertValues(ctx context.Context, tx *sql.Tx, id index.InstanceIdentifier, watermark int64,
	ds *dicom.Dataset, tags []index.ExtendedQueryTag) error {
	values, _ := index.ExtractValues(ds, tags)
	for _, v := range values {
		table, err := valueTable(v.Tag.VR)
		if err != nil {
			return err
		}
		series, sop := index.LevelKey(id, v.Tag.Level)
		_, err = tx.ExecContext(ctx, fmt.Sprintf(`
			INSERT INTO %[1]s (
				tag_key, partition_key, study_instance_uid, series_instance_uid, sop_instance_uid,
				watermark, tag_value
			) VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (tag_key, partition_key, study_instance_uid, series_instance_uid, sop_instance_uid)
			DO UPDATE SET watermark = EXCLUDED.watermark, tag_value = EXCLUDED.tag_value
			WHERE %[1]s.watermark <= EXCLUDED.watermark
		`, table),
			v.Tag.Key, id.Partition, id.StudyInstanceUID, series, sop, watermark, v.Value(),
		)
		if err != nil {
			return fmt.Errorf("upsert %s value: %w", v.Tag.Path, err)
		}
	}
	return nil
}

func (s *Store) DeleteInstanceIndex(ctx context.Context, partition index.PartitionKey, target index.DeleteTarget,
	cleanupAfter time.Time) ([]index.VersionedInstanceIdentifier, error) {
	var removed []index.VersionedInstanceIdentifier
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			DELETE FROM instance
			WHERE partition_key = $1 AND study_instance_uid = $2
			  AND ($3 = '' OR series_instance_uid = $3)
			  AND ($4 = '' OR sop_instance_uid = $4)
			  AND ($5::BIGINT IS NULL OR watermark = $5)
			RETURNING series_instance_uid, sop_instance_uid, watermark, original_watermark, new_watermark
		`, partition, target.StudyInstanceUID, target.SeriesInstanceUID, target.SOPInstanceUID, target.Watermark)
		if err != nil {
			return err
		}

		var sops []string
		for rows.Next() {
			var (
				id                index.InstanceIdentifier
				watermark         int64
				original, pending sql.NullInt64
			)
			if err := rows.Scan(&id.SeriesInstanceUID, &id.SOPInstanceUID, &watermark, &original, &pending); err != nil {
				rows.Close()
				return err
			}
			id.Partition = partition
			id.StudyInstanceUID = target.StudyInstanceUID
			sops = append(sops, id.SOPInstanceUID)

			removed = append(removed, index.VersionedInstanceIdentifier{InstanceIdentifier: id, Version: watermark})
			if original.Valid && original.Int64 != watermark {
				removed = append(removed, index.VersionedInstanceIdentifier{InstanceIdentifier: id, Version: original.Int64})
			}
			if pending.Valid {
				removed = append(removed, index.VersionedInstanceIdentifier{InstanceIdentifier: id, Version: pending.Int64})
			}
		}
		if err := rows.Close(); err != nil {
			return err
		}
		if err := rows.Err(); err != nil {
			return err
		}
		if len(removed) == 0 {
			return index.ErrInstanceNotFound
		}

		for _, v := range removed {
			if err := queueDeleted(ctx, tx, v, cleanupAfter); err != nil {
				return err
			}
		}
		for _, f := range dicom.Families {
			if err := deleteInstanceValues(ctx, tx, "extended_query_tag_"+f.String(), partition, target.StudyInstanceUID, sops); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

func queueDeleted(ctx context.Context, tx *sql.Tx, v index.VersionedInstanceIdentifier, cleanupAfter time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO deleted_instance (
			partition_key, study_instance_uid, series_instance_uid, sop_instance_uid, watermark, cleanup_after
		) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT DO NOTHING
	`, v.Partition, v.StudyInstanceUID, v.SeriesInstanceUID, v.SOPInstanceUID, v.Version, cleanupAfter)
	return err
}

// deleteInstanceValues removes the instance-level values of the removed SOP
// instances, then series and study-level values no instance refers to.
func deleteInstanceValues(ctx context.Context, tx *sql.Tx, table string, partition index.PartitionKey, study string, sops []string) error {
	_, err := tx.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM %s v
		WHERE v.partition_key = $1 AND v.study_instance_uid = $2
		  AND (
		    (v.sop_instance_uid <> '' AND v.sop_instance_uid = ANY($3))
		    OR (v.sop_instance_uid = '' AND NOT EXISTS (
		        SELECT 1 FROM instance i
		        WHERE i.partition_key = v.partition_key
		          AND i.study_instance_uid = v.study_instance_uid
		          AND (v.series_instance_uid = '' OR i.series_instance_uid = v.series_instance_uid)))
		  )
	`, table), partition, study, pq.Array(sops))
	return err
}

func (s *Store) RetrieveDeletedInstances(ctx context.Context, batchSize, maxRetries int) ([]index.DeletedInstance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT partition_key, study_instance_uid, series_instance_uid, sop_instance_uid,
		       watermark, retry_count, cleanup_after
		FROM deleted_instance
		WHERE retry_count < $1 AND cleanup_after <= $2
		ORDER BY cleanup_after, watermark
		LIMIT $3
	`, maxRetries, s.clock.Now(), limitArg(batchSize))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []index.DeletedInstance
	for rows.Next() {
		var d index.DeletedInstance
		if err := rows.Scan(
			&d.Partition, &d.StudyInstanceUID, &d.SeriesInstanceUID, &d.SOPInstanceUID,
			&d.Version, &d.RetryCount, &d.CleanupAfter,
		); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) IncrementDeletedInstanceRetry(ctx context.Context, id index.VersionedInstanceIdentifier, cleanupAfter time.Time) (int, error) {
	var retries int
	err := s.db.QueryRowContext(ctx, `
		UPDATE deleted_instance SET retry_count = retry_count + 1, cleanup_after = $6
		WHERE partition_key = $1 AND study_instance_uid = $2 AND series_instance_uid = $3
		  AND sop_instance_uid = $4 AND watermark = $5
		RETURNING retry_count
	`, id.Partition, id.StudyInstanceUID, id.SeriesInstanceUID, id.SOPInstanceUID, id.Version, cleanupAfter).Scan(&retries)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, index.ErrInstanceNotFound
	}
	return retries, err
}

func (s *Store) DeleteDeletedInstance(ctx context.Context, id index.VersionedInstanceIdentifier) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM deleted_instance
		WHERE partition_key = $1 AND study_instance_uid = $2 AND series_instance_uid = $3
		  AND sop_instance_uid = $4 AND watermark = $5
	`, id.Partition, id.StudyInstanceUID, id.SeriesInstanceUID, id.SOPInstanceUID, id.Version)
	return err
}

func (s *Store) CountExhaustedDeletedInstances(ctx context.Context, maxRetries int) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM deleted_instance WHERE retry_count >= $1
	`, maxRetries).Scan(&count)
	return count, err
}

func (s *Store) ReapStaleReservations(ctx context.Context, createdBefore, cleanupAfter time.Time, limit int) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		WITH stale AS (
			DELETE FROM instance
			WHERE watermark IN (
				SELECT watermark FROM instance
				WHERE status = 0 AND created_at < $1
				ORDER BY watermark
				LIMIT $2
				FOR UPDATE SKIP LOCKED
			)
			RETURNING partition_key, study_instance_uid, series_instance_uid, sop_instance_uid, watermark
		)
		INSERT INTO deleted_instance (
			partition_key, study_instance_uid, series_instance_uid, sop_instance_uid, watermark, cleanup_after
		)
		SELECT partition_key, study_instance_uid, series_instance_uid, sop_instance_uid, watermark, $3
		FROM stale
		ON CONFLICT DO NOTHING
	`, createdBefore, limitArg(limit), cleanupAfter)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *Store) BeginUpdateInstances(ctx context.Context, partition index.PartitionKey, studyUID string) ([]index.InstanceVersion, error) {
	var out []index.InstanceVersion
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT series_instance_uid, sop_instance_uid, watermark, original_watermark, new_watermark
			FROM instance
			WHERE partition_key = $1 AND study_instance_uid = $2 AND status = 1
			ORDER BY watermark
			FOR UPDATE
		`, partition, studyUID)
		if err != nil {
			return err
		}
		inProgress := false
		for rows.Next() {
			var (
				v                 index.InstanceVersion
				original, pending sql.NullInt64
			)
			if err := rows.Scan(&v.SeriesInstanceUID, &v.SOPInstanceUID, &v.Version, &original, &pending); err != nil {
				rows.Close()
				return err
			}
			v.Partition = partition
			v.StudyInstanceUID = studyUID
			if original.Valid {
				o := original.Int64
				v.OriginalWatermark = &o
			}
			inProgress = inProgress || pending.Valid
			out = append(out, v)
		}
		if err := rows.Close(); err != nil {
			return err
		}
		if err := rows.Err(); err != nil {
			return err
		}
		if len(out) == 0 {
			return index.ErrInstanceNotFound
		}
		if inProgress {
			return index.ErrUpdateInProgress
		}

		rows, err = tx.QueryContext(ctx, `
			UPDATE instance SET new_watermark = nextval('watermark_sequence')
			WHERE partition_key = $1 AND study_instance_uid = $2 AND status = 1
			RETURNING watermark, new_watermark
		`, partition, studyUID)
		if err != nil {
			return err
		}
		defer rows.Close()
		assigned := make(map[int64]int64, len(out))
		for rows.Next() {
			var current, next int64
			if err := rows.Scan(&current, &next); err != nil {
				return err
			}
			assigned[current] = next
		}
		if err := rows.Err(); err != nil {
			return err
		}
		for i := range out {
			out[i].NewWatermark = assigned[out[i].Version]
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) EndUpdateInstances(ctx context.Context, partition index.PartitionKey, studyUID string, ds *dicom.Dataset) error {
	core := index.ExtractCoreAttributes(ds)
	return s.inTx(ctx, func(tx *sql.Tx) error {
		// a version that already replaced the original is superseded now
		_, err := tx.ExecContext(ctx, `
			INSERT INTO deleted_instance (
				partition_key, study_instance_uid, series_instance_uid, sop_instance_uid, watermark, cleanup_after
			)
			SELECT partition_key, study_instance_uid, series_instance_uid, sop_instance_uid, watermark, $3
			FROM instance
			WHERE partition_key = $1 AND study_instance_uid = $2 AND status = 1
			  AND new_watermark IS NOT NULL AND original_watermark IS NOT NULL
			ON CONFLICT DO NOTHING
		`, partition, studyUID, s.clock.Now())
		if err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE instance SET
				original_watermark = COALESCE(original_watermark, watermark),
				watermark = new_watermark,
				new_watermark = NULL,
				patient_id = $3,
				patient_name = $4,
				patient_birth_date = $5
			WHERE partition_key = $1 AND study_instance_uid = $2 AND status = 1
			  AND new_watermark IS NOT NULL
		`, partition, studyUID, core.PatientID, core.PatientName, core.PatientBirthDate)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return index.ErrInstanceNotFound
		}
		return nil
	})
}

func (s *Store) AbortUpdateInstances(ctx context.Context, partition index.PartitionKey, studyUID string, cleanupAfter time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		WITH pending AS (
			SELECT partition_key, study_instance_uid, series_instance_uid, sop_instance_uid, new_watermark
			FROM instance
			WHERE partition_key = $1 AND study_instance_uid = $2 AND new_watermark IS NOT NULL
			FOR UPDATE
		), queued AS (
			INSERT INTO deleted_instance (
				partition_key, study_instance_uid, series_instance_uid, sop_instance_uid, watermark, cleanup_after
			)
			SELECT partition_key, study_instance_uid, series_instance_uid, sop_instance_uid, new_watermark, $3
			FROM pending
			ON CONFLICT DO NOTHING
		)
		UPDATE instance i SET new_watermark = NULL
		FROM pending p
		WHERE i.partition_key = p.partition_key AND i.study_instance_uid = p.study_instance_uid
		  AND i.series_instance_uid = p.series_instance_uid AND i.sop_instance_uid = p.sop_instance_uid
	`, partition, studyUID, cleanupAfter)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return index.ErrInstanceNotFound
	}
	return nil
}

func (s *Store) GetInstance(ctx context.Context, id index.InstanceIdentifier) (*index.InstanceRecord, error) {
	rec, err := scanInstance(s.db.QueryRowContext(ctx, `
		SELECT `+instanceColumns+`
		FROM instance
		WHERE partition_key = $1 AND study_instance_uid = $2
		  AND series_instance_uid = $3 AND sop_instance_uid = $4 AND status = 1
	`, id.Partition, id.StudyInstanceUID, id.SeriesInstanceUID, id.SOPInstanceUID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, index.ErrInstanceNotFound
	}
	return rec, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanInstance(row scanner) (*index.InstanceRecord, error) {
	var (
		rec                                       index.InstanceRecord
		original, pending                         sql.NullInt64
		sopClass, syntax, patientID, patientName  sql.NullString
		referring, studyDesc, accession, modality sql.NullString
		model, path, etag                         sql.NullString
		birth, studyDate, ppsDate                 sql.NullTime
		length                                    sql.NullInt64
	)
	err := row.Scan(
		&rec.Version, &rec.Partition, &rec.StudyInstanceUID, &rec.SeriesInstanceUID, &rec.SOPInstanceUID,
		&rec.Status, &original, &pending, &rec.CreatedAt,
		&sopClass, &syntax, &patientID, &patientName, &birth,
		&referring, &studyDate, &studyDesc, &accession, &modality,
		&ppsDate, &model,
		&path, &etag, &length,
	)
	if err != nil {
		return nil, err
	}
	rec.OriginalWatermark = nullInt(original)
	rec.NewWatermark = nullInt(pending)
	rec.Core = index.CoreAttributes{
		SOPClassUID:                     sopClass.String,
		TransferSyntaxUID:               syntax.String,
		PatientID:                       patientID.String,
		PatientName:                     patientName.String,
		PatientBirthDate:                nullTime(birth),
		ReferringPhysicianName:          referring.String,
		StudyDate:                       nullTime(studyDate),
		StudyDescription:                studyDesc.String,
		AccessionNumber:                 accession.String,
		Modality:                        modality.String,
		PerformedProcedureStepStartDate: nullTime(ppsDate),
		ManufacturerModelName:           model.String,
	}
	if etag.Valid {
		rec.File = &index.FileProperties{Path: path.String, ETag: etag.String, ContentLength: length.Int64}
	}
	return &rec, nil
}

func nullInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func nullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}

func (s *Store) GetInstanceIdentifiers(ctx context.Context, partition index.PartitionKey, studyUID, seriesUID string) ([]index.VersionedInstanceIdentifier, error) {
	return s.queryIdentifiers(ctx, `
		SELECT partition_key, study_instance_uid, series_instance_uid, sop_instance_uid, watermark
		FROM instance
		WHERE partition_key = $1 AND study_instance_uid = $2
		  AND ($3 = '' OR series_instance_uid = $3) AND status = 1
		ORDER BY watermark
	`, partition, studyUID, seriesUID)
}

func (s *Store) GetInstancesByWatermarkRange(ctx context.Context, r index.WatermarkRange) ([]index.VersionedInstanceIdentifier, error) {
	return s.queryIdentifiers(ctx, `
		SELECT partition_key, study_instance_uid, series_instance_uid, sop_instance_uid, watermark
		FROM instance
		WHERE watermark BETWEEN $1 AND $2 AND status = 1
		ORDER BY watermark
	`, r.Start, r.End)
}

func (s *Store) queryIdentifiers(ctx context.Context, query string, args ...any) ([]index.VersionedInstanceIdentifier, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []index.VersionedInstanceIdentifier
	for rows.Next() {
		var v index.VersionedInstanceIdentifier
		if err := rows.Scan(&v.Partition, &v.StudyInstanceUID, &v.SeriesInstanceUID, &v.SOPInstanceUID, &v.Version); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) MaxWatermark(ctx context.Context) (int64, error) {
	var max int64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(watermark), 0) FROM instance WHERE status = 1`).Scan(&max)
	return max, err
}

func (s *Store) GetInstanceBatches(ctx context.Context, batchSize, batchCount int, after, max int64) ([]index.WatermarkRange, error) {
	if batchSize <= 0 {
		return nil, nil
	}
	return s.queryRanges(ctx, `
		SELECT MIN(watermark), MAX(watermark)
		FROM (
			SELECT watermark, (ROW_NUMBER() OVER (ORDER BY watermark) - 1) / $1 AS batch
			FROM instance
			WHERE status = 1 AND watermark > $2 AND watermark <= $3
		) b
		GROUP BY batch
		ORDER BY batch
		LIMIT $4
	`, batchSize, after, max, limitArg(batchCount))
}

func (s *Store) queryRanges(ctx context.Context, query string, args ...any) ([]index.WatermarkRange, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []index.WatermarkRange
	for rows.Next() {
		var r index.WatermarkRange
		if err := rows.Scan(&r.Start, &r.End); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) ReindexInstance(ctx context.Context, id index.VersionedInstanceIdentifier, ds *dicom.Dataset, tags []index.ExtendedQueryTag) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		statuses, err := lockTags(ctx, tx)
		if err != nil {
			return err
		}
		var exists bool
		err = tx.QueryRowContext(ctx, `
			SELECT EXISTS(
				SELECT 1 FROM instance
				WHERE watermark = $1 AND partition_key = $2 AND study_instance_uid = $3
				  AND series_instance_uid = $4 AND sop_instance_uid = $5 AND status = 1
			)
		`, id.Version, id.Partition, id.StudyInstanceUID, id.SeriesInstanceUID, id.SOPInstanceUID).Scan(&exists)
		if err != nil {
			return err
		}
		if !exists {
			return index.ErrInstanceNotFound
		}
		return upsertValues(ctx, tx, id.InstanceIdentifier, id.Version, ds, liveTags(tags, statuses))
	})
}
