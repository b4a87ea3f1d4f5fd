package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/syntrixbase/medstore/internal/core/index"
	"github.com/syntrixbase/medstore/internal/dicom"
)

const baseSchema = `
CREATE SEQUENCE IF NOT EXISTS watermark_sequence AS BIGINT START WITH 1 INCREMENT BY 1;

CREATE TABLE IF NOT EXISTS instance (
    watermark                           BIGINT PRIMARY KEY,
    partition_key                       INTEGER NOT NULL DEFAULT 1,
    study_instance_uid                  VARCHAR(64) NOT NULL,
    series_instance_uid                 VARCHAR(64) NOT NULL,
    sop_instance_uid                    VARCHAR(64) NOT NULL,
    status                              SMALLINT NOT NULL DEFAULT 0,
    original_watermark                  BIGINT,
    new_watermark                       BIGINT,
    created_at                          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    sop_class_uid                       VARCHAR(64),
    transfer_syntax_uid                 VARCHAR(64),
    patient_id                          VARCHAR(64),
    patient_name                        VARCHAR(324),
    patient_birth_date                  DATE,
    referring_physician_name            VARCHAR(324),
    study_date                          DATE,
    study_description                   VARCHAR(64),
    accession_number                    VARCHAR(16),
    modality                            VARCHAR(16),
    performed_procedure_step_start_date DATE,
    manufacturer_model_name             VARCHAR(64),
    file_path                           TEXT,
    etag                                VARCHAR(64),
    content_length                      BIGINT,

    CONSTRAINT uq_instance_identifier UNIQUE (
        partition_key, study_instance_uid, series_instance_uid, sop_instance_uid
    ),
    CONSTRAINT chk_instance_status CHECK (status IN (0, 1))
);

CREATE INDEX IF NOT EXISTS idx_instance_study ON instance(partition_key, study_instance_uid) WHERE status = 1;
CREATE INDEX IF NOT EXISTS idx_instance_creating ON instance(created_at) WHERE status = 0;
CREATE INDEX IF NOT EXISTS idx_instance_new_watermark ON instance(new_watermark) WHERE new_watermark IS NOT NULL;

CREATE TABLE IF NOT EXISTS deleted_instance (
    partition_key       INTEGER NOT NULL,
    study_instance_uid  VARCHAR(64) NOT NULL,
    series_instance_uid VARCHAR(64) NOT NULL,
    sop_instance_uid    VARCHAR(64) NOT NULL,
    watermark           BIGINT NOT NULL,
    retry_count         INTEGER NOT NULL DEFAULT 0,
    cleanup_after       TIMESTAMPTZ NOT NULL,
    deleted_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),

    PRIMARY KEY (partition_key, study_instance_uid, series_instance_uid, sop_instance_uid, watermark)
);

CREATE INDEX IF NOT EXISTS idx_deleted_instance_due ON deleted_instance(retry_count, cleanup_after);

CREATE TABLE IF NOT EXISTS extended_query_tag (
    tag_key             SERIAL PRIMARY KEY,
    tag_path            VARCHAR(64) NOT NULL,
    tag_vr              CHAR(2) NOT NULL,
    tag_private_creator VARCHAR(64),
    tag_level           SMALLINT NOT NULL,
    tag_status          SMALLINT NOT NULL,
    error_count         INTEGER NOT NULL DEFAULT 0,
    operation_id        UUID,

    CONSTRAINT uq_extended_query_tag_path UNIQUE (tag_path),
    CONSTRAINT chk_extended_query_tag_level CHECK (tag_level IN (0, 1, 2)),
    CONSTRAINT chk_extended_query_tag_status CHECK (tag_status IN (0, 1, 2))
);

CREATE INDEX IF NOT EXISTS idx_extended_query_tag_operation ON extended_query_tag(operation_id) WHERE operation_id IS NOT NULL;
`

// valueColumnTypes maps a family to its value table column type.
var valueColumnTypes = map[dicom.Family]string{
	dicom.FamilyString:     fmt.Sprintf("VARCHAR(%d)", index.MaxStringValueLength),
	dicom.FamilyLong:       "BIGINT",
	dicom.FamilyDouble:     "DOUBLE PRECISION",
	dicom.FamilyDateTime:   "TIMESTAMP",
	dicom.FamilyPersonName: fmt.Sprintf("VARCHAR(%d)", index.MaxPersonNameValueLength),
}

// valueTable returns the value table holding values of vr.
func valueTable(vr dicom.VR) (string, error) {
	f := vr.Family()
	if f == dicom.FamilyNone {
		return "", fmt.Errorf("%w: %s", index.ErrUnsupportedValueRepresentation, vr)
	}
	return "extended_query_tag_" + f.String(), nil
}

// Schema returns the DDL of every table the store uses.
func Schema() string {
	var b strings.Builder
	b.WriteString(baseSchema)
	for _, f := range dicom.Families {
		table := "extended_query_tag_" + f.String()
		fmt.Fprintf(&b, `
CREATE TABLE IF NOT EXISTS %[1]s (
    tag_key             INTEGER NOT NULL REFERENCES extended_query_tag(tag_key),
    partition_key       INTEGER NOT NULL,
    study_instance_uid  VARCHAR(64) NOT NULL,
    series_instance_uid VARCHAR(64) NOT NULL DEFAULT '',
    sop_instance_uid    VARCHAR(64) NOT NULL DEFAULT '',
    watermark           BIGINT NOT NULL,
    tag_value           %[2]s NOT NULL,

    PRIMARY KEY (tag_key, partition_key, study_instance_uid, series_instance_uid, sop_instance_uid)
);

CREATE INDEX IF NOT EXISTS idx_%[1]s_watermark ON %[1]s(tag_key, watermark);
`, table, valueColumnTypes[f])
	}
	return b.String()
}

// EnsureSchema creates the index tables if they don't exist
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, Schema())
	return err
}
