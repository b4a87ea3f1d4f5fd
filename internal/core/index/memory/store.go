// Package memory implements index.Store in process memory. It is used for
// standalone deployments and as the backend of orchestration tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/syntrixbase/medstore/internal/core/index"
	"github.com/syntrixbase/medstore/internal/dicom"
)

type instanceRow struct {
	id        index.InstanceIdentifier
	watermark int64
	status    index.InstanceStatus
	original  *int64
	next      *int64
	createdAt time.Time
	file      *index.FileProperties
	core      index.CoreAttributes
}

func (r *instanceRow) versioned() index.VersionedInstanceIdentifier {
	return index.VersionedInstanceIdentifier{InstanceIdentifier: r.id, Version: r.watermark}
}

func (r *instanceRow) record() *index.InstanceRecord {
	rec := &index.InstanceRecord{
		VersionedInstanceIdentifier: r.versioned(),
		Status:                      r.status,
		OriginalWatermark:           r.original,
		NewWatermark:                r.next,
		CreatedAt:                   r.createdAt,
		Core:                        r.core,
	}
	if r.file != nil {
		f := *r.file
		rec.File = &f
	}
	return rec
}

type valueKey struct {
	tagKey    int32
	partition index.PartitionKey
	study     string
	series    string
	sop       string
}

type valueRow struct {
	watermark int64
	value     index.TagValue
}

// Store is a mutex-guarded index.Store.
type Store struct {
	mu    sync.RWMutex
	clock clock.Clock

	lastWatermark int64
	lastTagKey    int32

	instances map[int64]*instanceRow
	byID      map[index.InstanceIdentifier]int64
	deleted   map[index.VersionedInstanceIdentifier]*index.DeletedInstance
	tags      map[int32]*index.ExtendedQueryTag
	values    map[valueKey]valueRow
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used to stamp reservations and select due
// cleanup entries.
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		clock:     clock.New(),
		instances: make(map[int64]*instanceRow),
		byID:      make(map[index.InstanceIdentifier]int64),
		deleted:   make(map[index.VersionedInstanceIdentifier]*index.DeletedInstance),
		tags:      make(map[int32]*index.ExtendedQueryTag),
		values:    make(map[valueKey]valueRow),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ index.Store = (*Store)(nil)

func (s *Store) Close(ctx context.Context) error {
	return nil
}

func (s *Store) nextWatermark() int64 {
	s.lastWatermark++
	return s.lastWatermark
}

func (s *Store) ReserveInstance(ctx context.Context, partition index.PartitionKey, ds *dicom.Dataset) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	id := index.IdentifierOf(partition, ds)

	s.mu.Lock()
	defer s.mu.Unlock()

	if w, ok := s.byID[id]; ok {
		return 0, index.NewConflictError(id, s.instances[w].status)
	}
	w := s.nextWatermark()
	s.instances[w] = &instanceRow{
		id:        id,
		watermark: w,
		status:    index.StatusCreating,
		createdAt: s.clock.Now(),
		core:      index.ExtractCoreAttributes(ds),
	}
	s.byID[id] = w
	return w, nil
}

func (s *Store) FinalizeInstance(ctx context.Context, partition index.PartitionKey, ds *dicom.Dataset, watermark int64,
	tags []index.ExtendedQueryTag, file *index.FileProperties, allowExpiredTags bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	id := index.IdentifierOf(partition, ds)

	s.mu.Lock()
	defer s.mu.Unlock()

	if !allowExpiredTags && s.maxQueryableKey() > index.MaxKey(tags) {
		return index.ErrTagSetStale
	}

	row, ok := s.instances[watermark]
	if !ok || row.status != index.StatusCreating || row.id != id {
		return index.ErrInstanceNotFound
	}
	row.status = index.StatusCreated
	row.core = index.ExtractCoreAttributes(ds)
	if file != nil {
		f := *file
		row.file = &f
	}
	s.upsertValues(row, ds, tags)
	return nil
}

func (s *Store) maxQueryableKey() int32 {
	var max int32
	for _, t := range s.tags {
		if t.Status.Queryable() && t.Key > max {
			max = t.Key
		}
	}
	return max
}

// upsertValues writes the values of the tags that still exist and are not
// being deleted. Newer watermarks win.
func (s *Store) upsertValues(row *instanceRow, ds *dicom.Dataset, tags []index.ExtendedQueryTag) {
	live := make([]index.ExtendedQueryTag, 0, len(tags))
	for _, t := range tags {
		cur, ok := s.tags[t.Key]
		if !ok || cur.Status == index.TagStatusDeleting {
			continue
		}
		live = append(live, *cur)
	}
	values, _ := index.ExtractValues(ds, live)
	for _, v := range values {
		series, sop := index.LevelKey(row.id, v.Tag.Level)
		k := valueKey{
			tagKey:    v.Tag.Key,
			partition: row.id.Partition,
			study:     row.id.StudyInstanceUID,
			series:    series,
			sop:       sop,
		}
		if existing, ok := s.values[k]; ok && existing.watermark > row.watermark {
			continue
		}
		s.values[k] = valueRow{watermark: row.watermark, value: v}
	}
}

func (s *Store) DeleteInstanceIndex(ctx context.Context, partition index.PartitionKey, target index.DeleteTarget,
	cleanupAfter time.Time) ([]index.VersionedInstanceIdentifier, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*instanceRow
	for _, row := range s.instances {
		if matchesTarget(row, partition, target) {
			matched = append(matched, row)
		}
	}
	if len(matched) == 0 {
		return nil, index.ErrInstanceNotFound
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].watermark < matched[j].watermark })

	var versions []index.VersionedInstanceIdentifier
	for _, row := range matched {
		versions = append(versions, s.queueRow(row, cleanupAfter)...)
		delete(s.instances, row.watermark)
		delete(s.byID, row.id)
	}
	for _, row := range matched {
		s.dropValues(row.id)
	}
	return versions, nil
}

func matchesTarget(row *instanceRow, partition index.PartitionKey, t index.DeleteTarget) bool {
	if row.id.Partition != partition || row.id.StudyInstanceUID != t.StudyInstanceUID {
		return false
	}
	if t.SeriesInstanceUID != "" && row.id.SeriesInstanceUID != t.SeriesInstanceUID {
		return false
	}
	if t.SOPInstanceUID != "" && row.id.SOPInstanceUID != t.SOPInstanceUID {
		return false
	}
	if t.Watermark != nil && row.watermark != *t.Watermark {
		return false
	}
	return true
}

// queueRow adds every file version of row to the cleanup queue.
func (s *Store) queueRow(row *instanceRow, cleanupAfter time.Time) []index.VersionedInstanceIdentifier {
	ws := []int64{row.watermark}
	if row.original != nil && *row.original != row.watermark {
		ws = append(ws, *row.original)
	}
	if row.next != nil {
		ws = append(ws, *row.next)
	}
	out := make([]index.VersionedInstanceIdentifier, 0, len(ws))
	for _, w := range ws {
		v := index.VersionedInstanceIdentifier{InstanceIdentifier: row.id, Version: w}
		s.queue(v, cleanupAfter)
		out = append(out, v)
	}
	return out
}

func (s *Store) queue(v index.VersionedInstanceIdentifier, cleanupAfter time.Time) {
	if _, ok := s.deleted[v]; ok {
		return
	}
	s.deleted[v] = &index.DeletedInstance{VersionedInstanceIdentifier: v, CleanupAfter: cleanupAfter}
}

// dropValues removes the instance-level values of id and the series and
// study-level values no remaining instance refers to.
func (s *Store) dropValues(id index.InstanceIdentifier) {
	seriesLive, studyLive := false, false
	for _, row := range s.instances {
		if row.id.Partition != id.Partition || row.id.StudyInstanceUID != id.StudyInstanceUID {
			continue
		}
		studyLive = true
		if row.id.SeriesInstanceUID == id.SeriesInstanceUID {
			seriesLive = true
		}
	}
	for k := range s.values {
		if k.partition != id.Partition || k.study != id.StudyInstanceUID {
			continue
		}
		switch {
		case k.sop != "":
			if k.series == id.SeriesInstanceUID && k.sop == id.SOPInstanceUID {
				delete(s.values, k)
			}
		case k.series != "":
			if k.series == id.SeriesInstanceUID && !seriesLive {
				delete(s.values, k)
			}
		default:
			if !studyLive {
				delete(s.values, k)
			}
		}
	}
}

func (s *Store) RetrieveDeletedInstances(ctx context.Context, batchSize, maxRetries int) ([]index.DeletedInstance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.clock.Now()
	var out []index.DeletedInstance
	for _, d := range s.deleted {
		if d.RetryCount < maxRetries && !d.CleanupAfter.After(now) {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CleanupAfter.Equal(out[j].CleanupAfter) {
			return out[i].CleanupAfter.Before(out[j].CleanupAfter)
		}
		return out[i].Version < out[j].Version
	})
	if batchSize > 0 && len(out) > batchSize {
		out = out[:batchSize]
	}
	return out, nil
}

func (s *Store) IncrementDeletedInstanceRetry(ctx context.Context, id index.VersionedInstanceIdentifier, cleanupAfter time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.deleted[id]
	if !ok {
		return 0, index.ErrInstanceNotFound
	}
	d.RetryCount++
	d.CleanupAfter = cleanupAfter
	return d.RetryCount, nil
}

func (s *Store) DeleteDeletedInstance(ctx context.Context, id index.VersionedInstanceIdentifier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.deleted, id)
	return nil
}

func (s *Store) CountExhaustedDeletedInstances(ctx context.Context, maxRetries int) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, d := range s.deleted {
		if d.RetryCount >= maxRetries {
			n++
		}
	}
	return n, nil
}

func (s *Store) ReapStaleReservations(ctx context.Context, createdBefore, cleanupAfter time.Time, limit int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var stale []*instanceRow
	for _, row := range s.instances {
		if row.status == index.StatusCreating && row.createdAt.Before(createdBefore) {
			stale = append(stale, row)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].watermark < stale[j].watermark })
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	for _, row := range stale {
		s.queueRow(row, cleanupAfter)
		delete(s.instances, row.watermark)
		delete(s.byID, row.id)
	}
	return len(stale), nil
}

func (s *Store) studyRows(partition index.PartitionKey, studyUID string) []*instanceRow {
	var rows []*instanceRow
	for _, row := range s.instances {
		if row.id.Partition == partition && row.id.StudyInstanceUID == studyUID && row.status == index.StatusCreated {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].watermark < rows[j].watermark })
	return rows
}

func (s *Store) BeginUpdateInstances(ctx context.Context, partition index.PartitionKey, studyUID string) ([]index.InstanceVersion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.studyRows(partition, studyUID)
	if len(rows) == 0 {
		return nil, index.ErrInstanceNotFound
	}
	for _, row := range rows {
		if row.next != nil {
			return nil, index.ErrUpdateInProgress
		}
	}
	out := make([]index.InstanceVersion, 0, len(rows))
	for _, row := range rows {
		w := s.nextWatermark()
		row.next = &w
		out = append(out, index.InstanceVersion{
			VersionedInstanceIdentifier: row.versioned(),
			NewWatermark:                w,
			OriginalWatermark:           row.original,
		})
	}
	return out, nil
}

func (s *Store) EndUpdateInstances(ctx context.Context, partition index.PartitionKey, studyUID string, ds *dicom.Dataset) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending []*instanceRow
	for _, row := range s.studyRows(partition, studyUID) {
		if row.next != nil {
			pending = append(pending, row)
		}
	}
	if len(pending) == 0 {
		return index.ErrInstanceNotFound
	}

	now := s.clock.Now()
	patch := index.ExtractCoreAttributes(ds)
	for _, row := range pending {
		if row.original != nil {
			s.queue(row.versioned(), now)
		} else {
			w := row.watermark
			row.original = &w
		}
		delete(s.instances, row.watermark)
		row.watermark = *row.next
		row.next = nil
		row.core.PatientID = patch.PatientID
		row.core.PatientName = patch.PatientName
		row.core.PatientBirthDate = patch.PatientBirthDate
		s.instances[row.watermark] = row
		s.byID[row.id] = row.watermark
	}
	return nil
}

func (s *Store) AbortUpdateInstances(ctx context.Context, partition index.PartitionKey, studyUID string, cleanupAfter time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	found := false
	for _, row := range s.studyRows(partition, studyUID) {
		if row.next == nil {
			continue
		}
		found = true
		s.queue(index.VersionedInstanceIdentifier{InstanceIdentifier: row.id, Version: *row.next}, cleanupAfter)
		row.next = nil
	}
	if !found {
		return index.ErrInstanceNotFound
	}
	return nil
}

func (s *Store) GetInstance(ctx context.Context, id index.InstanceIdentifier) (*index.InstanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.byID[id]
	if !ok || s.instances[w].status != index.StatusCreated {
		return nil, index.ErrInstanceNotFound
	}
	return s.instances[w].record(), nil
}

func (s *Store) GetInstanceIdentifiers(ctx context.Context, partition index.PartitionKey, studyUID, seriesUID string) ([]index.VersionedInstanceIdentifier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []index.VersionedInstanceIdentifier
	for _, row := range s.studyRows(partition, studyUID) {
		if seriesUID != "" && row.id.SeriesInstanceUID != seriesUID {
			continue
		}
		out = append(out, row.versioned())
	}
	return out, nil
}

func (s *Store) MaxWatermark(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var max int64
	for w, row := range s.instances {
		if row.status == index.StatusCreated && w > max {
			max = w
		}
	}
	return max, nil
}

func (s *Store) GetInstanceBatches(ctx context.Context, batchSize, batchCount int, after, max int64) ([]index.WatermarkRange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ws []int64
	for w, row := range s.instances {
		if row.status == index.StatusCreated && w > after && w <= max {
			ws = append(ws, w)
		}
	}
	return bucket(ws, batchSize, batchCount), nil
}

// bucket splits watermarks into ranges of batchSize, oldest first.
func bucket(ws []int64, batchSize, batchCount int) []index.WatermarkRange {
	if batchSize <= 0 || len(ws) == 0 {
		return nil
	}
	sort.Slice(ws, func(i, j int) bool { return ws[i] < ws[j] })
	var out []index.WatermarkRange
	for i := 0; i < len(ws) && (batchCount <= 0 || len(out) < batchCount); i += batchSize {
		end := i + batchSize - 1
		if end >= len(ws) {
			end = len(ws) - 1
		}
		out = append(out, index.WatermarkRange{Start: ws[i], End: ws[end]})
	}
	return out
}

func (s *Store) GetInstancesByWatermarkRange(ctx context.Context, r index.WatermarkRange) ([]index.VersionedInstanceIdentifier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []index.VersionedInstanceIdentifier
	for w, row := range s.instances {
		if row.status == index.StatusCreated && r.Contains(w) {
			out = append(out, row.versioned())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func (s *Store) ReindexInstance(ctx context.Context, id index.VersionedInstanceIdentifier, ds *dicom.Dataset, tags []index.ExtendedQueryTag) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.instances[id.Version]
	if !ok || row.status != index.StatusCreated || row.id != id.InstanceIdentifier {
		return index.ErrInstanceNotFound
	}
	s.upsertValues(row, ds, tags)
	return nil
}

// ValuesOf returns the stored values of a tag keyed by the identifier they
// are stored under.
func (s *Store) ValuesOf(key int32) map[index.InstanceIdentifier]index.TagValue {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[index.InstanceIdentifier]index.TagValue)
	for k, v := range s.values {
		if k.tagKey != key {
			continue
		}
		out[index.InstanceIdentifier{
			Partition:         k.partition,
			StudyInstanceUID:  k.study,
			SeriesInstanceUID: k.series,
			SOPInstanceUID:    k.sop,
		}] = v.value
	}
	return out
}

func (s *Store) AddExtendedQueryTags(ctx context.Context, entries []index.ExtendedQueryTagEntry, maxAllowed int, ready bool) ([]index.ExtendedQueryTag, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if maxAllowed > 0 && len(s.tags)+len(entries) > maxAllowed {
		return nil, index.ErrExtendedQueryTagLimitExceeded
	}
	for _, e := range entries {
		for _, t := range s.tags {
			if t.Path == e.Path {
				return nil, index.ErrExtendedQueryTagAlreadyExists
			}
		}
	}

	status := index.TagStatusAdding
	if ready {
		status = index.TagStatusReady
	}
	out := make([]index.ExtendedQueryTag, 0, len(entries))
	for _, e := range entries {
		s.lastTagKey++
		t := &index.ExtendedQueryTag{
			Key:            s.lastTagKey,
			Path:           e.Path,
			VR:             e.VR,
			PrivateCreator: e.PrivateCreator,
			Level:          e.Level,
			Status:         status,
		}
		s.tags[t.Key] = t
		out = append(out, *t)
	}
	return out, nil
}

func (s *Store) sortedTags() []*index.ExtendedQueryTag {
	out := make([]*index.ExtendedQueryTag, 0, len(s.tags))
	for _, t := range s.tags {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func (s *Store) ListExtendedQueryTags(ctx context.Context, opts index.TagListOptions) ([]index.ExtendedQueryTag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []index.ExtendedQueryTag
	skipped := 0
	for _, t := range s.sortedTags() {
		if !opts.Includes(t.Status) {
			continue
		}
		if skipped < opts.Offset {
			skipped++
			continue
		}
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
		out = append(out, *t)
	}
	return out, nil
}

func (s *Store) GetExtendedQueryTag(ctx context.Context, path string) (*index.ExtendedQueryTag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.tags {
		if t.Path == path {
			c := *t
			return &c, nil
		}
	}
	return nil, index.ErrExtendedQueryTagNotFound
}

func (s *Store) GetExtendedQueryTagsByKey(ctx context.Context, keys []int32) ([]index.ExtendedQueryTag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []index.ExtendedQueryTag
	for _, k := range keys {
		if t, ok := s.tags[k]; ok {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (s *Store) AssignReindexingOperation(ctx context.Context, keys []int32, operationID uuid.UUID, returnIfCompleted bool) ([]index.ExtendedQueryTag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []index.ExtendedQueryTag
	for _, k := range keys {
		t, ok := s.tags[k]
		if !ok {
			continue
		}
		if t.Status == index.TagStatusAdding && t.OperationID == nil {
			id := operationID
			t.OperationID = &id
		}
		switch {
		case t.Status == index.TagStatusAdding && t.OperationID != nil && *t.OperationID == operationID:
			out = append(out, *t)
		case returnIfCompleted && t.Status == index.TagStatusReady:
			out = append(out, *t)
		}
	}
	return out, nil
}

func (s *Store) ReleaseReindexingOperation(ctx context.Context, keys []int32, operationID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range keys {
		t, ok := s.tags[k]
		if ok && t.Status == index.TagStatusAdding && t.OperationID != nil && *t.OperationID == operationID {
			t.OperationID = nil
		}
	}
	return nil
}

func (s *Store) CompleteReindexing(ctx context.Context, keys []int32) ([]index.ExtendedQueryTag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []index.ExtendedQueryTag
	for _, k := range keys {
		t, ok := s.tags[k]
		if !ok || t.Status != index.TagStatusAdding || t.OperationID == nil {
			continue
		}
		t.Status = index.TagStatusReady
		t.OperationID = nil
		out = append(out, *t)
	}
	return out, nil
}

func (s *Store) UpdateExtendedQueryTagStatusToDeleting(ctx context.Context, key int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tags[key]
	if !ok {
		return index.ErrExtendedQueryTagNotFound
	}
	if t.Status == index.TagStatusDeleting || t.OperationID != nil {
		return index.ErrExtendedQueryTagBusy
	}
	t.Status = index.TagStatusDeleting
	return nil
}

func (s *Store) IncrementExtendedQueryTagErrorCount(ctx context.Context, key int32, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tags[key]
	if !ok {
		return index.ErrExtendedQueryTagNotFound
	}
	t.ErrorCount += delta
	return nil
}

func (s *Store) GetExtendedQueryTagBatches(ctx context.Context, batchSize, batchCount int, vr dicom.VR, key int32) ([]index.WatermarkRange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[int64]bool)
	var ws []int64
	for k, v := range s.values {
		if k.tagKey == key && !seen[v.watermark] {
			seen[v.watermark] = true
			ws = append(ws, v.watermark)
		}
	}
	return bucket(ws, batchSize, batchCount), nil
}

func (s *Store) DeleteExtendedQueryTagDataByWatermarkRange(ctx context.Context, r index.WatermarkRange, vr dicom.VR, key int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, v := range s.values {
		if k.tagKey == key && r.Contains(v.watermark) {
			delete(s.values, k)
		}
	}
	return nil
}

func (s *Store) DeleteExtendedQueryTagEntry(ctx context.Context, key int32, vr dicom.VR) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tags[key]
	if !ok {
		return index.ErrExtendedQueryTagNotFound
	}
	if t.Status != index.TagStatusDeleting {
		return index.ErrExtendedQueryTagNotDeleting
	}
	for k := range s.values {
		if k.tagKey == key {
			delete(s.values, k)
		}
	}
	delete(s.tags, key)
	return nil
}
