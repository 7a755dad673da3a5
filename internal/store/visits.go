package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"wifi-ad-beacon/internal/logger"
	"wifi-ad-beacon/internal/model"
	"wifi-ad-beacon/internal/visit"
)

// 文档注释：在单个事务内串行处理一个设备
// 背景：先 get-or-create 状态行，再 SELECT ... FOR UPDATE 行锁，同一设备的并发心跳在此排队。
// 约束：fn 返回错误时整体回滚。
func (s *Store) WithDevice(ctx context.Context, deviceKey string, fn func(tx visit.DeviceTx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `INSERT INTO device_visit_states(device_key) VALUES($1) ON CONFLICT (device_key) DO NOTHING`, deviceKey); err != nil {
		return fmt.Errorf("ensure device state: %w", err)
	}
	var row model.DeviceVisitState
	row.DeviceKey = deviceKey
	err = tx.QueryRowContext(ctx, `SELECT current_segment_id, current_venue_id, pending_venue_id, pending_count, last_ping_at
        FROM device_visit_states WHERE device_key=$1 FOR UPDATE`, deviceKey).
		Scan(&row.CurrentSegmentID, &row.CurrentVenueID, &row.PendingVenueID, &row.PendingCount, &row.LastPingAt)
	if err != nil {
		return fmt.Errorf("lock device state: %w", err)
	}
	if err := fn(&pgDeviceTx{tx: tx, row: row}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type pgDeviceTx struct {
	tx  *sql.Tx
	row model.DeviceVisitState
}

func (t *pgDeviceTx) Load(ctx context.Context) (visit.State, error) {
	st := visit.State{DeviceKey: t.row.DeviceKey, PendingCount: t.row.PendingCount, LastPingAt: t.row.LastPingAt}
	if t.row.CurrentSegmentID != nil {
		seg, err := scanSegment(t.tx.QueryRowContext(ctx, `SELECT `+segmentColumns+` FROM visit_segments WHERE id=$1`, *t.row.CurrentSegmentID))
		switch {
		case err == nil:
			st.Current = &seg
		case !errors.Is(err, sql.ErrNoRows):
			return st, err
		}
	}
	var err error
	if st.CurrentVenue, err = t.venueRef(ctx, t.row.CurrentVenueID); err != nil {
		return st, err
	}
	if st.PendingVenue, err = t.venueRef(ctx, t.row.PendingVenueID); err != nil {
		return st, err
	}
	return st, nil
}

func (t *pgDeviceTx) venueRef(ctx context.Context, id *int64) (*visit.VenueRef, error) {
	if id == nil {
		return nil, nil
	}
	ref := &visit.VenueRef{ID: *id}
	err := t.tx.QueryRowContext(ctx, `SELECT name FROM venues WHERE id=$1`, *id).Scan(&ref.Name)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return ref, nil
}

func (t *pgDeviceTx) CreateSegment(ctx context.Context, seg model.VisitSegment) (int64, error) {
	var id int64
	err := t.tx.QueryRowContext(ctx, `INSERT INTO visit_segments(device_key, venue_id, source, start_at, end_at, is_open)
        VALUES($1,$2,$3,$4,$5,TRUE) RETURNING id`,
		t.row.DeviceKey, seg.VenueID, seg.Source, seg.StartAt, seg.EndAt).Scan(&id)
	return id, err
}

func (t *pgDeviceTx) ExtendSegment(ctx context.Context, seg model.VisitSegment) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE visit_segments SET end_at=$2, updated_at=now() WHERE id=$1 AND is_open=TRUE`, seg.ID, seg.EndAt)
	return affectedOne(res, err)
}

func (t *pgDeviceTx) CloseSegment(ctx context.Context, seg model.VisitSegment) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE visit_segments SET end_at=$2, is_open=FALSE, updated_at=now() WHERE id=$1 AND is_open=TRUE`, seg.ID, seg.EndAt)
	return affectedOne(res, err)
}

// affectedOne：只允许修改打开的分段，未命中视为已关闭
func affectedOne(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrSegmentClosed
	}
	return nil
}

func (t *pgDeviceTx) SaveState(ctx context.Context, st visit.State) error {
	row := st.Row()
	_, err := t.tx.ExecContext(ctx, `UPDATE device_visit_states SET current_segment_id=$2, current_venue_id=$3, pending_venue_id=$4,
            pending_count=$5, last_ping_at=$6, updated_at=now()
        WHERE device_key=$1`,
		t.row.DeviceKey, row.CurrentSegmentID, row.CurrentVenueID, row.PendingVenueID, row.PendingCount, row.LastPingAt)
	return err
}

// IdleDevices: 持有打开分段且最后心跳早于 cutoff 的设备
func (s *Store) IdleDevices(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := s.db.QueryContext(ctx, `SELECT d.device_key FROM device_visit_states d
        JOIN visit_segments v ON v.id = d.current_segment_id AND v.is_open = TRUE
        WHERE d.last_ping_at < $1
        ORDER BY d.last_ping_at
        LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	logger.L().Debug("idle_devices", "count", len(out))
	return out, rows.Err()
}

const segmentColumns = `id, device_key, venue_id, source, start_at, end_at, is_open`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSegment(r rowScanner) (model.VisitSegment, error) {
	var seg model.VisitSegment
	err := r.Scan(&seg.ID, &seg.DeviceKey, &seg.VenueID, &seg.Source, &seg.StartAt, &seg.EndAt, &seg.IsOpen)
	return seg, err
}

// SegmentsForDevice: 设备最近的分段，新到旧
func (s *Store) SegmentsForDevice(ctx context.Context, deviceKey string, limit int) ([]model.VisitSegment, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+segmentColumns+` FROM visit_segments
        WHERE device_key=$1 ORDER BY start_at DESC, id DESC LIMIT $2`, deviceKey, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.VisitSegment
	for rows.Next() {
		seg, err := scanSegment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, seg)
	}
	return out, rows.Err()
}
