// Package recorder 把成交与窗口小结落到本地 sqlite。
// 纯旁路：任何写入失败只告警，绝不影响交易路径。
package recorder

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/betbot/laddermm/internal/domain"
)

// Recorder sqlite 记录器
type Recorder struct {
	db        *sql.DB
	sessionID string
	log       *logrus.Entry
}

// Open 打开（必要时创建）数据库并建表
func Open(dbPath, sessionID string) (*Recorder, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}
	db.SetMaxOpenConns(1)

	r := &Recorder{
		db:        db,
		sessionID: sessionID,
		log:       logrus.WithField("component", "recorder"),
	}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Recorder) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`
CREATE TABLE IF NOT EXISTS fills (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  session_id TEXT NOT NULL,
  slug TEXT NOT NULL,
  order_id TEXT NOT NULL,
  asset_id TEXT NOT NULL,
  side TEXT NOT NULL,
  price_ticks INTEGER NOT NULL,
  size TEXT NOT NULL,
  is_maker INTEGER NOT NULL,
  ts TEXT NOT NULL
);`,
		`
CREATE TABLE IF NOT EXISTS window_summaries (
  session_id TEXT NOT NULL,
  slug TEXT NOT NULL,
  window_start INTEGER NOT NULL,
  strike REAL NOT NULL,
  qty_yes TEXT NOT NULL,
  qty_no TEXT NOT NULL,
  cost_yes TEXT NOT NULL,
  cost_no TEXT NOT NULL,
  min_pnl_ticks TEXT NOT NULL,
  fill_count INTEGER NOT NULL,
  closed_at TEXT NOT NULL,
  PRIMARY KEY (session_id, slug)
);`,
	}
	for _, q := range stmts {
		if _, err := r.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("建表失败: %w", err)
		}
	}
	return nil
}

// RecordFill 记录一笔成交（失败只告警）
func (r *Recorder) RecordFill(slug string, fill domain.FillEvent) {
	isMaker := 0
	if fill.IsMaker {
		isMaker = 1
	}
	_, err := r.db.Exec(
		`INSERT INTO fills (session_id, slug, order_id, asset_id, side, price_ticks, size, is_maker, ts)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.sessionID, slug, fill.OrderID, fill.AssetID, fill.Side.String(),
		fill.PriceTicks, fill.Size.String(), isMaker, fill.TS.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		r.log.Warnf("记录成交失败: %v", err)
	}
}

// WindowSummary 窗口关闭时的账目小结
type WindowSummary struct {
	Slug        string
	WindowStart int64
	Strike      float64
	QtyYes      string
	QtyNo       string
	CostYes     string
	CostNo      string
	MinPnLTicks string
	FillCount   int
}

// RecordWindow 记录窗口小结（失败只告警）
func (r *Recorder) RecordWindow(s WindowSummary) {
	_, err := r.db.Exec(
		`INSERT OR REPLACE INTO window_summaries
		 (session_id, slug, window_start, strike, qty_yes, qty_no, cost_yes, cost_no, min_pnl_ticks, fill_count, closed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.sessionID, s.Slug, s.WindowStart, s.Strike,
		s.QtyYes, s.QtyNo, s.CostYes, s.CostNo, s.MinPnLTicks, s.FillCount,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		r.log.Warnf("记录窗口小结失败: %v", err)
	}
}

// Close 关闭数据库
func (r *Recorder) Close() error {
	return r.db.Close()
}
