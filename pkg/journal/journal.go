// Package journal records received bytes in a SQLite database.
package journal

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	_ "modernc.org/sqlite"

	fx "github.com/robotalks/pulselink/pkg/framework"
	"github.com/robotalks/pulselink/pkg/link"
)

// Record is one received byte.
type Record struct {
	ID         uint      `gorm:"primarykey"`
	Session    string    `gorm:"index;size:36;not null"`
	Seq        int       `gorm:"not null"`
	Byte       uint8     `gorm:"not null"`
	Variant    string    `gorm:"size:8"`
	ReceivedAt time.Time `gorm:"index"`
}

// TableName specifies the table name for GORM.
func (Record) TableName() string {
	return "received_bytes"
}

// Journal appends the bytes of one receiving session.
type Journal struct {
	Session string
	Variant link.Variant
	Clock   fx.Clock

	db  *gorm.DB
	seq int
}

// Open opens or creates the journal database at path and starts a new
// session.
func Open(path string, variant link.Variant) (*Journal, error) {
	db, err := gorm.Open(sqlite.Dialector{DriverName: "sqlite", DSN: path}, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if err := configureSQLite(sqlDB); err != nil {
		sqlDB.Close()
		return nil, err
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		sqlDB.Close()
		return nil, err
	}
	j := &Journal{Session: uuid.NewString(), Variant: variant, db: db}
	glog.Infof("journal %s: session %s", path, j.Session)
	return j, nil
}

func configureSQLite(sqlDB *sql.DB) error {
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database.
func (j *Journal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Append records b as the next byte of the session.
func (j *Journal) Append(b byte) error {
	rec := &Record{
		Session:    j.Session,
		Seq:        j.seq,
		Byte:       b,
		Variant:    j.Variant.String(),
		ReceivedAt: fx.ClockOrSystem(j.Clock).Now(),
	}
	if err := j.db.Create(rec).Error; err != nil {
		return fmt.Errorf("journal byte %d: %w", j.seq, err)
	}
	j.seq++
	return nil
}

// Records returns the bytes of a session in receive order.
func (j *Journal) Records(session string) ([]Record, error) {
	var recs []Record
	err := j.db.Where("session = ?", session).Order("seq").Find(&recs).Error
	return recs, err
}

// Text reassembles the text of a session.
func (j *Journal) Text(session string) (string, error) {
	recs, err := j.Records(session)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, rec := range recs {
		sb.WriteByte(rec.Byte)
	}
	return sb.String(), nil
}

// Sessions lists recorded sessions, oldest first.
func (j *Journal) Sessions() ([]string, error) {
	var sessions []string
	err := j.db.Model(&Record{}).
		Select("session").
		Group("session").
		Order("MIN(id)").
		Pluck("session", &sessions).Error
	return sessions, err
}

// Control implements framework.Controller. Received bytes are left for
// the controllers after it.
func (j *Journal) Control(cc fx.ControlContext) error {
	var errs fx.AggregatedError
	cc.Messages().ProcessMessages(fx.ProcessMessageFunc(func(mc fx.MessageProcessingContext) {
		if msg, ok := mc.CurrentMessage().(*link.ByteReceived); ok {
			errs.Add(j.Append(msg.Byte))
		}
	}))
	return errs.Aggregate()
}

// AddToLoop implements framework.LoopAdder.
func (j *Journal) AddToLoop(l *fx.Loop) {
	l.AddController(fx.PrLvRecord, j)
}
