package journal

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"wsclient/pkg/exception"
	"wsclient/pkg/websocket"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	defaultPostgresHost    = "localhost"
	defaultPostgresPort    = 5432
	defaultPostgresSSLMode = "disable"

	defaultQueueSize = 1024
	writeTimeout     = 5 * time.Second
	emptyHeaders     = "{}"
)

// Option defines connection options for the PostgreSQL journal.
type Option struct {
	Host       string
	Port       int
	User       string
	Password   string
	Database   string
	SSLMode    string
	Params     map[string]string
	ConnString string
	Config     *gorm.Config
	// QueueSize bounds the frames waiting for the writer. Default 1024.
	QueueSize int
}

// Record is one received frame.
type Record struct {
	ID          uint64    `gorm:"primaryKey"`
	Destination string    `gorm:"index;not null"`
	Headers     string    `gorm:"type:jsonb;not null;default:'{}'"`
	Body        []byte    `gorm:"type:bytea"`
	ReceivedAt  time.Time `gorm:"index;not null"`
}

// TableName keeps the table name stable across model renames.
func (Record) TableName() string {
	return "ws_messages"
}

// NewRecord builds a record from a received frame.
func NewRecord(raw websocket.Frame, at time.Time) (Record, error) {
	rec := Record{
		Destination: raw.Destination,
		Headers:     emptyHeaders,
		Body:        append([]byte(nil), raw.Body...),
		ReceivedAt:  at.UTC(),
	}
	if len(raw.Headers) != 0 {
		headers, err := sonic.MarshalString(raw.Headers)
		if err != nil {
			return Record{}, errors.Wrap(err, "marshal headers")
		}
		rec.Headers = headers
	}
	return rec, nil
}

// Store appends received frames to PostgreSQL from a buffered queue.
type Store struct {
	opt   Option
	db    *gorm.DB
	write func(context.Context, *Record) error

	mu      sync.RWMutex
	closed  bool
	ch      chan Record
	wg      sync.WaitGroup
	dropped atomic.Uint64
}

// New opens the journal database.
func New(option Option) (*Store, error) {
	connString, err := option.dsn()
	if err != nil {
		return nil, err
	}

	config := option.Config
	if config == nil {
		config = &gorm.Config{}
	}

	db, err := gorm.Open(postgres.Open(connString), config)
	if err != nil {
		return nil, errors.Wrap(err, "open journal")
	}

	s := &Store{opt: option, db: db}
	s.write = s.insert
	s.start()
	return s, nil
}

func (s *Store) start() {
	size := s.opt.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	s.ch = make(chan Record, size)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run()
	}()
}

func (s *Store) run() {
	for rec := range s.ch {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := s.write(ctx, &rec); err != nil {
			logs.Errorf("journal: %+v", err)
		}
		cancel()
	}
}

// DB returns the underlying gorm.DB instance.
func (s *Store) DB() *gorm.DB {
	if s == nil {
		return nil
	}
	return s.db
}

// Migrate creates or updates the journal table.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&Record{}); err != nil {
		return errors.Wrap(err, "migrate journal")
	}
	return nil
}

// TryAppend queues one frame for the writer without blocking.
func (s *Store) TryAppend(raw websocket.Frame) error {
	rec, err := NewRecord(raw, time.Now())
	if err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return exception.ErrJournalClosed
	}
	select {
	case s.ch <- rec:
		return nil
	default:
		s.dropped.Add(1)
		return exception.ErrJournalFull
	}
}

// Dropped returns how many frames were not journaled because the queue was full.
func (s *Store) Dropped() uint64 {
	return s.dropped.Load()
}

func (s *Store) insert(ctx context.Context, rec *Record) error {
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return errors.Wrapf(err, "append %s", rec.Destination)
	}
	return nil
}

// Recent returns up to limit records of destination, newest first.
func (s *Store) Recent(ctx context.Context, destination string, limit int) ([]Record, error) {
	var out []Record
	err := s.db.WithContext(ctx).
		Where("destination = ?", destination).
		Order("received_at DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, errors.Wrapf(err, "recent %s", destination)
	}
	return out, nil
}

// Handler wraps next so every delivered frame is queued for the journal before
// next runs. The database write happens on the writer goroutine; a full queue
// drops the journal entry, never the delivery.
func (s *Store) Handler(next websocket.Handler) websocket.Handler {
	return func(payload any, raw websocket.Frame) {
		if err := s.TryAppend(raw); err != nil {
			logs.Warnf("journal %s: %+v", raw.Destination, err)
		}
		if next != nil {
			next(payload, raw)
		}
	}
}

// Close writes the queued frames, then closes the connection pool.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		if s.ch != nil {
			close(s.ch)
		}
	}
	s.mu.Unlock()
	s.wg.Wait()

	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (opt Option) dsn() (string, error) {
	if opt.ConnString != "" {
		return opt.ConnString, nil
	}

	host := opt.Host
	if host == "" {
		host = defaultPostgresHost
	}

	port := opt.Port
	if port == 0 {
		port = defaultPostgresPort
	}

	sslMode := opt.SSLMode
	if sslMode == "" {
		sslMode = defaultPostgresSSLMode
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", host, port),
	}

	if opt.User != "" {
		if opt.Password != "" {
			u.User = url.UserPassword(opt.User, opt.Password)
		} else {
			u.User = url.User(opt.User)
		}
	}

	if opt.Database != "" {
		u.Path = "/" + opt.Database
	}

	query := url.Values{}
	query.Set("sslmode", sslMode)
	for key, value := range opt.Params {
		if key == "" {
			continue
		}
		query.Set(key, value)
	}
	u.RawQuery = query.Encode()

	return u.String(), nil
}
