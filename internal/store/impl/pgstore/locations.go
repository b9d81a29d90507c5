package pgstore

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/phuslu/log"
	"nuha.dev/cartsync/internal/store"
)

// LocationStore batches accepted samples and writes them with CopyFrom.
// Reports never wait for the database: a full or aged buffer is queued
// for the flusher goroutine and a fresh one takes its place. The queue
// holds every swapped-out buffer, so a burst of flushes during one slow
// copy loses nothing.
type LocationStore struct {
	config *LocationStoreConfig
	cond   *sync.Cond
	wlock  *sync.Mutex
	queue  []buffer
	wbuf   buffer
	dbc    *pgxpool.Conn
	dbp    *pgxpool.Pool
	log    log.Logger
}

type LocationStoreConfig struct {
	BufSize     int
	TickerDur   time.Duration
	MaxAgeFlush time.Duration
}

type buffer struct {
	seq uint64
	t1  time.Time
	buf []store.Sample
}

func newBuffer(seq uint64, size int) buffer {
	return buffer{seq: seq, buf: make([]store.Sample, 0, size)}
}

func NewLocationStore(db *pgxpool.Pool, config *LocationStoreConfig) *LocationStore {
	o := &LocationStore{}
	o.config = config
	o.dbp = db
	o.log = log.DefaultLogger
	o.log.Context = log.NewContext(nil).Str("module", "pgstore").Value()
	o.wbuf = newBuffer(0, config.BufSize)
	o.wlock = &sync.Mutex{}
	o.cond = sync.NewCond(&sync.Mutex{})
	return o
}

func (st *LocationStore) Run() error {
	var err error
	st.dbc, err = st.dbp.Acquire(context.Background())
	if err != nil {
		return err
	}
	go st.timerFlusher()
	go st.handle()
	return nil
}

func (st *LocationStore) Append(s store.Sample) {
	st.wlock.Lock()
	if len(st.wbuf.buf) == 0 {
		st.wbuf.t1 = time.Now().UTC()
	}
	st.wbuf.buf = append(st.wbuf.buf, s)
	if len(st.wbuf.buf) == st.config.BufSize {
		st.flush()
	}
	st.wlock.Unlock()
}

func (st *LocationStore) timerFlusher() {
	ticker := time.NewTicker(st.config.TickerDur)
	for t := range ticker.C {
		st.wlock.Lock()
		if len(st.wbuf.buf) != 0 && t.Sub(st.wbuf.t1) > st.config.MaxAgeFlush {
			st.flush()
		}
		st.wlock.Unlock()
	}
}

// flush queues the write buffer and signals the flusher. Caller holds
// wlock.
func (st *LocationStore) flush() {
	next := st.wbuf.seq + 1
	st.cond.L.Lock()
	st.queue = append(st.queue, st.wbuf)
	st.cond.L.Unlock()
	st.cond.Signal()
	st.wbuf = newBuffer(next, st.config.BufSize)
}

func (st *LocationStore) handle() {
	st.log.Info().Msg("starting flusher task")
	for {
		st.cond.L.Lock()
		for len(st.queue) == 0 {
			st.cond.Wait()
		}
		buf := st.queue[0]
		st.queue = st.queue[1:]
		st.cond.L.Unlock()
		t1 := time.Now()
		_, err := st.dbc.CopyFrom(context.Background(),
			pgx.Identifier{"location_history"},
			[]string{"cart_id", "latitude", "longitude", "accuracy", "recorded_at"},
			pgx.CopyFromSlice(len(buf.buf), func(i int) ([]interface{}, error) {
				d := buf.buf[i]
				return []interface{}{d.CartID, d.Latitude, d.Longitude, d.Accuracy, d.Timestamp}, nil
			}))
		if err != nil {
			st.log.Error().Err(err).Msg("flush error")
		} else {
			st.log.Debug().Str("action", "flush").Int("length", len(buf.buf)).Dur("time_taken", time.Since(t1)).Msg("flush successfull")
		}
	}
}

func (st *LocationStore) History(ctx context.Context, cartID string, q store.HistoryQuery) ([]store.Sample, error) {
	sqlStmt := `SELECT latitude,longitude,accuracy,recorded_at FROM location_history
	WHERE cart_id = $1
	AND ($2::timestamptz IS NULL OR recorded_at >= $2)
	AND ($3::timestamptz IS NULL OR recorded_at <= $3)
	ORDER BY recorded_at DESC LIMIT $4`
	rows, err := st.dbp.Query(ctx, sqlStmt, cartID, q.Start, q.End, q.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	samples := make([]store.Sample, 0)
	for rows.Next() {
		s := store.Sample{CartID: cartID}
		err := rows.Scan(&s.Latitude, &s.Longitude, &s.Accuracy, &s.Timestamp)
		if err != nil {
			return nil, err
		}
		samples = append(samples, s)
	}
	return samples, rows.Err()
}
