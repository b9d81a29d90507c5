package pgstore

import (
	"testing"
	"time"

	"nuha.dev/cartsync/internal/store"
)

// A burst can fill the write buffer several times while the flusher is
// stuck in a slow copy. Every swapped-out buffer must stay queued until
// the flusher drains it.
func TestFlushQueuesEveryBuffer(t *testing.T) {
	st := NewLocationStore(nil, &LocationStoreConfig{BufSize: 2, TickerDur: time.Hour, MaxAgeFlush: time.Hour})

	for i := 0; i < 5; i++ {
		st.Append(store.Sample{CartID: "cart001", Latitude: float64(i)})
	}

	st.cond.L.Lock()
	queued := make([]buffer, len(st.queue))
	copy(queued, st.queue)
	st.cond.L.Unlock()

	if len(queued) != 2 {
		t.Fatalf("queued buffers = %d", len(queued))
	}
	if queued[0].seq != 0 || queued[1].seq != 1 {
		t.Errorf("seqs = %d %d", queued[0].seq, queued[1].seq)
	}
	total := 0
	for bi, b := range queued {
		for si, s := range b.buf {
			if s.Latitude != float64(total) {
				t.Errorf("buffer %d sample %d latitude = %v", bi, si, s.Latitude)
			}
			total++
		}
	}
	if total != 4 {
		t.Errorf("queued samples = %d", total)
	}

	st.wlock.Lock()
	if len(st.wbuf.buf) != 1 || st.wbuf.seq != 2 {
		t.Errorf("write buffer len = %d seq = %d", len(st.wbuf.buf), st.wbuf.seq)
	}
	st.wlock.Unlock()
}
