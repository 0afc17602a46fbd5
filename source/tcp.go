package source

import (
	"log"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/osmo-rf/gofl2k/fl2k"
)

// TCP streams raw 8 bit samples from a remote sample server. Lost
// connections are redialed with exponential backoff; the source gives
// up and announces exhaustion through Done only when dialing keeps
// failing past the backoff budget or Close was called.
type TCP struct {
	addr string

	// Signed marks the stream as signed 8 bit samples.
	Signed bool

	// DialTimeout bounds a single connection attempt.
	DialTimeout time.Duration

	// MaxRetryTime bounds the total time spent redialing a lost
	// connection before giving up. Zero means backoff's default.
	MaxRetryTime time.Duration

	buf  []byte
	done chan struct{}

	mu      sync.Mutex
	conn    net.Conn
	closed  bool
	stopped bool
}

// NewTCP prepares a source reading from host:port. The first
// connection is established lazily on the first buffer request.
func NewTCP(addr string) *TCP {
	return &TCP{
		addr:        addr,
		DialTimeout: 5 * time.Second,
		done:        make(chan struct{}),
	}
}

// Done is closed when the stream has ended for good.
func (t *TCP) Done() <-chan struct{} { return t.done }

// Close tears down the connection and stops any redial attempts.
func (t *TCP) Close() error {
	t.mu.Lock()
	t.closed = true
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (t *TCP) stop() {
	if !t.stopped {
		t.stopped = true
		close(t.done)
	}
}

// dial (re)establishes the connection with exponential backoff.
func (t *TCP) dial() error {
	bo := backoff.NewExponentialBackOff()
	if t.MaxRetryTime > 0 {
		bo.MaxElapsedTime = t.MaxRetryTime
	}
	return backoff.Retry(func() error {
		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			return backoff.Permanent(net.ErrClosed)
		}
		t.mu.Unlock()
		conn, err := net.DialTimeout("tcp", t.addr, t.DialTimeout)
		if err != nil {
			log.Printf("source: connecting to %s: %v", t.addr, err)
			return err
		}
		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			conn.Close()
			return backoff.Permanent(net.ErrClosed)
		}
		t.conn = conn
		t.mu.Unlock()
		return nil
	}, bo)
}

// Samples implements fl2k.SampleSource.
func (t *TCP) Samples(di *fl2k.DataInfo) {
	if di.DeviceError {
		t.stop()
		return
	}
	if t.buf == nil {
		t.buf = make([]byte, di.Len)
	}
	di.SampleTypeSigned = t.Signed
	di.RBuf = t.buf
	if t.stopped {
		return
	}

	got := 0
	for got < len(t.buf) {
		t.mu.Lock()
		conn := t.conn
		closed := t.closed
		t.mu.Unlock()
		if closed {
			fillSilence(t.buf[got:], t.Signed)
			t.stop()
			return
		}
		if conn == nil {
			if err := t.dial(); err != nil {
				log.Printf("source: giving up on %s: %v", t.addr, err)
				fillSilence(t.buf[got:], t.Signed)
				t.stop()
				return
			}
			continue
		}
		n, err := conn.Read(t.buf[got:])
		got += n
		if err != nil {
			log.Printf("source: connection to %s lost: %v", t.addr, err)
			t.mu.Lock()
			if t.conn == conn {
				t.conn = nil
			}
			t.mu.Unlock()
			conn.Close()
		}
	}
}
