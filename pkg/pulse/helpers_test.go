package pulse

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"sync"
)

// sent is one body captured by recordingTransport.
type sent struct {
	endpoint string
	payload  any
}

// recordingTransport captures bodies and can be switched to fail.
type recordingTransport struct {
	mu   sync.Mutex
	got  []sent
	fail error
}

func (r *recordingTransport) Send(ctx context.Context, endpoint string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, sent{endpoint: endpoint, payload: payload})
	return r.fail
}

func (r *recordingTransport) setFail(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail = err
}

func (r *recordingTransport) all() []sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sent(nil), r.got...)
}

// pageViews returns the page-view bodies sent so far, in order.
func (r *recordingTransport) pageViews() []pageViewBody {
	var out []pageViewBody
	for _, s := range r.all() {
		if pv, ok := s.payload.(pageViewBody); ok {
			out = append(out, pv)
		}
	}
	return out
}

func (r *recordingTransport) count(kind string) int {
	n := 0
	for _, s := range r.all() {
		if k, ok := s.payload.(Kinded); ok && k.Kind() == kind {
			n++
		}
	}
	return n
}

// failingStorage fails every read or every write.
type failingStorage struct {
	failGet bool
	failSet bool
}

func (f failingStorage) Get(ctx context.Context, key string) (string, bool, error) {
	if f.failGet {
		return "", false, errors.New("storage disabled")
	}
	return "", false, nil
}

func (f failingStorage) Set(ctx context.Context, key, value string) error {
	if f.failSet {
		return errors.New("quota exceeded")
	}
	return nil
}

// fakeErrorSource keeps the registered handlers so tests can fire them.
type fakeErrorSource struct {
	mu          sync.Mutex
	onError     []func(UncaughtError)
	onRejection []func(any)
}

func (f *fakeErrorSource) OnError(h func(UncaughtError)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onError = append(f.onError, h)
}

func (f *fakeErrorSource) OnRejection(h func(any)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onRejection = append(f.onRejection, h)
}

func (f *fakeErrorSource) fireError(ev UncaughtError) {
	f.mu.Lock()
	hs := slices.Clone(f.onError)
	f.mu.Unlock()
	for _, h := range hs {
		h(ev)
	}
}

func (f *fakeErrorSource) fireRejection(reason any) {
	f.mu.Lock()
	hs := slices.Clone(f.onRejection)
	f.mu.Unlock()
	for _, h := range hs {
		h(reason)
	}
}

func (f *fakeErrorSource) handlers() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.onError), len(f.onRejection)
}

// recordSink collects delivered error records.
type recordSink struct {
	mu      sync.Mutex
	records []ErrorRecord
	err     error
}

func (s *recordSink) deliver(r ErrorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r)
	return s.err
}

func (s *recordSink) all() []ErrorRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ErrorRecord(nil), s.records...)
}

// logBuffer is a bytes.Buffer safe for the tracker's background loggers.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *logBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
