package lcp

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/readium/lcp-client-go/pkg/lcplog"
	"github.com/readium/lcp-client-go/pkg/metrics"
	"github.com/readium/lcp-client-go/pkg/status"
)

// AcquisitionState is a state in the acquisition lifecycle (spec §4.8):
// idle → started → progressing* → (canceled|ended).
type AcquisitionState int

const (
	AcquisitionIdle AcquisitionState = iota
	AcquisitionStarted
	AcquisitionProgressing
	AcquisitionCanceled
	AcquisitionEnded
)

func (s AcquisitionState) String() string {
	switch s {
	case AcquisitionIdle:
		return "idle"
	case AcquisitionStarted:
		return "started"
	case AcquisitionProgressing:
		return "progressing"
	case AcquisitionCanceled:
		return "canceled"
	case AcquisitionEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Progress reports a snapshot of an acquisition's advancement.
type Progress struct {
	State         AcquisitionState
	BytesReceived int64
	TotalBytes    int64
}

// Fraction returns how much of the download has completed, or 0 when
// the total size isn't known yet.
func (p Progress) Fraction() float64 {
	if p.TotalBytes <= 0 {
		return 0
	}
	return float64(p.BytesReceived) / float64(p.TotalBytes)
}

// AcquisitionCallback receives coalesced progress events.
type AcquisitionCallback func(Progress)

// HTTPFetcher opens a ranged GET against url, returning the body stream,
// the total resource size if the server reports one, and whether the
// server honors the supplied Range offset (for resumption after a
// retry). A zero rangeStart requests the whole resource.
type HTTPFetcher interface {
	Fetch(ctx context.Context, url string, rangeStart int64) (body io.ReadCloser, totalSize int64, resumed bool, err error)
}

const (
	acquisitionMaxRetries   = 3
	acquisitionProgressTime = 100 * time.Millisecond
	acquisitionProgressStep = 0.01
)

var acquisitionBackoff = []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

// Acquisition drives a publication download to destPath, retrying
// transient failures and resuming from the last received byte when the
// fetcher reports the server honored the Range request (spec §4.8).
type Acquisition struct {
	fetcher  HTTPFetcher
	url      string
	destPath string
	cb       AcquisitionCallback

	mu       sync.Mutex
	state    AcquisitionState
	canceled atomic.Bool

	lastEmit     time.Time
	lastFraction float64

	// loopDelay overrides the retry backoff schedule when non-zero, for
	// tests that would otherwise wait seconds between retries.
	loopDelay time.Duration
}

// NewAcquisition builds an idle acquisition. Call Run to start it.
func NewAcquisition(fetcher HTTPFetcher, url, destPath string, cb AcquisitionCallback) *Acquisition {
	return &Acquisition{
		fetcher:  fetcher,
		url:      url,
		destPath: destPath,
		cb:       cb,
		state:    AcquisitionIdle,
	}
}

// State returns the acquisition's current lifecycle state.
func (a *Acquisition) State() AcquisitionState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Cancel requests cooperative cancellation. The in-flight attempt
// notices at its next read or retry boundary and transitions to
// AcquisitionCanceled.
func (a *Acquisition) Cancel() {
	a.canceled.Store(true)
}

func (a *Acquisition) setState(s AcquisitionState) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

// Run executes the download to completion, retrying up to
// acquisitionMaxRetries times with backoff and resuming from the last
// confirmed byte offset when the server supports it. It blocks until the
// acquisition reaches AcquisitionCanceled or AcquisitionEnded.
func (a *Acquisition) Run(ctx context.Context) error {
	a.setState(AcquisitionStarted)
	start := time.Now()

	out, err := os.Create(a.destPath)
	if err != nil {
		a.setState(AcquisitionEnded)
		return status.Wrap(status.LicenseStorageError, "create destination file", err)
	}
	defer out.Close()

	var received int64
	var total int64 = -1
	var lastErr error

	for attempt := 0; attempt <= acquisitionMaxRetries; attempt++ {
		if a.canceled.Load() {
			a.setState(AcquisitionCanceled)
			return status.New(status.ContextInvalid, "acquisition canceled")
		}

		if attempt > 0 {
			backoff := backoffFor(attempt)
			if a.loopDelay > 0 {
				backoff = a.loopDelay
			}
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				a.setState(AcquisitionCanceled)
				return ctx.Err()
			}
		}

		body, size, resumed, err := a.fetcher.Fetch(ctx, a.url, received)
		if err != nil {
			lastErr = err
			lcplog.Logger.Warn().Err(err).Int("attempt", attempt).Msg("acquisition fetch failed")
			continue
		}
		if total < 0 && size > 0 {
			// size is already the absolute resource size: on a resumed
			// (206) response the fetcher has already added rangeStart back
			// in (see httpfetch.AcquisitionFetcher.Fetch).
			total = size
		}
		if !resumed && received > 0 {
			// The server restarted the body from byte zero: our partial
			// write is stale, so start the destination file over.
			if _, err := out.Seek(0, io.SeekStart); err != nil {
				body.Close()
				lastErr = err
				continue
			}
			if err := out.Truncate(0); err != nil {
				body.Close()
				lastErr = err
				continue
			}
			received = 0
		}

		n, err := a.copyWithProgress(ctx, out, body, &received, total)
		body.Close()
		_ = n
		if err == nil {
			a.setState(AcquisitionEnded)
			metrics.AcquisitionDuration.Observe(time.Since(start).Seconds())
			return nil
		}
		if status.Is(err, status.ContextInvalid) {
			a.setState(AcquisitionCanceled)
			return err
		}
		lastErr = err
		lcplog.Logger.Warn().Err(err).Int("attempt", attempt).Msg("acquisition copy failed")
	}

	a.setState(AcquisitionEnded)
	return status.Wrap(status.LicenseNetworkError, fmt.Sprintf("acquisition failed after %d attempts", acquisitionMaxRetries+1), lastErr)
}

// backoffFor returns the backoff duration for a given retry attempt,
// clamping to the last configured step.
func backoffFor(attempt int) time.Duration {
	idx := attempt - 1
	if idx >= len(acquisitionBackoff) {
		idx = len(acquisitionBackoff) - 1
	}
	return acquisitionBackoff[idx]
}

// copyWithProgress streams body into out, advancing *received and
// emitting coalesced progress callbacks (spec §4.8 "emits progress at
// most every 100ms or 1%, whichever is sparser").
func (a *Acquisition) copyWithProgress(ctx context.Context, out io.WriterAt, body io.Reader, received *int64, total int64) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64

	for {
		if a.canceled.Load() {
			return written, status.New(status.ContextInvalid, "acquisition canceled")
		}
		select {
		case <-ctx.Done():
			return written, status.Wrap(status.ContextInvalid, "acquisition context canceled", ctx.Err())
		default:
		}

		n, rerr := body.Read(buf)
		if n > 0 {
			if _, werr := out.WriteAt(buf[:n], *received); werr != nil {
				return written, status.Wrap(status.LicenseStorageError, "write destination file", werr)
			}
			*received += int64(n)
			written += int64(n)
			a.emitProgress(Progress{State: AcquisitionProgressing, BytesReceived: *received, TotalBytes: total})
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, status.Wrap(status.LicenseNetworkError, "read response body", rerr)
		}
	}
}

// emitProgress coalesces callback invocations to at most once per 100ms
// and 1% of progress, whichever condition is reached later. While the
// total size is unknown only the 100ms condition applies, and the event
// that brings BytesReceived up to a known total is always delivered.
func (a *Acquisition) emitProgress(p Progress) {
	if a.cb == nil {
		return
	}
	a.setState(p.State)

	now := time.Now()
	fraction := p.Fraction()

	a.mu.Lock()
	elapsed := now.Sub(a.lastEmit)
	delta := fraction - a.lastFraction
	stepReached := p.TotalBytes <= 0 || delta >= acquisitionProgressStep
	done := p.TotalBytes > 0 && p.BytesReceived >= p.TotalBytes
	if a.lastEmit.IsZero() || done || (elapsed >= acquisitionProgressTime && stepReached) {
		a.lastEmit = now
		a.lastFraction = fraction
		a.mu.Unlock()
		a.cb(p)
		return
	}
	a.mu.Unlock()
}
