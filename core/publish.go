package core

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// PublishPhase is a progress-callback phase, in the fixed order spec §4.5
// promises ("events arrive in the phase order listed").
type PublishPhase string

const (
	PhasePreparing  PublishPhase = "preparing"
	PhaseManifest   PublishPhase = "manifest"
	PhaseChunks     PublishPhase = "chunks"
	PhaseFinalizing PublishPhase = "finalizing"
	PhaseComplete   PublishPhase = "complete"
)

// PublishEvent is delivered to PublishOptions.OnProgress at each phase
// boundary (spec §4.5). Written, Total and LastTx are only meaningful
// during PhaseChunks.
type PublishEvent struct {
	Phase   PublishPhase
	Written int
	Total   int
	LastTx  string
}

// PublishOptions configures one Publish call (spec §4.5 "Input:
// publisher key, blob bytes, options (chunk_size, metadata map,
// concurrency, skip-if-exists)").
type PublishOptions struct {
	ChunkSize    uint32
	Metadata     []byte
	Concurrency  int // default 3, configurable 1..N
	SkipIfExists bool
	DenyList     func(contentID [32]byte) bool
	OnProgress   func(PublishEvent)
	Logger       *logrus.Logger
}

const (
	defaultConcurrency = 3
	interWaveSleep     = 200 * time.Millisecond
	maxSubmitRetries   = 5
	initialBackoff     = 1000 * time.Millisecond
)

// PublishResult is returned by a successful Publish call.
type PublishResult struct {
	ContentID       [32]byte
	ManifestAddress [32]byte
	TxIDs           []string
	AlreadyExists   bool
}

// Publish runs the split -> reserve -> write chunks -> finalize pipeline of
// spec §4.5, against any Transport (in-process program or real JSON-RPC
// endpoint pool), with bounded concurrency, wave pacing and per-submission
// retry.
func Publish(ctx context.Context, t Transport, publisher [32]byte, blob []byte, pageIndex uint32, opts PublishOptions) (PublishResult, error) {
	log := opts.Logger
	if log == nil {
		log = logrus.New()
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	emit := func(ev PublishEvent) {
		if opts.OnProgress != nil {
			opts.OnProgress(ev)
		}
	}

	emit(PublishEvent{Phase: PhasePreparing})

	contentID := sha256.Sum256(blob)
	if opts.DenyList != nil && opts.DenyList(contentID) {
		return PublishResult{}, newErr(KindRefused, "content id is on the deny list")
	}
	if len(blob) == 0 || len(blob) > MaxBlobSize {
		return PublishResult{}, ErrBlobTooLarge
	}
	chunkSize := opts.ChunkSize
	if chunkSize == 0 {
		chunkSize = 256 * 1024
	}

	var txIDs []string

	existing, found, err := t.ReadManifest(ctx, contentID)
	if err != nil {
		return PublishResult{}, err
	}
	if found && existing.Finalized {
		if opts.SkipIfExists {
			return PublishResult{ContentID: contentID, AlreadyExists: true}, nil
		}
		return PublishResult{}, ErrManifestFinalized
	}

	emit(PublishEvent{Phase: PhaseManifest})
	if !found {
		txID, err := submitWithRetry(ctx, log, "createManifest", func() (string, error) {
			return t.SubmitCreateManifest(ctx, publisher, contentID, uint64(len(blob)), chunkSize, contentID, opts.Metadata)
		})
		if err != nil {
			return PublishResult{}, err
		}
		txIDs = append(txIDs, txID)
		existing, _, err = t.ReadManifest(ctx, contentID)
		if err != nil {
			return PublishResult{}, err
		}
	}
	manifestAddr, _ := DeriveManifest(contentID, programIDFromTransport(t))

	chunkCount := existing.ChunkCount
	type chunkJob struct {
		index   uint32
		payload []byte
	}
	var jobs []chunkJob
	for i := uint32(0); i < chunkCount; i++ {
		// Resume support (spec §4.5 step 3/6, testable property 7): skip
		// chunks already written, regardless of order.
		existingChunk, err := t.ReadChunkBatch(ctx, contentID, chunkSize, []uint32{i})
		if err != nil {
			return PublishResult{}, err
		}
		if _, already := existingChunk[i]; already {
			continue
		}
		want := ExpectedChunkDataLen(i, chunkCount, uint64(len(blob)), chunkSize)
		start := uint64(i) * uint64(chunkSize)
		jobs = append(jobs, chunkJob{index: i, payload: blob[start : start+uint64(want)]})
	}

	written := int(chunkCount) - len(jobs)
	emit(PublishEvent{Phase: PhaseChunks, Written: written, Total: int(chunkCount)})

	for wave := 0; wave < len(jobs); wave += concurrency {
		select {
		case <-ctx.Done():
			return PublishResult{}, wrapErr(KindCancelled, "publish cancelled", ctx.Err())
		default:
		}
		end := wave + concurrency
		if end > len(jobs) {
			end = len(jobs)
		}
		batch := jobs[wave:end]

		type waveResult struct {
			txID string
			err  error
		}
		results := make(chan waveResult, len(batch))
		for _, job := range batch {
			job := job
			go func() {
				txID, err := submitWithRetry(ctx, log, fmt.Sprintf("writeChunk[%d]", job.index), func() (string, error) {
					return t.SubmitWriteChunk(ctx, publisher, contentID, job.index, job.payload)
				})
				results <- waveResult{txID: txID, err: err}
			}()
		}
		var lastTx string
		for range batch {
			r := <-results
			if r.err != nil {
				return PublishResult{}, r.err
			}
			txIDs = append(txIDs, r.txID)
			lastTx = r.txID
			written++
		}
		emit(PublishEvent{Phase: PhaseChunks, Written: written, Total: int(chunkCount), LastTx: lastTx})

		if end < len(jobs) {
			select {
			case <-time.After(interWaveSleep):
			case <-ctx.Done():
				return PublishResult{}, wrapErr(KindCancelled, "publish cancelled", ctx.Err())
			}
		}
	}

	emit(PublishEvent{Phase: PhaseFinalizing})
	txID, err := submitWithRetry(ctx, log, "finalizeCartridge", func() (string, error) {
		return t.SubmitFinalize(ctx, publisher, contentID, pageIndex)
	})
	if err != nil {
		if e, ok := err.(*Error); ok && e.Kind == KindConflict {
			return PublishResult{}, &Error{Kind: KindConflict, Message: "page full, administrator must create a new page", Err: e}
		}
		return PublishResult{}, err
	}
	txIDs = append(txIDs, txID)

	emit(PublishEvent{Phase: PhaseComplete})
	return PublishResult{ContentID: contentID, ManifestAddress: manifestAddr, TxIDs: txIDs}, nil
}

// submitWithRetry retries a submission up to maxSubmitRetries times with
// exponential back-off starting at initialBackoff, triggered by Transport
// and RateLimited kinds (spec §4.5 step 6). Non-retryable kinds return
// immediately.
func submitWithRetry(ctx context.Context, log *logrus.Logger, label string, fn func() (string, error)) (string, error) {
	backoff := initialBackoff
	var lastErr error
	for attempt := 0; attempt <= maxSubmitRetries; attempt++ {
		txID, err := fn()
		if err == nil {
			return txID, nil
		}
		lastErr = err
		e, ok := err.(*Error)
		if !ok || (e.Kind != KindTransport && e.Kind != KindRateLimited) {
			return "", err
		}
		if attempt == maxSubmitRetries {
			break
		}
		log.Warnf("publish: %s retry %d/%d after %s: %v", label, attempt+1, maxSubmitRetries, backoff, err)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return "", wrapErr(KindCancelled, "publish cancelled during retry", ctx.Err())
		}
		backoff *= 2
	}
	return "", wrapErr(KindTransport, fmt.Sprintf("%s exhausted retries", label), lastErr)
}

// programIDFromTransport extracts a program identifier for manifest address
// derivation when the caller already knows the manifest exists but needs
// its address for the result; for ProgramTransport this is exact, for
// HTTPTransport it falls back to the zero identifier (the manifest address
// returned to CLI callers there is cosmetic/debugging-only, not load-bearing).
func programIDFromTransport(t Transport) [32]byte {
	if pt, ok := t.(*ProgramTransport); ok {
		return pt.Program.ProgramID()
	}
	return [32]byte{}
}
