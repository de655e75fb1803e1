package core

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

// FetchPhase is a progress-callback phase, in the fixed order spec §4.6
// promises.
type FetchPhase string

const (
	FetchManifest  FetchPhase = "manifest"
	FetchChunks    FetchPhase = "chunks"
	FetchVerifying FetchPhase = "verifying"
	FetchComplete  FetchPhase = "complete"
)

// FetchEvent is delivered to FetchOptions.OnProgress at each phase boundary.
type FetchEvent struct {
	Phase      FetchPhase
	Loaded     int
	Total      int
	Bytes      uint64
	TotalBytes uint64
}

// FetchOptions configures one Fetch call (spec §4.6).
type FetchOptions struct {
	VerifyHash  bool
	Concurrency int // batches in flight per wave, default CONCURRENT_BATCHES=3
	OnProgress  func(FetchEvent)
	Logger      *logrus.Logger
}

const (
	batchSize                = 100
	defaultConcurrentBatches = 3
	fetchInterWaveSleep      = 100 * time.Millisecond
)

// Fetch runs the read-manifest -> batched-read -> reconstruct -> verify
// pipeline of spec §4.6, first consulting cache, then the transport, in
// bounded-concurrency batches.
func Fetch(ctx context.Context, t Transport, cache *ChunkCache, contentID [32]byte, opts FetchOptions) ([]byte, error) {
	log := opts.Logger
	if log == nil {
		log = logrus.New()
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrentBatches
	}
	emit := func(ev FetchEvent) {
		if opts.OnProgress != nil {
			opts.OnProgress(ev)
		}
	}

	manifest, found, err := t.ReadManifest(ctx, contentID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	emit(FetchEvent{Phase: FetchManifest})

	total := int(manifest.ChunkCount)
	results := make([][]byte, total)
	totalBytes := manifest.BlobSize
	var loadedBytes uint64
	loaded := 0

	var missing []uint32
	if cache != nil {
		for i := uint32(0); i < manifest.ChunkCount; i++ {
			if b, ok := cache.GetChunk(contentID, i); ok {
				results[i] = b
				loaded++
				loadedBytes += uint64(len(b))
			} else {
				missing = append(missing, i)
			}
		}
	} else {
		for i := uint32(0); i < manifest.ChunkCount; i++ {
			missing = append(missing, i)
		}
	}
	emit(FetchEvent{Phase: FetchChunks, Loaded: loaded, Total: total, Bytes: loadedBytes, TotalBytes: totalBytes})

	batches := chunkIndices(missing, batchSize)
	newlyFetched := make(map[uint32][]byte)

	for wave := 0; wave < len(batches); wave += concurrency {
		select {
		case <-ctx.Done():
			return nil, wrapErr(KindCancelled, "fetch cancelled", ctx.Err())
		default:
		}
		end := wave + concurrency
		if end > len(batches) {
			end = len(batches)
		}
		waveBatches := batches[wave:end]

		type batchResult struct {
			indices []uint32
			data    map[uint32][]byte
			err     error
		}
		ch := make(chan batchResult, len(waveBatches))
		for _, b := range waveBatches {
			b := b
			go func() {
				data, err := readBatchWithFailover(ctx, t, contentID, manifest.ChunkSize, b)
				ch <- batchResult{indices: b, data: data, err: err}
			}()
		}
		for range waveBatches {
			r := <-ch
			if r.err != nil {
				return nil, r.err
			}
			for _, idx := range r.indices {
				data, ok := r.data[idx]
				if !ok {
					continue // stays nil; checked after all waves per spec §4.6 step 6
				}
				results[idx] = data
				newlyFetched[idx] = data
				loaded++
				loadedBytes += uint64(len(data))
			}
		}
		emit(FetchEvent{Phase: FetchChunks, Loaded: loaded, Total: total, Bytes: loadedBytes, TotalBytes: totalBytes})

		if end < len(batches) {
			select {
			case <-time.After(fetchInterWaveSleep):
			case <-ctx.Done():
				return nil, wrapErr(KindCancelled, "fetch cancelled", ctx.Err())
			}
		}
	}

	var stillMissing []uint32
	for i, r := range results {
		if r == nil {
			stillMissing = append(stillMissing, uint32(i))
		}
	}
	if len(stillMissing) > 0 {
		return nil, &Error{Kind: KindMissing, Message: "chunks missing after all waves", Indices: stillMissing, Address: fmt.Sprintf("%x", contentID)}
	}

	blob := make([]byte, 0, manifest.BlobSize)
	for _, r := range results {
		blob = append(blob, r...)
	}

	if opts.VerifyHash {
		emit(FetchEvent{Phase: FetchVerifying})
		got := sha256.Sum256(blob)
		if !bytes.Equal(got[:], manifest.SHA256[:]) {
			if cache != nil {
				cache.ClearChunks(contentID, manifest.ChunkCount)
				cache.ClearFile(contentID, manifest.SHA256)
			}
			return nil, &Error{Kind: KindIntegrity, Message: "reconstructed blob does not match declared sha256", Address: fmt.Sprintf("%x", contentID)}
		}
	}

	if cache != nil && len(newlyFetched) > 0 {
		// Persist as a background task; errors are logged, non-fatal
		// (spec §4.6 step 9).
		go func(batch map[uint32][]byte) {
			if err := cache.PutChunks(contentID, batch); err != nil {
				log.Warnf("fetch: cache persist failed for %x: %v", contentID, err)
			}
		}(newlyFetched)
	}

	emit(FetchEvent{Phase: FetchComplete})
	return blob, nil
}

// readBatchWithFailover reads one batch of up to batchSize chunks (spec §4.6
// step 4). Endpoint failover and Retry-After handling live in the Transport
// itself (HTTPTransport.call tries up to 2*endpoints.len() attempts); this
// wrapper only adds one extra retry, after a fixed 1 s pause, when the
// Transport returns a RateLimited error. Any other error is returned as is.
func readBatchWithFailover(ctx context.Context, t Transport, contentID [32]byte, chunkSize uint32, indices []uint32) (map[uint32][]byte, error) {
	data, err := t.ReadChunkBatch(ctx, contentID, chunkSize, indices)
	if err == nil {
		return data, nil
	}
	e, ok := err.(*Error)
	if !ok || e.Kind != KindRateLimited {
		return nil, err
	}
	select {
	case <-time.After(time.Second):
	case <-ctx.Done():
		return nil, wrapErr(KindCancelled, "fetch cancelled", ctx.Err())
	}
	return t.ReadChunkBatch(ctx, contentID, chunkSize, indices)
}

func chunkIndices(indices []uint32, size int) [][]uint32 {
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	var out [][]uint32
	for i := 0; i < len(indices); i += size {
		end := i + size
		if end > len(indices) {
			end = len(indices)
		}
		out = append(out, indices[i:end])
	}
	return out
}
