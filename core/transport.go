package core

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Transport is the abstraction the publish/fetch pipelines talk to (spec
// §4.8/§9: "The ledger interface is a dynamically typed wire protocol. The
// core treats it as an untyped byte transport"). ProgramTransport and
// HTTPTransport both implement it, so pipelines are oblivious to whether
// they're driving an in-process program or a real JSON-RPC endpoint pool.
type Transport interface {
	SubmitCreateManifest(ctx context.Context, publisher [32]byte, contentID [32]byte, blobSize uint64, chunkSize uint32, sha256 [32]byte, metadata []byte) (txID string, err error)
	SubmitWriteChunk(ctx context.Context, publisher [32]byte, contentID [32]byte, chunkIndex uint32, payload []byte) (txID string, err error)
	SubmitFinalize(ctx context.Context, publisher [32]byte, contentID [32]byte, pageIndex uint32) (txID string, err error)
	ReadManifest(ctx context.Context, contentID [32]byte) (CartridgeManifest, bool, error)
	ReadChunkBatch(ctx context.Context, contentID [32]byte, chunkSize uint32, indices []uint32) (map[uint32][]byte, error)
	ReadRoot(ctx context.Context) (CatalogRoot, error)
	ReadPage(ctx context.Context, pageIndex uint32) (CatalogPage, bool, error)
}

// --- ProgramTransport: in-process fake, and the local devnet backend -----

// ProgramTransport adapts a *Program to the Transport interface directly,
// with no network hop. It is used both by local CLI commands run without
// --url (init, balance, list, info, publish, fetch — spec §6) against an
// embedded devnet-style program, and
// by tests as a fast, deterministic stand-in for HTTPTransport.
type ProgramTransport struct {
	Program *Program
}

func (t *ProgramTransport) SubmitCreateManifest(_ context.Context, publisher, contentID [32]byte, blobSize uint64, chunkSize uint32, sha256 [32]byte, metadata []byte) (string, error) {
	if _, err := t.Program.CreateManifest(publisher, contentID, blobSize, chunkSize, sha256, metadata); err != nil {
		return "", err
	}
	return uuid.NewString(), nil
}

func (t *ProgramTransport) SubmitWriteChunk(_ context.Context, publisher, contentID [32]byte, chunkIndex uint32, payload []byte) (string, error) {
	if _, err := t.Program.WriteChunk(publisher, contentID, chunkIndex, payload); err != nil {
		return "", err
	}
	return uuid.NewString(), nil
}

func (t *ProgramTransport) SubmitFinalize(_ context.Context, publisher, contentID [32]byte, pageIndex uint32) (string, error) {
	if _, err := t.Program.FinalizeCartridge(publisher, contentID, pageIndex); err != nil {
		return "", err
	}
	return uuid.NewString(), nil
}

func (t *ProgramTransport) ReadManifest(_ context.Context, contentID [32]byte) (CartridgeManifest, bool, error) {
	return t.Program.ReadManifest(contentID)
}

func (t *ProgramTransport) ReadChunkBatch(_ context.Context, contentID [32]byte, chunkSize uint32, indices []uint32) (map[uint32][]byte, error) {
	out := make(map[uint32][]byte, len(indices))
	for _, idx := range indices {
		c, ok, err := t.Program.ReadChunk(contentID, idx, chunkSize)
		if err != nil {
			return nil, err
		}
		if ok {
			out[idx] = c.Data[:c.DataLen]
		}
	}
	return out, nil
}

func (t *ProgramTransport) ReadRoot(_ context.Context) (CatalogRoot, error) { return t.Program.ReadRoot() }

func (t *ProgramTransport) ReadPage(_ context.Context, pageIndex uint32) (CatalogPage, bool, error) {
	return t.Program.ReadPage(pageIndex)
}

// --- HTTPTransport: real JSON-RPC endpoint pool ---------------------------

// HTTPTransportConfig configures an HTTPTransport.
type HTTPTransportConfig struct {
	Endpoints  []string
	Gate       *RateGate // nil uses the reference R=40/W=10s gate
	HTTPClient *http.Client
	Logger     *logrus.Logger
}

// HTTPTransport submits/reads against a pool of JSON-RPC endpoints with
// round-robin failover and 429-aware back-off (spec §4.8), grounded on the
// teacher's core/connection_pool.go pooling pattern generalized from raw
// net.Conn reuse to RPC calls, and on cmd/xchainserver/main.go's net/http +
// JSON-body request/response style.
type HTTPTransport struct {
	pool   *EndpointPool
	client *http.Client
	log    *logrus.Logger
}

// NewHTTPTransport builds a transport over the configured endpoint pool.
func NewHTTPTransport(cfg HTTPTransportConfig) *HTTPTransport {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.New()
	}
	return &HTTPTransport{pool: NewEndpointPool(cfg.Endpoints, cfg.Gate), client: client, log: log}
}

type rpcCall struct {
	Method string
	Params interface{}
	Result interface{}
}

// call performs one JSON-RPC call against the pool, round-robining on
// failure and honouring Retry-After on rate-limit signals, up to
// pool.MaxAttempts() total attempts (spec §4.6 step 4, §4.8).
func (h *HTTPTransport) call(ctx context.Context, c rpcCall) error {
	attempts := h.pool.MaxAttempts()
	if attempts == 0 {
		return newErr(KindTransport, "no endpoints configured")
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		ep := h.pool.Pick()
		if err := h.pool.WaitIfPublic(ctx, ep); err != nil {
			return wrapErr(KindCancelled, "rate gate wait cancelled", err)
		}

		body, err := jsonRPCEnvelope(c.Method, c.Params)
		if err != nil {
			return wrapErr(KindTransport, "encode json-rpc request", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
		if err != nil {
			return wrapErr(KindTransport, "build request", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := h.client.Do(req)
		if err != nil {
			lastErr = &Error{Kind: KindTransport, Message: "request failed", Endpoint: ep.URL, Err: err}
			select {
			case <-ctx.Done():
				return wrapErr(KindCancelled, "context cancelled", ctx.Err())
			default:
			}
			continue
		}
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
		resp.Body.Close()

		if IsRateLimitSignal(resp.StatusCode, respBody) {
			d := ParseRetryAfter(resp.Header.Get("Retry-After"), respBody, "")
			h.pool.Gate().AdvanceRetryAfter(d)
			h.log.Warnf("transport: rate limited by %s, retry after %s", ep.URL, d)
			lastErr = &Error{Kind: KindRateLimited, Message: "endpoint signalled rate limit", Endpoint: ep.URL}
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return wrapErr(KindCancelled, "context cancelled", ctx.Err())
			}
			continue
		}
		if resp.StatusCode != http.StatusOK {
			lastErr = &Error{Kind: KindTransport, Message: fmt.Sprintf("http %d: %s", resp.StatusCode, trimBody(respBody, 256)), Endpoint: ep.URL}
			continue
		}
		return decodeJSONRPCResult(respBody, c.Result)
	}
	return wrapErr(KindTransport, "endpoint pool exhausted", lastErr)
}

type manifestParams struct {
	Publisher [32]byte `json:"publisher"`
	ContentID [32]byte `json:"content_id"`
	BlobSize  uint64   `json:"blob_size"`
	ChunkSize uint32   `json:"chunk_size"`
	SHA256    [32]byte `json:"sha256"`
	Metadata  []byte   `json:"metadata"`
}

func (h *HTTPTransport) SubmitCreateManifest(ctx context.Context, publisher, contentID [32]byte, blobSize uint64, chunkSize uint32, sha256 [32]byte, metadata []byte) (string, error) {
	var txID string
	err := h.call(ctx, rpcCall{Method: "createManifest", Params: manifestParams{publisher, contentID, blobSize, chunkSize, sha256, metadata}, Result: &txID})
	return txID, err
}

type writeChunkParams struct {
	Publisher  [32]byte `json:"publisher"`
	ContentID  [32]byte `json:"content_id"`
	ChunkIndex uint32   `json:"chunk_index"`
	Payload    []byte   `json:"payload"`
}

func (h *HTTPTransport) SubmitWriteChunk(ctx context.Context, publisher, contentID [32]byte, chunkIndex uint32, payload []byte) (string, error) {
	var txID string
	err := h.call(ctx, rpcCall{Method: "writeChunk", Params: writeChunkParams{publisher, contentID, chunkIndex, payload}, Result: &txID})
	return txID, err
}

type finalizeParams struct {
	Publisher [32]byte `json:"publisher"`
	ContentID [32]byte `json:"content_id"`
	PageIndex uint32   `json:"page_index"`
}

func (h *HTTPTransport) SubmitFinalize(ctx context.Context, publisher, contentID [32]byte, pageIndex uint32) (string, error) {
	var txID string
	err := h.call(ctx, rpcCall{Method: "finalizeCartridge", Params: finalizeParams{publisher, contentID, pageIndex}, Result: &txID})
	return txID, err
}

func (h *HTTPTransport) ReadManifest(ctx context.Context, contentID [32]byte) (CartridgeManifest, bool, error) {
	var raw struct {
		Found bool   `json:"found"`
		Bytes []byte `json:"bytes"`
	}
	if err := h.call(ctx, rpcCall{Method: "getManifest", Params: map[string]interface{}{"content_id": contentID}, Result: &raw}); err != nil {
		return CartridgeManifest{}, false, err
	}
	if !raw.Found {
		return CartridgeManifest{}, false, nil
	}
	m, err := DecodeCartridgeManifest(raw.Bytes)
	return m, true, err
}

func (h *HTTPTransport) ReadChunkBatch(ctx context.Context, contentID [32]byte, chunkSize uint32, indices []uint32) (map[uint32][]byte, error) {
	var raw struct {
		Chunks map[string][]byte `json:"chunks"` // index (decimal string) -> raw account bytes
	}
	if err := h.call(ctx, rpcCall{Method: "getChunks", Params: map[string]interface{}{"content_id": contentID, "indices": indices}, Result: &raw}); err != nil {
		return nil, err
	}
	out := make(map[uint32][]byte, len(indices))
	for _, idx := range indices {
		key := fmt.Sprintf("%d", idx)
		b, ok := raw.Chunks[key]
		if !ok {
			continue
		}
		c, err := DecodeCartridgeChunk(b, chunkSize)
		if err != nil {
			return nil, err
		}
		out[idx] = c.Data[:c.DataLen]
	}
	return out, nil
}

func (h *HTTPTransport) ReadRoot(ctx context.Context) (CatalogRoot, error) {
	var raw []byte
	if err := h.call(ctx, rpcCall{Method: "getCatalogRoot", Result: &raw}); err != nil {
		return CatalogRoot{}, err
	}
	return DecodeCatalogRoot(raw)
}

func (h *HTTPTransport) ReadPage(ctx context.Context, pageIndex uint32) (CatalogPage, bool, error) {
	var raw struct {
		Found bool   `json:"found"`
		Bytes []byte `json:"bytes"`
	}
	if err := h.call(ctx, rpcCall{Method: "getCatalogPage", Params: map[string]interface{}{"page_index": pageIndex}, Result: &raw}); err != nil {
		return CatalogPage{}, false, err
	}
	if !raw.Found {
		return CatalogPage{}, false, nil
	}
	p, err := DecodeCatalogPage(raw.Bytes)
	return p, true, err
}
