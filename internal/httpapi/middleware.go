package httpapi

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/orneryd/registry/internal/rerrors"
	"github.com/orneryd/registry/internal/sequencer"
)

// SeqHeader is the read-your-writes sequencing header name.
const SeqHeader = "x-registry-opt-seq"

// ManagementCodeHeader gates Raft-internal and management endpoints.
const ManagementCodeHeader = "x-registry-management-code"

const optSeqWaitTimeout = 5 * time.Second

// SequencerMiddleware blocks a request carrying x-registry-opt-seq until the
// FSM's last-applied index reaches that value (bounded by optSeqWaitTimeout),
// then stamps the response with the node's last-applied index as of the
// moment the status line is written. Stamping happens lazily, in
// seqRecorder's WriteHeader, so a write's response carries the index the
// write itself produced rather than the index observed on entry.
func SequencerMiddleware(seq *sequencer.Sequencer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if raw := r.Header.Get(SeqHeader); raw != "" {
				minSeq, err := strconv.ParseUint(raw, 10, 64)
				if err == nil {
					ctx, cancel := context.WithTimeout(r.Context(), optSeqWaitTimeout)
					defer cancel()
					if !seq.WaitFor(ctx, minSeq) {
						WriteError(w, rerrors.ServiceUnavailablef("timed out waiting for opt-seq %d", minSeq))
						return
					}
					r = r.WithContext(ctx)
				}
			}
			rec := &seqRecorder{ResponseWriter: w, seq: seq}
			next.ServeHTTP(rec, r)
		})
	}
}

// seqRecorder stamps SeqHeader with the sequencer's current index the
// instant the status line is written, so a write response reflects the
// index it just produced rather than the index observed when the request
// arrived.
type seqRecorder struct {
	http.ResponseWriter
	seq     *sequencer.Sequencer
	stamped bool
}

func (r *seqRecorder) stamp() {
	if !r.stamped {
		r.stamped = true
		r.Header().Set(SeqHeader, strconv.FormatUint(r.seq.Current(), 10))
	}
}

func (r *seqRecorder) WriteHeader(status int) {
	r.stamp()
	r.ResponseWriter.WriteHeader(status)
}

func (r *seqRecorder) Write(b []byte) (int, error) {
	r.stamp()
	return r.ResponseWriter.Write(b)
}

// ManagementAuth rejects requests whose x-registry-management-code header
// does not match code.
func ManagementAuth(code string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get(ManagementCodeHeader) != code {
				WriteError(w, rerrors.Forbiddenf("management code mismatch"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestLogger logs method, path, status, and duration for every request
// using a stdlib *log.Logger.
func RequestLogger(logger *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rec.status, time.Since(start))
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
