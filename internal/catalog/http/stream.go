package http

import (
	"encoding/json"
	"iter"
	"log/slog"
	"net/http"
	"time"

	"github.com/joseosorio28/webflux-api/internal/catalog"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

const ndjsonContentType = "application/x-ndjson"

// streamState tracks the paced responder through
// Idle -> Producing -> (Flushing <-> Producing) -> Completed | Failed.
// Once a terminal state is reached no further flushes happen.
type streamState int

const (
	streamIdle streamState = iota
	streamProducing
	streamFlushing
	streamCompleted
	streamFailed
)

// productStream delivers a lazily-produced product sequence as an
// incrementally flushed NDJSON body. Elements are pulled from the
// sequence one at a time, so peak memory is bounded by one in-flight
// batch regardless of sequence length, and transport back-pressure
// propagates to the producer through the blocking write.
type productStream struct {
	delay    time.Duration
	batch    int
	streamed prometheus.Counter
	logger   *slog.Logger

	state   streamState
	emitted int
	pending int
}

func newProductStream(delay time.Duration, batch int, streamed prometheus.Counter, logger *slog.Logger) *productStream {
	if batch < 1 {
		batch = 1
	}
	return &productStream{
		delay:    delay,
		batch:    batch,
		streamed: streamed,
		logger:   logger,
		state:    streamIdle,
	}
}

func (st *productStream) run(c *gin.Context, seq iter.Seq2[catalog.Product, error]) {
	ctx := c.Request.Context()
	enc := json.NewEncoder(c.Writer)

	c.Header("Content-Type", ndjsonContentType)
	c.Status(http.StatusOK)

	st.state = streamProducing
	for p, err := range seq {
		if err != nil {
			st.fail(c, err)
			return
		}

		if st.delay > 0 {
			timer := time.NewTimer(st.delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				st.fail(c, ctx.Err())
				return
			case <-timer.C:
			}
		}
		if ctx.Err() != nil {
			st.fail(c, ctx.Err())
			return
		}

		if err := enc.Encode(p); err != nil {
			st.fail(c, err)
			return
		}
		st.streamed.Inc()
		st.emitted++
		st.pending++

		if st.pending >= st.batch {
			st.flush(c)
		}
	}

	st.state = streamCompleted
	if st.pending > 0 {
		c.Writer.Flush()
	}
}

func (st *productStream) flush(c *gin.Context) {
	st.state = streamFlushing
	c.Writer.Flush()
	st.pending = 0
	st.state = streamProducing
}

// fail is terminal. When nothing has been written yet the failure maps
// to a 500; mid-stream the response status is already on the wire, so
// the body is simply truncated and the error logged.
func (st *productStream) fail(c *gin.Context, err error) {
	if st.state == streamCompleted || st.state == streamFailed {
		return
	}
	st.state = streamFailed

	st.logger.Error("product stream aborted",
		"emitted", st.emitted,
		"path", c.Request.URL.Path,
		"error", err,
	)
	if st.emitted == 0 {
		// Nothing is on the wire yet, so the status and content type
		// can still be replaced by an error body.
		c.Writer.Header().Del("Content-Type")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "failed to stream products"})
	}
}
