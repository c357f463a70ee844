// Package serving implements the single-inference-slot scheduler: request
// admission, the processing flag, the background drainer, and the Run /
// Status / Result operations callers drive through the RPC surface.
package serving

import (
	"context"
	"fmt"
	"sync"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/cylonrun/cylon/internal/generation"
	"github.com/cylonrun/cylon/internal/logging"
	"github.com/cylonrun/cylon/internal/model"
	"github.com/cylonrun/cylon/internal/promptqueue"
	"github.com/cylonrun/cylon/internal/resultcache"
	"github.com/cylonrun/cylon/internal/rpc"
	"github.com/cylonrun/cylon/internal/servingerrors"
)

// Core is the serving core: one loaded backend behind a single-slot guard,
// a prompt queue, and a result cache.
type Core struct {
	backend   model.Backend
	logger    *slog.Logger
	errLogger *logging.ErrorLogger

	genConfig    generation.Config
	systemPrompt rpc.Message

	queue         *promptqueue.Queue
	cache         *resultcache.Cache
	queueDisabled bool

	// modelMu is the single inference slot: at most one forward-pass loop
	// may run at a time, whether reached via the immediate path or the
	// drainer.
	modelMu sync.Mutex

	// stateMu guards processing. A transition to true obligates the holder
	// to spawn a drainer that eventually sets it back to false once the
	// queue is empty.
	stateMu    sync.Mutex
	processing bool
}

// Config bundles the pieces Core needs beyond the backend itself.
type Config struct {
	SystemPrompt    string
	QueueDisabled   bool
	QueueBufferSize int
	ResultCacheTTL  time.Duration
	Generation      generation.Config
	// ErrorLogger, if non-nil, receives one record per failed generation
	// (immediate path or drained), tagged with the phase that failed.
	ErrorLogger *logging.ErrorLogger
}

// New constructs a Core wired to backend. The prompt queue and result cache
// are owned by the Core; callers should run resultcache.RunEvictionLoop
// against Cache() in a background goroutine for the lifetime of the
// process.
func New(backend model.Backend, logger *slog.Logger, cfg Config) *Core {
	return &Core{
		backend:       backend,
		logger:        logger,
		errLogger:     cfg.ErrorLogger,
		genConfig:     cfg.Generation,
		systemPrompt:  rpc.Message{Role: "system", Content: cfg.SystemPrompt},
		queue:         promptqueue.New(cfg.QueueBufferSize),
		cache:         resultcache.New(cfg.ResultCacheTTL),
		queueDisabled: cfg.QueueDisabled,
	}
}

// Cache exposes the result cache so callers (e.g. main) can start the
// background eviction loop against it.
func (c *Core) Cache() *resultcache.Cache {
	return c.cache
}

// Run admits request, generating a fresh job id, and branches on whether the
// queue is disabled and, if not, whether the model is already processing.
func (c *Core) Run(ctx context.Context, request rpc.InferenceRunRequest) (rpc.InferenceRunReply, error) {
	jobID := uuid.NewString()

	if c.queueDisabled {
		reply, err := c.runImmediate(ctx, jobID, request, rpc.StatusOK)
		if err != nil {
			return rpc.InferenceRunReply{}, err
		}
		return reply, nil
	}

	// The processing-flag check and, on the busy branch, the enqueue itself
	// must happen under the same lock as the drainer's empty-queue exit
	// check below: otherwise a job can be enqueued in the window between
	// the drainer observing an empty queue and it clearing processing,
	// and then starve forever with processing left false and nobody
	// watching the queue.
	c.stateMu.Lock()
	if !c.processing {
		c.processing = true
		c.stateMu.Unlock()

		reply, err := c.runImmediate(ctx, jobID, request, rpc.StatusOK)
		if err != nil {
			// Jobs may have been enqueued while this call held the slot; the
			// drainer runs them and clears processing once the queue is empty.
			go c.drain()
			return rpc.InferenceRunReply{}, err
		}
		go c.drain()
		return reply, nil
	}

	job := rpc.QueuedJob{JobID: jobID, Request: request}
	err := c.queue.Enqueue(job)
	c.stateMu.Unlock()
	if err != nil {
		return rpc.InferenceRunReply{}, servingerrors.Wrap(servingerrors.ErrQueueFull, err)
	}
	c.cache.Insert(jobID, rpc.InferenceRunReply{Status: rpc.StatusQueued, UUID: jobID})
	return rpc.InferenceRunReply{Status: rpc.StatusQueued, UUID: jobID}, nil
}

// Status reports the stored job status, or servingerrors.ErrNotFound if no
// entry exists under jobID.
func (c *Core) Status(jobID string) (rpc.Status, error) {
	reply, ok := c.cache.Get(jobID)
	if !ok {
		return "", servingerrors.ErrNotFound
	}
	return reply.Status, nil
}

// Result reports the stored response, or servingerrors.ErrNotFound if no
// entry exists under jobID. The response is nil for QUEUED and ERROR jobs.
func (c *Core) Result(jobID string) (*rpc.Message, error) {
	reply, ok := c.cache.Get(jobID)
	if !ok {
		return nil, servingerrors.ErrNotFound
	}
	return reply.Response, nil
}

// runImmediate renders and generates synchronously under the model's single
// slot, returning a reply carrying successStatus. The job's final reply is
// also recorded in the result cache so later Status/Result lookups succeed
// for immediate-path jobs too.
func (c *Core) runImmediate(ctx context.Context, jobID string, request rpc.InferenceRunRequest, successStatus rpc.Status) (rpc.InferenceRunReply, error) {
	response, err := c.generate(ctx, jobID, request)
	if err != nil {
		return rpc.InferenceRunReply{}, err
	}
	reply := rpc.InferenceRunReply{Response: response, Status: successStatus, UUID: jobID}
	c.cache.Insert(jobID, reply)
	return reply, nil
}

// generate renders request's messages (with the process-wide system prompt
// prepended), runs the generation loop under the single model slot, and
// decodes the result.
func (c *Core) generate(ctx context.Context, jobID string, request rpc.InferenceRunRequest) (*rpc.Message, error) {
	messages := make([]rpc.Message, 0, len(request.Messages)+1)
	messages = append(messages, c.systemPrompt)
	messages = append(messages, request.Messages...)

	prompt, err := c.backend.Render(messages)
	if err != nil {
		return nil, c.fail(jobID, "render", servingerrors.Wrap(servingerrors.ErrGenerationFailed, fmt.Errorf("rendering prompt: %w", err)))
	}

	tokens, err := c.backend.Tokenize(prompt)
	if err != nil {
		return nil, c.fail(jobID, "tokenize", servingerrors.Wrap(servingerrors.ErrGenerationFailed, fmt.Errorf("tokenizing prompt: %w", err)))
	}

	c.modelMu.Lock()
	generated, err := generation.Run(ctx, c.logger, c.backend, tokens, c.genConfig)
	c.modelMu.Unlock()
	if err != nil {
		return nil, c.fail(jobID, "forward", err)
	}

	text, err := c.backend.Decode(generated)
	if err != nil {
		return nil, c.fail(jobID, "decode", servingerrors.Wrap(servingerrors.ErrGenerationFailed, fmt.Errorf("decoding completion: %w", err)))
	}

	return &rpc.Message{Role: "assistant", Content: text}, nil
}

// fail records a generation failure to the error logger, if configured, and
// returns err unchanged so callers can use it inline at the return site.
func (c *Core) fail(jobID, phase string, err error) error {
	if c.errLogger != nil {
		_ = c.errLogger.Log(jobID, phase, err)
	}
	return err
}

// drain processes queued jobs strictly FIFO until the queue is empty, then
// clears the processing flag. It never runs concurrently with the immediate
// path: each iteration takes the same generate path, which serializes on
// modelMu. The dequeue-or-clear-flag decision is made under stateMu, the
// same lock Run's enqueue branch holds, so the empty → exit → clear-flag
// transition is atomic relative to new enqueues.
func (c *Core) drain() {
	for {
		c.stateMu.Lock()
		job, ok := c.queue.Dequeue()
		if !ok {
			c.processing = false
			c.stateMu.Unlock()
			return
		}
		c.stateMu.Unlock()

		response, err := c.generate(context.Background(), job.JobID, job.Request)
		if err != nil {
			if c.logger != nil {
				// Transient failures (a single bad forward/sample step) are
				// routine enough to log at Warn; anything else gets Error so
				// it stands out in the drainer's log stream.
				if servingerrors.IsTransient(err) {
					c.logger.Warn("drainer: generation failed", "job_id", job.JobID, "error", err)
				} else {
					c.logger.Error("drainer: generation failed", "job_id", job.JobID, "error", err)
				}
			}
			c.cache.Insert(job.JobID, rpc.InferenceRunReply{Status: rpc.StatusError, UUID: job.JobID})
			continue
		}
		c.cache.Insert(job.JobID, rpc.InferenceRunReply{Response: response, Status: rpc.StatusCompleted, UUID: job.JobID})
	}
}
