package syncjob

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"bggsync/internal/config"
	"bggsync/internal/core/job"
	"bggsync/internal/logger"
	"bggsync/internal/syncerr"
	"bggsync/internal/utils/parser"
)

// maxClockSkew bounds how old a signed task request may be.
const maxClockSkew = 5 * time.Minute

// TaskRunner executes a queued task type synchronously.
type TaskRunner interface {
	Run(ctx context.Context, taskType string, payload []byte) error
}

type Handler struct {
	dispatcher *Dispatcher
	jobs       job.Store
	tasks      TaskRunner
	cfg        config.Config
	redisOK    func(ctx context.Context) error
	now        func() time.Time
	log        *logger.Logger
}

func NewHandler(d *Dispatcher, jobs job.Store, tasks TaskRunner, cfg config.Config, redisOK func(ctx context.Context) error) *Handler {
	return &Handler{
		dispatcher: d,
		jobs:       jobs,
		tasks:      tasks,
		cfg:        cfg,
		redisOK:    redisOK,
		now:        time.Now,
		log:        logger.New("SyncHandler"),
	}
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type createResponse struct {
	Success bool   `json:"success"`
	RunID   string `json:"run_id"`
}

type configResponse struct {
	Success bool `json:"success"`
	config.Presence
	Redis bool `json:"redis"`
}

type statusResponse struct {
	Success  bool          `json:"success"`
	Run      *job.Run      `json:"run"`
	Outcomes []job.Outcome `json:"outcomes"`
}

func fail(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(errorResponse{Success: false, Error: msg})
}

// HandleCreateSync accepts options from a JSON body or the query string.
func (h *Handler) HandleCreateSync(c *fiber.Ctx) error {
	var req Request
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fail(c, fiber.StatusBadRequest, "invalid body")
		}
	}
	if err := parser.ParseQuery(c, &req); err != nil {
		return fail(c, fiber.StatusBadRequest, err.Error())
	}
	runID, err := h.dispatcher.Start(c.UserContext(), req)
	if err != nil {
		h.log.LogErrorf("sync request rejected: %v", err)
		status := fiber.StatusInternalServerError
		if errors.Is(err, syncerr.ErrConfig) {
			status = fiber.StatusUnprocessableEntity
		}
		return fail(c, status, err.Error())
	}
	return c.Status(fiber.StatusAccepted).JSON(createResponse{Success: true, RunID: runID})
}

func (h *Handler) HandleGetConfig(c *fiber.Ctx) error {
	resp := configResponse{Success: true, Presence: h.cfg.Presence()}
	if h.redisOK != nil {
		resp.Redis = h.redisOK(c.UserContext()) == nil
	}
	return c.JSON(resp)
}

func (h *Handler) HandleGetSync(c *fiber.Ctx) error {
	id := c.Params("runId")
	run, err := h.jobs.Get(c.UserContext(), id)
	if err != nil {
		if errors.Is(err, syncerr.ErrNotFound) {
			return fail(c, fiber.StatusNotFound, "not_found")
		}
		return fail(c, fiber.StatusInternalServerError, err.Error())
	}
	outcomes, err := h.jobs.Outcomes(c.UserContext(), id)
	if err != nil {
		return fail(c, fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(statusResponse{Success: true, Run: run, Outcomes: outcomes})
}

// HandleTask runs one dispatcher or worker unit synchronously for callers
// that push work over HTTP instead of the queue.
func (h *Handler) HandleTask(c *fiber.Ctx) error {
	if h.cfg.SystemAuthSecret == "" {
		return fail(c, fiber.StatusServiceUnavailable, "task endpoint disabled")
	}
	body := c.Body()
	if !h.verify(c.Get("X-System-Timestamp"), c.Get("X-System-Signature"), body) {
		return fail(c, fiber.StatusUnauthorized, "invalid signature")
	}
	taskType := c.Params("type")
	if err := h.tasks.Run(c.UserContext(), taskType, body); err != nil {
		h.log.LogWarnf("task %s failed: %v", taskType, err)
		return fail(c, fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{"success": true, "type": taskType})
}

func (h *Handler) verify(timestamp, signature string, body []byte) bool {
	if timestamp == "" || signature == "" {
		return false
	}
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	skew := h.now().Sub(time.Unix(ts, 0))
	if skew > maxClockSkew || skew < -maxClockSkew {
		return false
	}
	want := Sign(h.cfg.SystemAuthSecret, timestamp, body)
	return hmac.Equal([]byte(want), []byte(signature))
}

// Sign returns the hex HMAC-SHA256 of timestamp followed by payload.
func Sign(secret, timestamp string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
