// Package handlers provides the HTTP handlers of the translation API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/gtranslate-go/internal/browser"
	"github.com/Rorqualx/gtranslate-go/internal/config"
	"github.com/Rorqualx/gtranslate-go/internal/metrics"
	"github.com/Rorqualx/gtranslate-go/internal/translate"
	"github.com/Rorqualx/gtranslate-go/internal/types"
	"github.com/Rorqualx/gtranslate-go/pkg/version"
)

// Response messages shared with the original API clients.
const (
	msgNoAvailablePages = "No available pages"
	msgInternalError    = "Internal Server Error"
	msgTimeout          = "Translation timed out"
	msgBlocked          = "Translation host is rate limiting this server"
	msgBodyTooLarge     = "request body too large"
)

const maxBodySize = 64 << 10

var errBodyTooLarge = errors.New(msgBodyTooLarge)

// SessionPool is the part of *browser.Pool the handlers use.
type SessionPool interface {
	With(ctx context.Context, fn func(ctx context.Context, s *browser.Session) error) error
	Size() int
	Available() int
	InUse() int
	Generation() uint64
	Healthy() bool
}

// Handler serves the translation API.
type Handler struct {
	pool       SessionPool
	translator translate.Translator
	config     *config.Config
}

// New creates a new Handler.
func New(pool SessionPool, translator translate.Translator, cfg *config.Config) *Handler {
	return &Handler{
		pool:       pool,
		translator: translator,
		config:     cfg,
	}
}

// apiBody mirrors TranslateRequest with pointers so that only fields present
// in the JSON body override the query string.
type apiBody struct {
	Text *string `json:"text"`
	From *string `json:"from"`
	To   *string `json:"to"`
	Lite *bool   `json:"lite"`
}

// parseRequest reads text/from/to/lite from the query string, then lets a
// JSON body override whatever it sets. A body over maxBodySize returns
// errBodyTooLarge; any other unreadable or non-JSON body is ignored.
func parseRequest(r *http.Request) (types.TranslateRequest, error) {
	q := r.URL.Query()
	req := types.TranslateRequest{
		Text: q.Get("text"),
		From: q.Get("from"),
		To:   q.Get("to"),
	}
	if lite, err := strconv.ParseBool(q.Get("lite")); err == nil {
		req.Lite = lite
	}

	if r.Body == nil || r.Body == http.NoBody {
		return req, nil
	}

	buf := requestBuffers.get()
	defer requestBuffers.put(buf)

	if _, err := io.Copy(buf, r.Body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return req, errBodyTooLarge
		}
		log.Debug().Err(err).Msg("Failed to read request body, using query parameters")
		return req, nil
	}
	if buf.Len() == 0 {
		return req, nil
	}

	var body apiBody
	if err := json.Unmarshal(buf.Bytes(), &body); err != nil {
		log.Debug().Err(err).Msg("Ignoring non-JSON request body")
		return req, nil
	}

	if body.Text != nil {
		req.Text = *body.Text
	}
	if body.From != nil {
		req.From = *body.From
	}
	if body.To != nil {
		req.To = *body.To
	}
	if body.Lite != nil {
		req.Lite = *body.Lite
	}
	return req, nil
}

// HandleAPI handles GET and POST /api.
func (h *Handler) HandleAPI(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	defer r.Body.Close()

	req, err := parseRequest(r)
	if err != nil {
		metrics.RecordTranslate("invalid", time.Since(startTime))
		h.writeError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	}
	req.ApplyDefaults()

	if err := req.Validate(); err != nil {
		metrics.RecordTranslate("invalid", time.Since(startTime))
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	log.Info().
		Str("from", req.From).
		Str("to", req.To).
		Int("text_len", len(req.Text)).
		Bool("lite", req.Lite).
		Msg("Translation requested")

	ctx := r.Context()
	if h.config != nil && h.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.config.RequestTimeout)
		defer cancel()
	}

	var result *types.TranslateResult
	err = h.pool.With(ctx, func(ctx context.Context, s *browser.Session) error {
		res, err := h.translator.Translate(ctx, s, req)
		if err != nil {
			return err
		}
		result = res
		return nil
	})

	switch {
	case err == nil:
		metrics.RecordTranslate("ok", time.Since(startTime))
		log.Info().
			Str("host", result.Host).
			Dur("duration", time.Since(startTime)).
			Msg("Translation completed")
		h.writeJSON(w, http.StatusOK, result)

	case errors.Is(err, types.ErrNoAvailableSessions), errors.Is(err, types.ErrPoolClosed):
		metrics.RecordTranslate("unavailable", time.Since(startTime))
		log.Warn().Msg("No session available for translation")
		h.writeError(w, http.StatusServiceUnavailable, msgNoAvailablePages)

	case errors.Is(err, types.ErrTargetBlocked):
		metrics.RecordTranslate("blocked", time.Since(startTime))
		log.Warn().Err(err).Msg("Translation blocked by host")
		h.writeError(w, http.StatusServiceUnavailable, msgBlocked)

	case errors.Is(err, context.DeadlineExceeded):
		metrics.RecordTranslate("timeout", time.Since(startTime))
		log.Warn().Err(err).Dur("duration", time.Since(startTime)).Msg("Translation timed out")
		h.writeError(w, http.StatusGatewayTimeout, msgTimeout)

	default:
		metrics.RecordTranslate("error", time.Since(startTime))
		log.Error().Err(err).Dur("duration", time.Since(startTime)).Msg("Translation failed")
		h.writeError(w, http.StatusInternalServerError, msgInternalError)
	}
}

// HandleHealth reports pool state. It answers 503 while the pool has no
// live browser, for example after a failed recycle.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := types.HealthResponse{
		Status:     types.StatusOK,
		PoolSize:   h.pool.Size(),
		Available:  h.pool.Available(),
		InUse:      h.pool.InUse(),
		Generation: h.pool.Generation(),
		Version:    version.Full(),
	}

	status := http.StatusOK
	if !h.pool.Healthy() {
		resp.Status = types.StatusDegraded
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, resp)
}

// HandleMethodNotAllowed handles requests with unsupported HTTP methods.
func (h *Handler) HandleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
}

func (h *Handler) writeError(w http.ResponseWriter, statusCode int, message string) {
	h.writeJSON(w, statusCode, types.NewErrorResponse(message))
}

// writeJSON buffers the encoded body so an encoding failure can still
// produce a clean 500 instead of a partial response.
func (h *Handler) writeJSON(w http.ResponseWriter, statusCode int, v any) {
	buf := responseBuffers.get()
	defer responseBuffers.put(buf)

	if err := json.NewEncoder(buf).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":1,"message":"Internal Server Error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	_, _ = w.Write(buf.Bytes())
}
