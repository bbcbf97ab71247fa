package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"github.com/MoonshotLab/carmen/internal/domain"
	"github.com/MoonshotLab/carmen/internal/stats"
	"github.com/MoonshotLab/carmen/internal/usecase"
)

const (
	correlationHeader  = "X-Correlation-Id"
	signatureHeader    = "X-Twilio-Signature"
	emptyTwiML         = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`
	snapshotFilePrefix = "carmen-stats"
	documentFilePrefix = "carmen-stats-db"
)

type Conversation interface {
	Handle(ctx context.Context, msg domain.InboundMessage) ([]domain.Reply, error)
	Deliver(ctx context.Context, replies []domain.Reply) error
}

type StatsReader interface {
	Snapshot() stats.Snapshot
	Document() *domain.StatsDocument
}

type SignatureValidator interface {
	ValidateSignature(ctx context.Context, webhookURL string, params url.Values, signature string) (bool, error)
}

type Handler struct {
	conversation Conversation
	stats        StatsReader

	validator  SignatureValidator
	webhookURL string
	adminToken string
	background func(func())
	card       *ContactCard
	now        func() time.Time
}

type Option func(*Handler)

// WithSignatureCheck rejects webhook calls whose signature does not match
// webhookURL. An empty URL leaves the check off.
func WithSignatureCheck(v SignatureValidator, webhookURL string) Option {
	return func(h *Handler) {
		h.validator = v
		h.webhookURL = strings.TrimSpace(webhookURL)
	}
}

// WithAdminToken protects the stats downloads with a bearer token.
func WithAdminToken(token string) Option {
	return func(h *Handler) {
		h.adminToken = strings.TrimSpace(token)
	}
}

// WithBackgroundDelivery hands reply delivery to run instead of sending
// before the webhook returns. Used by the long-running server.
func WithBackgroundDelivery(run func(func())) Option {
	return func(h *Handler) {
		h.background = run
	}
}

func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		h.now = now
	}
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type healthResponse struct {
	Status string `json:"status"`
}

func NewHandler(c Conversation, s StatsReader, opts ...Option) (*Handler, error) {
	if c == nil {
		return nil, errors.New("handler: conversation must not be nil")
	}
	if s == nil {
		return nil, errors.New("handler: stats reader must not be nil")
	}
	h := &Handler{conversation: c, stats: s, now: time.Now}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	correlationID := header(req.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	logger := slog.With("correlationId", correlationID, "method", req.HTTPMethod, "path", req.Path)

	var resp events.APIGatewayProxyResponse
	switch route(req.HTTPMethod, req.Path) {
	case "POST /sms":
		resp = h.handleSMS(ctx, logger, req)
	case "GET /stats":
		resp = h.handleSnapshot(logger, req)
	case "GET /stats/db":
		resp = h.handleDocument(logger, req)
	case "GET /vcard":
		resp = h.handleVCard()
	case "GET /health":
		resp = jsonResponse(http.StatusOK, healthResponse{Status: "ok"})
	default:
		resp = jsonResponse(http.StatusNotFound, errorResponse{Error: "NOT_FOUND", Message: "route not found"})
	}

	if resp.Headers == nil {
		resp.Headers = map[string]string{}
	}
	resp.Headers[correlationHeader] = correlationID
	return resp, nil
}

func (h *Handler) handleSMS(ctx context.Context, logger *slog.Logger, req events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	body := req.Body
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(body)
		if err != nil {
			logger.Warn("invalid base64 body", "err", err)
			return errorFor(&usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_body", Err: err})
		}
		body = string(decoded)
	}

	form, err := url.ParseQuery(body)
	if err != nil {
		logger.Warn("invalid form body", "err", err)
		return errorFor(&usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_body", Err: err})
	}

	if h.validator != nil && h.webhookURL != "" {
		ok, err := h.validator.ValidateSignature(ctx, h.webhookURL, form, header(req.Headers, signatureHeader))
		if err != nil {
			logger.Error("signature check failed", "err", err)
			return errorFor(&usecase.Error{Code: usecase.ErrorInternal, Reason: "signature_check_failed", Err: err})
		}
		if !ok {
			logger.Warn("rejected webhook with bad signature")
			return errorFor(&usecase.Error{Code: usecase.ErrorUnauthorized, Reason: "bad_signature"})
		}
	}

	msg := domain.InboundMessage{
		From: form.Get("From"),
		To:   form.Get("To"),
		Text: form.Get("Body"),
	}
	replies, err := h.conversation.Handle(ctx, msg)
	if err != nil {
		logger.Warn("message rejected", "err", err)
		return errorFor(err)
	}

	if h.background != nil {
		dctx := context.WithoutCancel(ctx)
		h.background(func() {
			if err := h.conversation.Deliver(dctx, replies); err != nil {
				logger.Error("background delivery failed", "err", err)
			}
		})
		return twimlResponse()
	}

	if err := h.conversation.Deliver(ctx, replies); err != nil {
		logger.Error("delivery failed", "err", err)
		return errorFor(err)
	}
	return twimlResponse()
}

func (h *Handler) handleSnapshot(logger *slog.Logger, req events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	if resp, ok := h.authorize(logger, req); !ok {
		return resp
	}
	buf, err := json.MarshalIndent(h.stats.Snapshot(), "", "  ")
	if err != nil {
		return errorFor(&usecase.Error{Code: usecase.ErrorInternal, Reason: "encode_snapshot", Err: err})
	}
	return attachment(buf, stats.ExportFileName(snapshotFilePrefix, h.now()))
}

func (h *Handler) handleDocument(logger *slog.Logger, req events.APIGatewayProxyRequest) events.APIGatewayProxyResponse {
	if resp, ok := h.authorize(logger, req); !ok {
		return resp
	}
	buf, err := stats.MarshalDocument(h.stats.Document())
	if err != nil {
		return errorFor(&usecase.Error{Code: usecase.ErrorInternal, Reason: "encode_document", Err: err})
	}
	return attachment(buf, stats.ExportFileName(documentFilePrefix, h.now()))
}

// authorize checks the bearer token. Downloads stay open when no token is set.
func (h *Handler) authorize(logger *slog.Logger, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, bool) {
	if h.adminToken == "" {
		return events.APIGatewayProxyResponse{}, true
	}
	got, found := strings.CutPrefix(header(req.Headers, "Authorization"), "Bearer ")
	if !found || strings.TrimSpace(got) != h.adminToken {
		logger.Warn("rejected stats download")
		return errorFor(&usecase.Error{Code: usecase.ErrorUnauthorized, Reason: "bad_admin_token"}), false
	}
	return events.APIGatewayProxyResponse{}, true
}

func route(method, path string) string {
	path = strings.TrimRight(path, "/")
	if path == "" {
		path = "/"
	}
	return strings.ToUpper(method) + " " + path
}

// header looks a header up case-insensitively.
func header(headers map[string]string, name string) string {
	if v, ok := headers[name]; ok {
		return strings.TrimSpace(v)
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func errorFor(err error) events.APIGatewayProxyResponse {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		return jsonResponse(http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorInternal), Message: "internal error"})
	}
	return jsonResponse(statusFor(ucErr.Code), errorResponse{Error: string(ucErr.Code), Message: ucErr.Reason})
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest
	case usecase.ErrorUnauthorized:
		return http.StatusUnauthorized
	case usecase.ErrorRateLimited:
		return http.StatusTooManyRequests
	case usecase.ErrorUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func jsonResponse(status int, v any) events.APIGatewayProxyResponse {
	buf, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		buf = []byte(`{"error":"INTERNAL_ERROR","message":"encode response"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(buf),
	}
}

func twimlResponse() events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusOK,
		Headers:    map[string]string{"Content-Type": "text/xml"},
		Body:       emptyTwiML,
	}
}

func attachment(buf []byte, fileName string) events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusOK,
		Headers: map[string]string{
			"Content-Type":        "application/json",
			"Content-Disposition": `attachment; filename="` + fileName + `"`,
		},
		Body: string(buf),
	}
}
