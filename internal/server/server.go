// Package server provides the HTTP server hosting the AS2 endpoint.
//
// # AS2 Endpoint
//
// POST {server.path} (default /as2) receives inbound AS2 messages and
// answers with a signed synchronous MDN. Every request is recorded in the
// message store; delivered payloads go to the payload store and, when
// configured, to an inbox directory. Retransmitted messages are
// acknowledged without being delivered again.
//
// # Message API (requires X-Admin-Key)
//
//   - GET /api/messages                                  - List messages
//   - GET /api/messages/{messageID}                      - Get message details
//   - GET /api/messages/{messageID}/payloads/{payloadID} - Download a payload
//
// # Health & Metrics
//
//   - GET /health  - Liveness probe
//   - GET /ready   - Readiness probe (pings storage)
//   - GET /metrics - Prometheus metrics (if enabled)
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sirosfoundation/go-as2/internal/config"
	"github.com/sirosfoundation/go-as2/internal/storage"
	"github.com/sirosfoundation/go-as2/pkg/as2"
	"github.com/sirosfoundation/go-as2/pkg/codec"
	"github.com/sirosfoundation/go-as2/pkg/identity"
	"github.com/sirosfoundation/go-as2/pkg/reliability"
	"github.com/sirosfoundation/go-as2/pkg/security"
	"github.com/sirosfoundation/go-as2/pkg/transport"
)

// Server is the AS2 HTTP server
type Server struct {
	config     *config.Config
	logger     *slog.Logger
	httpSrv    *http.Server
	store      storage.Store
	as2Handler *as2.Handler
	duplicates *reliability.DuplicateDetector
}

// New creates a new AS2 server
func New(cfg *config.Config, station *identity.Server, partners identity.Registry, store storage.Store, logger *slog.Logger) (*Server, error) {
	s := &Server{
		config: cfg,
		logger: logger,
		store:  store,
	}
	if cfg.Server.DuplicateWindow > 0 {
		s.duplicates = reliability.NewDuplicateDetector(cfg.Server.DuplicateWindow)
	}

	handlerCfg := &as2.Config{
		Server:         station,
		Registry:       partners,
		ContentHandler: s.deliver,
		MaxBodySize:    cfg.Server.MaxBodySize,
		Logger:         logger,
	}
	if cfg.Server.SignatureFailure == config.SignatureFailureAccept {
		handlerCfg.OnSignatureFailure = s.acceptSignatureFailure
		logger.Warn("messages with invalid signatures will be accepted")
	}

	h, err := as2.NewHandler(handlerCfg)
	if err != nil {
		if s.duplicates != nil {
			s.duplicates.Close()
		}
		return nil, fmt.Errorf("initializing AS2 handler: %w", err)
	}
	s.as2Handler = h

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.httpSrv = &http.Server{
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}
	if cfg.Server.TLS.Enabled {
		s.httpSrv.TLSConfig = transport.DefaultHTTPSConfig().ServerTLSConfig()
	}

	return s, nil
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// Start begins listening on the specified address
func (s *Server) Start(addr string) error {
	s.httpSrv.Addr = addr
	s.logger.Info("starting server", "addr", addr, "tls", s.config.Server.TLS.Enabled, "path", s.config.Server.Path)
	if s.config.Server.TLS.Enabled {
		return s.httpSrv.ListenAndServeTLS(
			s.config.Server.TLS.CertFile,
			s.config.Server.TLS.KeyFile,
		)
	}
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.duplicates != nil {
		s.duplicates.Close()
	}
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		return err
	}
	if s.store != nil {
		return s.store.Close(ctx)
	}
	return nil
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)

	// AS2 endpoint, secured by message-level signatures
	mux.HandleFunc("POST "+s.config.Server.Path, s.handleAS2Inbound)

	if s.config.Server.AdminKey != "" {
		mux.HandleFunc("GET /api/messages", s.withAdmin(s.handleListMessages))
		mux.HandleFunc("GET /api/messages/{messageID}", s.withAdmin(s.handleGetMessage))
		mux.HandleFunc("GET /api/messages/{messageID}/payloads/{payloadID}", s.withAdmin(s.handleGetPayload))
	}

	if s.config.Metrics.Metrics.Enabled {
		mux.Handle("GET "+s.config.Metrics.Metrics.Path, promhttp.Handler())
	}
}

// Middleware

func (s *Server) withAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		apiKey := r.Header.Get("X-Admin-Key")
		if apiKey == "" || apiKey != s.config.Server.AdminKey {
			s.jsonError(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// inbound collects what the content and signature handlers learn about a
// request while it is processed
type inbound struct {
	mu             sync.Mutex
	payloads       []storage.PayloadRef
	signatureError string
	duplicate      bool
}

type contextKey string

const inboundContextKey contextKey = "inbound"

func inboundFromContext(ctx context.Context) *inbound {
	if v, ok := ctx.Value(inboundContextKey).(*inbound); ok {
		return v
	}
	return nil
}

// Health handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, map[string]string{"status": "ok"}, http.StatusOK)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.jsonError(w, "database not ready", http.StatusServiceUnavailable)
		return
	}
	s.jsonResponse(w, map[string]string{"status": "ready"}, http.StatusOK)
}

// AS2 handlers

func (s *Server) handleAS2Inbound(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	defer func() { metricDuration.Observe(time.Since(start).Seconds()) }()

	s.logger.Info("received AS2 message",
		"message_id", r.Header.Get(as2.HeaderMessageID),
		"as2_from", r.Header.Get(as2.HeaderAS2From),
		"content-length", r.ContentLength,
	)

	state := &inbound{}
	ctx := context.WithValue(r.Context(), inboundContextKey, state)

	resp, err := s.as2Handler.ProcessRequest(r.WithContext(ctx))

	record := &storage.Message{
		Direction:    storage.DirectionInbound,
		AS2MessageID: r.Header.Get(as2.HeaderMessageID),
		From:         codec.Unquote(r.Header.Get(as2.HeaderAS2From)),
		To:           codec.Unquote(r.Header.Get(as2.HeaderAS2To)),
		Subject:      r.Header.Get(as2.HeaderSubject),
		ReceivedAt:   start,
	}
	state.mu.Lock()
	record.Payloads = state.payloads
	record.SignatureError = state.signatureError
	record.Duplicate = state.duplicate
	state.mu.Unlock()

	if err != nil {
		s.logger.Error("AS2 processing failed", "message_id", record.AS2MessageID, "error", err)

		record.Status = storage.StatusRejected
		record.LastError = err.Error()
		var verr *security.VerificationError
		if errors.As(err, &verr) {
			record.SignatureError = verr.Error()
		}
		s.persist(r.Context(), record)

		metricMessages.WithLabelValues(string(record.Status)).Inc()
		metricFailures.WithLabelValues(failureReason(err)).Inc()
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	now := time.Now()
	record.ProcessedAt = &now
	record.SignatureValid = resp.SignatureValid
	record.Status = storage.StatusProcessed
	if resp.Failure != nil {
		record.Status = storage.StatusFailed
		record.LastError = resp.Failure.Reason
		metricFailures.WithLabelValues(failureReason(resp.Failure)).Inc()
	}
	record.Receipt = receiptRecord(resp)
	s.persist(r.Context(), record)

	metricMessages.WithLabelValues(string(record.Status)).Inc()
	as2.WriteResponse(w, resp)
}

func receiptRecord(resp *as2.Response) *storage.ReceiptRecord {
	rec := &storage.ReceiptRecord{
		Disposition: resp.Receipt.Disposition.String(),
		Failed:      resp.Receipt.Disposition.Failed,
		Reason:      resp.Receipt.Disposition.Reason,
	}
	for _, f := range resp.Header {
		if f.Name == as2.HeaderMessageID {
			rec.MessageID = f.Value
		}
	}
	if resp.Receipt.MIC != nil {
		rec.MIC = resp.Receipt.MIC.Digest
		rec.MICAlgorithm = resp.Receipt.MIC.Algorithm
	}
	return rec
}

// persist records a message. The MDN is already decided, so storage errors
// are logged only.
func (s *Server) persist(ctx context.Context, record *storage.Message) {
	if err := s.store.CreateMessage(ctx, record); err != nil {
		s.logger.Error("failed to store message record", "message_id", record.AS2MessageID, "error", err)
	}
}

// deliver is the content handler: it stores the payload and copies it to
// the inbox directory when one is configured
func (s *Server) deliver(ctx context.Context, filename string, content []byte) error {
	var messageID, from string
	if env, ok := as2.EnvelopeFromContext(ctx); ok {
		messageID = env.Header.Get(as2.HeaderMessageID)
		from = codec.Unquote(env.Header.Get(as2.HeaderAS2From))
	}
	state := inboundFromContext(ctx)

	key := reliability.MessageKey(from, messageID)
	claimed := s.duplicates != nil && messageID != ""
	if claimed && !s.duplicates.Claim(key) {
		metricDuplicates.Inc()
		s.logger.Warn("duplicate message acknowledged without delivery", "message_id", messageID, "as2_from", from)
		if state != nil {
			state.mu.Lock()
			state.duplicate = true
			state.mu.Unlock()
		}
		return nil
	}

	id, payload, err := s.storePayload(ctx, messageID, filename, content)
	if err != nil {
		if claimed {
			s.duplicates.Release(key)
		}
		return err
	}
	metricPayloadSize.Observe(float64(len(content)))

	if state != nil {
		state.mu.Lock()
		state.payloads = append(state.payloads, storage.PayloadRef{
			ID:       id,
			Filename: filename,
			Size:     int64(len(content)),
			Checksum: payload.Checksum,
		})
		state.mu.Unlock()
	}

	s.logger.Info("payload stored", "message_id", messageID, "payload_id", id, "filename", filename)
	return nil
}

// storePayload copies content to the inbox directory, when configured, and
// to the payload store
func (s *Server) storePayload(ctx context.Context, messageID, filename string, content []byte) (string, *storage.PayloadData, error) {
	if s.config.Storage.Inbox != "" {
		if err := s.writeInbox(filename, content); err != nil {
			return "", nil, err
		}
	}

	payload := &storage.PayloadData{
		MessageID: messageID,
		Filename:  filename,
		Data:      content,
	}
	id, err := s.store.StorePayload(ctx, payload)
	if err != nil {
		return "", nil, fmt.Errorf("storing payload: %w", err)
	}
	return id, payload, nil
}

// writeInbox writes content under a timestamped name so retransmissions and
// repeated filenames never overwrite earlier deliveries
func (s *Server) writeInbox(filename string, content []byte) error {
	name := filepath.Base(filename)
	if name == "." || name == string(filepath.Separator) {
		name = "payload"
	}
	name = time.Now().UTC().Format("20060102T150405.000000000") + "-" + name

	if err := os.WriteFile(filepath.Join(s.config.Storage.Inbox, name), content, 0o600); err != nil {
		return fmt.Errorf("writing payload to inbox: %w", err)
	}
	return nil
}

func (s *Server) acceptSignatureFailure(ctx context.Context, failure *as2.SignatureFailure) {
	metricSignatureFailures.Inc()

	var messageID string
	if failure.Envelope != nil {
		messageID = failure.Envelope.Header.Get(as2.HeaderMessageID)
	}
	s.logger.Warn("accepting message with invalid signature",
		"message_id", messageID,
		"kind", failure.Err.Kind.String(),
		"error", failure.Err.Error(),
	)

	if state := inboundFromContext(ctx); state != nil {
		state.mu.Lock()
		state.signatureError = failure.Err.Error()
		state.mu.Unlock()
	}
}

// Message API handlers

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	filter := &storage.MessageFilter{}
	if direction := r.URL.Query().Get("direction"); direction != "" {
		filter.Direction = storage.MessageDirection(direction)
	}
	if status := r.URL.Query().Get("status"); status != "" {
		filter.Status = storage.MessageStatus(status)
	}
	if from := r.URL.Query().Get("from"); from != "" {
		filter.From = from
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}
	if filter.Limit == 0 || filter.Limit > 100 {
		filter.Limit = 50 // Default limit
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	messages, err := s.store.ListMessages(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list messages", "error", err)
		s.jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}

	total, _ := s.store.CountMessages(r.Context(), filter)

	s.jsonResponse(w, map[string]interface{}{
		"messages": messages,
		"total":    total,
		"limit":    filter.Limit,
		"offset":   filter.Offset,
	}, http.StatusOK)
}

func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	message, ok := s.lookupMessage(w, r)
	if !ok {
		return
	}
	s.jsonResponse(w, message, http.StatusOK)
}

func (s *Server) handleGetPayload(w http.ResponseWriter, r *http.Request) {
	message, ok := s.lookupMessage(w, r)
	if !ok {
		return
	}

	payloadID := r.PathValue("payloadID")
	var payloadRef *storage.PayloadRef
	for i := range message.Payloads {
		if message.Payloads[i].ID == payloadID {
			payloadRef = &message.Payloads[i]
			break
		}
	}
	if payloadRef == nil {
		s.jsonError(w, "payload not found", http.StatusNotFound)
		return
	}

	payload, err := s.store.GetPayload(r.Context(), payloadRef.ID)
	if err != nil {
		s.logger.Error("failed to get payload", "error", err)
		s.jsonError(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(payload.Data)))
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filepath.Base(payload.Filename)))
	_, _ = w.Write(payload.Data)
}

func (s *Server) lookupMessage(w http.ResponseWriter, r *http.Request) (*storage.Message, bool) {
	message, err := s.store.GetMessage(r.Context(), r.PathValue("messageID"))
	if errors.Is(err, storage.ErrNotFound) {
		s.jsonError(w, "message not found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		s.logger.Error("failed to get message", "error", err)
		s.jsonError(w, "internal error", http.StatusInternalServerError)
		return nil, false
	}
	return message, true
}

// Helper functions

func (s *Server) jsonResponse(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) jsonError(w http.ResponseWriter, message string, status int) {
	s.jsonResponse(w, map[string]string{"error": message}, status)
}
