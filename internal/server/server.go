// Package server exposes the engraving workflow over HTTP: batch building,
// row lifecycle, SVG generation and device loading, configuration import,
// SKU mapping management, and serial lookups.
package server

import (
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quadi/qsa-engrave/config"
	"github.com/quadi/qsa-engrave/laser"
	"github.com/quadi/qsa-engrave/models"
	"github.com/quadi/qsa-engrave/store"
)

type Server struct {
	mux *http.ServeMux
	log *logrus.Logger

	cfgMu   sync.Mutex
	cfg     config.Config
	cfgPath string

	serials *store.SerialStore
	idents  *store.IdentifierStore
	configs *store.ConfigStore
	batches *store.BatchStore
	skus    *store.SkuStore
	users   *store.UserStore
	catalog *store.CatalogStore

	coupler *laser.Coupler
	files   *laser.FileManager

	events  *WSHub
	limiter *rateLimiter
}

// New wires the full request surface over an opened database.
func New(db *sql.DB, cfg config.Config, cfgPath string, coupler *laser.Coupler, files *laser.FileManager, log *logrus.Logger) *Server {
	s := &Server{
		mux:     http.NewServeMux(),
		log:     log,
		cfg:     cfg,
		cfgPath: cfgPath,
		serials: store.NewSerialStore(db, log),
		idents:  store.NewIdentifierStore(db, log),
		configs: store.NewConfigStore(db, log),
		batches: store.NewBatchStore(db, log),
		skus:    store.NewSkuStore(db, log),
		users:   store.NewUserStore(db, log),
		catalog: store.NewCatalogStore(db, log),
		coupler: coupler,
		files:   files,
		events:  NewWSHub(),
		// Public serial lookup: burst of 10, sustained 30/min per IP.
		limiter: newRateLimiter(10, 30),
	}

	s.mux.HandleFunc("/api/health", s.handleHealth)

	// Auth
	s.mux.HandleFunc("/api/login", s.handleLogin)
	s.mux.HandleFunc("/api/logout", s.handleLogout)
	s.mux.HandleFunc("/api/me", s.handleMe)
	s.mux.HandleFunc("/api/users", s.handleCreateUser)

	// Batch building
	s.mux.HandleFunc("/api/modules/awaiting", s.handleModulesAwaiting)
	s.mux.HandleFunc("/api/batches/preview", s.handlePreviewBatch)
	s.mux.HandleFunc("/api/batches/create", s.handleCreateBatch)
	s.mux.HandleFunc("/api/batches/queue", s.handleQueue)

	// Row lifecycle
	s.mux.HandleFunc("/api/rows/start", s.handleStartRow)
	s.mux.HandleFunc("/api/rows/complete", s.handleCompleteRow)
	s.mux.HandleFunc("/api/rows/retry", s.handleRetryRow)
	s.mux.HandleFunc("/api/rows/back", s.handleBackRow)
	s.mux.HandleFunc("/api/rows/rerun", s.handleRerunRow)
	s.mux.HandleFunc("/api/rows/start-position", s.handleStartPosition)

	// Artwork and device
	s.mux.HandleFunc("/api/svg/generate", s.handleGenerateSVG)
	s.mux.HandleFunc("/api/svg/resend", s.handleResendSVG)
	s.mux.HandleFunc("/api/svg/load", s.handleResendSVG)
	s.mux.HandleFunc("/api/device/test", s.handleTestDevice)

	// Element configuration
	s.mux.HandleFunc("/api/config/preview", s.handleConfigPreview)
	s.mux.HandleFunc("/api/config/apply", s.handleConfigApply)
	s.mux.HandleFunc("/api/config/export", s.handleConfigExport)
	s.mux.HandleFunc("/api/config/validate", s.handleConfigValidate)

	// SKU mappings
	s.mux.HandleFunc("/api/sku-mappings", s.handleSkuMappings)
	s.mux.HandleFunc("/api/sku-mappings/update", s.handleSkuMappingUpdate)
	s.mux.HandleFunc("/api/sku-mappings/delete", s.handleSkuMappingDelete)
	s.mux.HandleFunc("/api/sku-mappings/test", s.handleSkuMappingTest)

	// Serial lookups
	s.mux.HandleFunc("/api/serial/lookup", s.handleSerialLookup)
	s.mux.HandleFunc("/api/serial/details", s.handleSerialDetails)

	// Settings
	s.mux.HandleFunc("/api/settings", s.handleSettings)

	// WS
	s.mux.HandleFunc("/ws/events", s.handleWSEvents)

	return s
}

func (s *Server) Handler() http.Handler { return s.mux }

// config returns a snapshot of the current runtime configuration.
func (s *Server) config() config.Config {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	return s.cfg
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) readJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	b, err := io.ReadAll(io.LimitReader(r.Body, 2<<20))
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// ok writes the success envelope.
func (s *Server) ok(w http.ResponseWriter, data interface{}) {
	s.writeJSON(w, http.StatusOK, Envelope{OK: true, Data: data})
}

// fail writes the failure envelope, mapping the fault code to an HTTP status.
func (s *Server) fail(w http.ResponseWriter, err error) {
	f := models.AsFault(err)
	if f.Code == models.CodeTransactionFailed || f.Code == models.CodeInsertFailed ||
		f.Code == models.CodeUpdateFailed || f.Code == models.CodeDeleteFailed {
		s.log.WithError(err).Error("request failed")
	}
	s.writeJSON(w, statusFor(f.Code), Envelope{OK: false, Message: f.Message, Code: f.Code})
}

// statusFor maps stable fault codes onto HTTP statuses. Unknown codes land
// on 500 so new store faults fail loudly instead of masquerading as client
// errors.
func statusFor(code string) int {
	switch code {
	case models.CodeInvalidParams, models.CodeInvalidSKUFormat, models.CodeInvalidSerial,
		models.CodeInvalidElementType, models.CodeInvalidPosition, models.CodeInvalidRotation,
		models.CodeInvalidIP, models.CodeInvalidPort, models.CodeInvalidPath,
		models.CodePatternTooLong, models.CodeInvalidRegex,
		models.CodeMissingQRCode, models.CodeMissingModuleID,
		models.CodeDeviceDisabled:
		return http.StatusBadRequest
	case models.CodeNotLoggedIn, models.CodeInvalidNonce:
		return http.StatusUnauthorized
	case models.CodeInsufficientPermissions:
		return http.StatusForbidden
	case models.CodeRateLimited:
		return http.StatusTooManyRequests
	case models.CodeNotFound, models.CodeConfigNotFound:
		return http.StatusNotFound
	case models.CodeInvalidRowStatus, models.CodeSerialsAlreadyReserved,
		models.CodeNoReservedSerials, models.CodeZeroSerialsCommitted,
		models.CodePartialCommit, models.CodeBatchNotCompleted, models.CodeNoModules,
		models.CodeStatusUpdateFailed, models.CodeDuplicatePattern,
		models.CodeSerialExhausted, models.CodeInsufficientCapacity, models.CodeSequenceExhausted,
		models.CodeLedResolutionFailed, models.CodeNoLedCodes, models.CodeMissingModuleData:
		return http.StatusConflict
	case models.CodeConnectionFailed, models.CodeLoadFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// requirePost rejects non-POST methods; mirrors requireGet.
func (s *Server) requirePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return false
	}
	return true
}

func (s *Server) requireGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.requireGet(w, r) {
		return
	}
	s.writeJSON(w, http.StatusOK, HealthResponse{OK: true, Timestamp: time.Now().UTC()})
}
