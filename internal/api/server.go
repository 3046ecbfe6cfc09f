package api

import (
	"context"
	"net/http"
	"time"

	"clinicqueue/internal/database"
	"clinicqueue/internal/models"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

// QueueService is the queue surface the HTTP layer needs.
type QueueService interface {
	Snapshot() models.State
	Summary() models.Summary
	BookToken(ctx context.Context, in models.BookingInput) (models.Token, error)
	Advance(ctx context.Context) (models.State, error)
	Reset(ctx context.Context) error
}

// HistorySource lists archived epochs.
type HistorySource interface {
	Recent(ctx context.Context, limit int) ([]database.Epoch, error)
	Epoch(ctx context.Context, id int64) (*database.Epoch, error)
	Tokens(ctx context.Context, epochID int64) ([]models.Token, error)
}

// Options configure the HTTP layer.
type Options struct {
	AllowedOrigins    []string
	BookRatePerSecond float64
	BookBurst         int

	// TrustProxy keys the booking limiter on X-Forwarded-For instead of the peer address.
	TrustProxy bool

	// Location is used for timestamps in exported spreadsheets.
	Location *time.Location
}

// HTTPServer exposes the queue as a JSON API for the display layer.
type HTTPServer struct {
	queue   QueueService
	history HistorySource
	opts    Options
	limiter *clientLimiter
	logger  *zerolog.Logger
	now     func() time.Time
}

// NewHTTPServer builds the API. history may be nil when archiving is disabled.
func NewHTTPServer(queue QueueService, history HistorySource, opts Options, logger *zerolog.Logger) *HTTPServer {
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &HTTPServer{
		queue:   queue,
		history: history,
		opts:    opts,
		limiter: newClientLimiter(opts.BookRatePerSecond, opts.BookBurst),
		logger:  logger,
		now:     time.Now,
	}
}

// Handler returns the routed API wrapped in CORS handling.
func (s *HTTPServer) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.requestID, s.logRequests)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/queue", s.handleQueue).Methods(http.MethodGet)
	api.HandleFunc("/queue/summary", s.handleSummary).Methods(http.MethodGet)
	api.HandleFunc("/queue/export", s.handleExport).Methods(http.MethodGet)
	api.Handle("/book-token", s.rateLimit(http.HandlerFunc(s.handleBookToken))).Methods(http.MethodPost)
	api.HandleFunc("/next-number", s.handleNextNumber).Methods(http.MethodPost)
	api.HandleFunc("/reset-queue", s.handleResetQueue).Methods(http.MethodPost)
	api.HandleFunc("/history", s.handleHistory).Methods(http.MethodGet)
	api.HandleFunc("/history/{id:[0-9]+}", s.handleHistoryEpoch).Methods(http.MethodGet)

	// Subrouters do not inherit these from the root router.
	notFound := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	methodNotAllowed := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	r.NotFoundHandler = notFound
	r.MethodNotAllowedHandler = methodNotAllowed
	api.NotFoundHandler = notFound
	api.MethodNotAllowedHandler = methodNotAllowed

	c := cors.New(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID", "Content-Disposition"},
	})
	return c.Handler(r)
}
