package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/xerrors"

	"github.com/aquasecurity/vuln-match/cpe"
	"github.com/aquasecurity/vuln-match/kevc"
	"github.com/aquasecurity/vuln-match/nvd"
	"github.com/aquasecurity/vuln-match/store"
)

const (
	defaultTimeout = 10 * time.Second
	defaultWorkers = 8
)

type options struct {
	timeout time.Duration
	workers int
	catalog kevc.Catalog
}

type option func(*options)

// WithTimeout bounds every storage call and match of a request.
func WithTimeout(timeout time.Duration) option {
	return func(opts *options) {
		opts.timeout = timeout
	}
}

func WithWorkers(workers int) option {
	return func(opts *options) {
		opts.workers = workers
	}
}

// WithCatalog enriches CVE responses with known exploitation data.
func WithCatalog(catalog kevc.Catalog) option {
	return func(opts *options) {
		opts.catalog = catalog
	}
}

type Server struct {
	*options
	storage  store.Storage
	registry *prometheus.Registry
	router   *mux.Router
}

func NewServer(storage store.Storage, opts ...option) *Server {
	o := &options{
		timeout: defaultTimeout,
		workers: defaultWorkers,
	}
	for _, opt := range opts {
		opt(o)
	}

	s := &Server{
		options:  o,
		storage:  storage,
		registry: prometheus.NewRegistry(),
		router:   mux.NewRouter(),
	}
	m := newMetrics(s.registry)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/products", s.handleProducts).Methods(http.MethodGet)
	api.HandleFunc("/products/vendors", s.handleVendors).Methods(http.MethodGet)
	api.HandleFunc("/products/search/{query}", s.handleSearch).Methods(http.MethodGet)
	api.HandleFunc("/cve/{id}", s.handleCVE).Methods(http.MethodGet)
	api.HandleFunc("/match/{product}", s.handleMatch).Methods(http.MethodGet)
	api.HandleFunc("/match/{product}/{version}", s.handleMatch).Methods(http.MethodGet)
	api.Use(withRequestID, m.instrument)

	s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is done and then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return xerrors.Errorf("listen error: %w", err)
	case <-ctx.Done():
	}

	log.Println("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return xerrors.Errorf("shutdown error: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %s", err)
	}
}

func (s *Server) handleProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	products, err := s.storage.GetProducts(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, products)
}

func (s *Server) handleVendors(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	products, err := s.storage.GetProducts(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, store.GroupByVendor(products))
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	products, err := s.storage.SearchProducts(ctx, mux.Vars(r)["query"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, products)
}

func (s *Server) handleCVE(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	item, err := s.storage.GetCVE(ctx, mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, s.newCVEResponse(item))
}

func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := store.ValidateSearch(vars["product"]); err != nil {
		writeError(w, r, err)
		return
	}
	q := nvd.NewQuery(vars["product"], vars["version"])

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	candidates, err := s.storage.SearchCVEs(ctx, q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	matched, err := nvd.Match(ctx, candidates, q, s.workers)
	if err != nil {
		writeError(w, r, err)
		return
	}

	resp := make([]cveResponse, 0, len(matched))
	for _, item := range matched {
		resp = append(resp, s.newCVEResponse(item))
	}
	writeJSON(w, resp)
}

type cveResponse struct {
	ID             string              `json:"id"`
	Summary        string              `json:"summary"`
	Score          float64             `json:"score"`
	Severity       string              `json:"severity"`
	Vector         string              `json:"vector"`
	Complete       bool                `json:"complete"`
	Published      *time.Time          `json:"published,omitempty"`
	LastModified   *time.Time          `json:"last_modified,omitempty"`
	References     []string            `json:"references"`
	CWEs           []string            `json:"cwes"`
	Products       []cpe.Product       `json:"products"`
	KnownExploited *kevc.Vulnerability `json:"known_exploited,omitempty"`
}

func (s *Server) newCVEResponse(item nvd.Item) cveResponse {
	resp := cveResponse{
		ID:           item.ID(),
		Summary:      item.Summary(),
		Score:        item.Score(),
		Severity:     item.Severity(),
		Vector:       item.Vector(),
		Complete:     item.IsComplete(),
		Published:    timePtr(item.Published()),
		LastModified: timePtr(item.LastModified()),
		References:   item.ReferenceURLs(),
		CWEs:         item.CWEs(),
		Products:     item.CollectUniqueProducts(),
	}
	if v, ok := s.catalog.Lookup(item.ID()); ok {
		resp.KnownExploited = &v
	}
	return resp
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
