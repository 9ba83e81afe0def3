// Package api serves read-only gazetteer lookups over HTTP.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/geotag/gazetteer/internal/geo"
	"github.com/geotag/gazetteer/internal/model"
	"github.com/geotag/gazetteer/internal/store"
)

const (
	defaultPlacesLimit = 100
	maxPlacesLimit     = 1000
	maxNearRadius      = 500_000.0
)

// Server answers place lookups from a store.
type Server struct {
	store store.Store
	log   *zap.Logger
}

// NewServer returns a Server reading from st.
func NewServer(st store.Store) *Server {
	return &Server{store: st, log: zap.L().With(zap.String("component", "api"))}
}

// Routes returns the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Get("/countries", s.countries)
	r.Route("/places", func(r chi.Router) {
		r.Get("/", s.places)
		r.Get("/near", s.near)
		r.Get("/{placeID}", s.placeByID)
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) countries(w http.ResponseWriter, r *http.Request) {
	ccs, err := s.store.ListCountries(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]string, 0, len(ccs))
	for _, cc := range ccs {
		if cc != "" {
			out = append(out, cc)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"countries": out})
}

func (s *Server) places(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(q.Get("limit"), defaultPlacesLimit)
	if err != nil || limit <= 0 {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	f := store.Filter{
		Country:      strings.ToUpper(q.Get("cc")),
		FeatureClass: strings.ToUpper(q.Get("fc")),
		Name:         q.Get("name"),
		NonDuplicate: q.Get("all") != "true",
		OrderByID:    true,
		Limit:        min(limit, maxPlacesLimit),
	}
	if src := q.Get("source"); src != "" {
		parsed, err := model.ParseSource(src)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		f.Sources = []model.Source{parsed}
	}

	out := make([]model.Place, 0)
	for p, err := range s.store.Query(r.Context(), f) {
		if err != nil {
			s.fail(w, r, err)
			return
		}
		out = append(out, p)
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(out), "places": out})
}

func (s *Server) placeByID(w http.ResponseWriter, r *http.Request) {
	placeID := chi.URLParam(r, "placeID")
	out, err := s.store.ListPlacesByID(r.Context(), placeID, maxPlacesLimit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if len(out) == 0 {
		writeError(w, http.StatusNotFound, "place "+placeID+" not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(out), "places": out})
}

func (s *Server) near(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	nq := store.NearQuery{
		Geohash: q.Get("geohash"),
		Country: strings.ToUpper(q.Get("cc")),
		Method:  q.Get("method"),
	}
	if nq.Geohash == "" {
		lat, latErr := strconv.ParseFloat(q.Get("lat"), 64)
		lon, lonErr := strconv.ParseFloat(q.Get("lon"), 64)
		if latErr != nil || lonErr != nil {
			writeError(w, http.StatusBadRequest, "lat and lon, or geohash, are required")
			return
		}
		if !geo.ValidLat(lat) || !geo.ValidLon(lon) {
			writeError(w, http.StatusBadRequest, "lat or lon out of range")
			return
		}
		nq.Lat, nq.Lon = lat, lon
	}
	if nq.Method != "" && nq.Method != store.NearMethodBBox && nq.Method != store.NearMethodGeohash {
		writeError(w, http.StatusBadRequest, "method must be 2d or geohash")
		return
	}
	if v := q.Get("radius"); v != "" {
		radius, err := strconv.ParseFloat(v, 64)
		if err != nil || radius <= 0 || radius > maxNearRadius {
			writeError(w, http.StatusBadRequest, "radius must be between 0 and 500000 meters")
			return
		}
		nq.Radius = radius
	}
	limit, err := intParam(q.Get("limit"), store.DefaultNearLimit)
	if err != nil || limit <= 0 {
		writeError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}
	nq.Limit = min(limit, maxPlacesLimit)

	found, err := s.store.ListNear(r.Context(), nq)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(found), "places": found})
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	s.log.Error("lookup failed", zap.String("path", r.URL.Path), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func intParam(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
