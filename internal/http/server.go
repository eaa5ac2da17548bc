package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/denisok6893-rgb/open-house/internal/domain"
	"github.com/denisok6893-rgb/open-house/internal/matching"
	"github.com/denisok6893-rgb/open-house/internal/remote"
	"github.com/denisok6893-rgb/open-house/internal/storage"
)

const maxBody = 1 << 20

type Server struct {
	Repo   Repository
	Tokens *TokenIssuer
	Engine *matching.Engine
	// Seed is copied into every new account's dream house.
	Seed   []domain.Criterion
	Logger *slog.Logger

	registry *prometheus.Registry
	requests *prometheus.CounterVec
}

func NewServer(repo Repository, tokens *TokenIssuer, engine *matching.Engine, seed []domain.Criterion, logger *slog.Logger) *Server {
	if engine == nil {
		engine = matching.NewEngine(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	reg := prometheus.NewRegistry()
	return &Server{
		Repo:     repo,
		Tokens:   tokens,
		Engine:   engine,
		Seed:     seed,
		Logger:   logger.With("component", "http"),
		registry: reg,
		requests: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "openhouse",
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
	}
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/register", s.instrument("/register", s.handleRegister))
	mux.HandleFunc("/login", s.instrument("/login", s.handleLogin))
	mux.HandleFunc("/houses", s.instrument("/houses", s.requireUser(s.handleHouses)))
	mux.HandleFunc("/criteria", s.instrument("/criteria", s.requireUser(s.handleCriteria)))
	mux.HandleFunc("/updateCriterion", s.instrument("/updateCriterion", s.requireUser(s.handleUpdateCriterion)))
	mux.HandleFunc("/addCriterion", s.instrument("/addCriterion", s.requireUser(s.handleAddCriterion)))
	mux.HandleFunc("/removeCriterion", s.instrument("/removeCriterion", s.requireUser(s.handleRemoveCriterion)))
	mux.HandleFunc("/dreamhouse", s.instrument("/dreamhouse", s.requireUser(s.handleDreamHouse)))
	mux.HandleFunc("/score", s.instrument("/score", s.requireUser(s.handleScore)))
	return mux
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument tags the request with an id and counts the response code.
func (s *Server) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rid := r.Header.Get("X-Request-ID")
		if rid == "" {
			rid = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", rid)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		s.requests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		s.Logger.Debug("request", "method", r.Method, "route", route, "status", rec.status, "request_id", rid)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Method != http.MethodPost {
		writeProblem(w, r, http.StatusMethodNotAllowed, "use POST")
		return false
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody)).Decode(v); err != nil {
		writeProblem(w, r, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req domain.Credentials
	if !decode(w, r, &req) {
		return
	}
	if err := remote.ValidateCredentials(req.Email, req.Password); err != nil {
		writeProblem(w, r, http.StatusBadRequest, err.Error())
		return
	}
	hash, err := hashPassword(req.Password)
	if err != nil {
		s.internal(w, r, "hash password", err)
		return
	}
	id, err := s.Repo.CreateUser(r.Context(), req.Email, hash)
	if errors.Is(err, storage.ErrUserExists) {
		writeProblem(w, r, http.StatusConflict, "email already registered")
		return
	}
	if err != nil {
		s.internal(w, r, "create user", err)
		return
	}
	if err := s.Repo.SetDreamHouse(r.Context(), id, s.Seed); err != nil {
		s.internal(w, r, "seed dream house", err)
		return
	}
	s.Logger.Info("account registered", "user_id", id, "seeded", len(s.Seed))
	s.respondToken(w, r, http.StatusCreated, id, req.Email)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req domain.Credentials
	if !decode(w, r, &req) {
		return
	}
	u, ok, err := s.Repo.UserByEmail(r.Context(), req.Email)
	if err != nil {
		s.internal(w, r, "load user", err)
		return
	}
	if !ok || !checkPassword(u.PasswordHash, req.Password) {
		writeProblem(w, r, http.StatusUnauthorized, "wrong email or password")
		return
	}
	s.respondToken(w, r, http.StatusOK, u.ID, u.Email)
}

func (s *Server) respondToken(w http.ResponseWriter, r *http.Request, status int, id int64, email string) {
	token, err := s.Tokens.Issue(id, email)
	if err != nil {
		s.internal(w, r, "issue token", err)
		return
	}
	writeJSON(w, status, domain.TokenResponse{Token: token})
}

func (s *Server) handleHouses(w http.ResponseWriter, r *http.Request) {
	uid := userID(r.Context())
	switch r.Method {
	case http.MethodGet:
		houses, err := s.Repo.ListHouses(r.Context(), uid)
		if err != nil {
			s.internal(w, r, "list houses", err)
			return
		}
		writeJSON(w, http.StatusOK, domain.HousesResponse{Houses: houses})
	case http.MethodPost:
		var req domain.CreateHouseRequest
		if !decode(w, r, &req) {
			return
		}
		if req.Name == "" {
			writeProblem(w, r, http.StatusBadRequest, "name is required")
			return
		}
		h, err := s.Repo.CreateHouse(r.Context(), uid, req.Name, req.Address)
		if err != nil {
			s.internal(w, r, "create house", err)
			return
		}
		s.Logger.Info("house created", "user_id", uid, "hid", h.HID)
		writeJSON(w, http.StatusCreated, h)
	default:
		writeProblem(w, r, http.StatusMethodNotAllowed, "use GET or POST")
	}
}

// ownedHouse resolves ?hid= or a body hid and checks it belongs to the caller.
// Houses of other users are reported as missing.
func (s *Server) ownedHouse(w http.ResponseWriter, r *http.Request, hid int64) bool {
	owner, ok, err := s.Repo.HouseOwner(r.Context(), hid)
	if err != nil {
		s.internal(w, r, "house owner", err)
		return false
	}
	if !ok || owner != userID(r.Context()) {
		writeProblem(w, r, http.StatusNotFound, "house not found")
		return false
	}
	return true
}

func queryHID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	if r.Method != http.MethodGet {
		writeProblem(w, r, http.StatusMethodNotAllowed, "use GET")
		return 0, false
	}
	hid, err := strconv.ParseInt(r.URL.Query().Get("hid"), 10, 64)
	if err != nil || hid <= 0 {
		writeProblem(w, r, http.StatusBadRequest, "hid must be a positive integer")
		return 0, false
	}
	return hid, true
}

func (s *Server) handleCriteria(w http.ResponseWriter, r *http.Request) {
	hid, ok := queryHID(w, r)
	if !ok || !s.ownedHouse(w, r, hid) {
		return
	}
	items, err := s.Repo.ListCriteria(r.Context(), hid)
	if err != nil {
		s.internal(w, r, "list criteria", err)
		return
	}
	writeJSON(w, http.StatusOK, domain.CriteriaResponse{HID: hid, Criteria: items})
}

func (s *Server) handleUpdateCriterion(w http.ResponseWriter, r *http.Request) {
	var req domain.UpdateCriterionRequest
	if !decode(w, r, &req) {
		return
	}
	if !s.ownedHouse(w, r, req.HID) {
		return
	}
	c, ok, err := s.Repo.GetCriterion(r.Context(), req.HID, req.ID)
	if err != nil {
		s.internal(w, r, "get criterion", err)
		return
	}
	if !ok {
		writeProblem(w, r, http.StatusNotFound, "criterion not found")
		return
	}
	if !c.Type.Accepts(req.Value) {
		writeProblem(w, r, http.StatusBadRequest, domain.ErrOutOfRange.Error())
		return
	}
	if _, err := s.Repo.SetCriterionValue(r.Context(), req.HID, req.ID, req.Value); err != nil {
		s.internal(w, r, "set criterion", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleAddCriterion stores a criterion a user added to one house. Ids below
// FirstUserCriterionID belong to the dream house template.
func (s *Server) handleAddCriterion(w http.ResponseWriter, r *http.Request) {
	var req domain.AddCriterionRequest
	if !decode(w, r, &req) {
		return
	}
	if !s.ownedHouse(w, r, req.HID) {
		return
	}
	c := req.Criterion
	c.IsDream = false
	if c.ID < domain.FirstUserCriterionID {
		writeProblem(w, r, http.StatusBadRequest, "criterion id is reserved for the dream house")
		return
	}
	if strings.TrimSpace(c.Name) == "" {
		writeProblem(w, r, http.StatusBadRequest, "criterion name is required")
		return
	}
	if err := c.Validate(); err != nil {
		writeProblem(w, r, http.StatusBadRequest, err.Error())
		return
	}
	_, exists, err := s.Repo.GetCriterion(r.Context(), req.HID, c.ID)
	if err != nil {
		s.internal(w, r, "get criterion", err)
		return
	}
	if exists {
		writeProblem(w, r, http.StatusConflict, "criterion already exists")
		return
	}
	if err := s.Repo.UpsertCriteria(r.Context(), req.HID, []domain.Criterion{c}); err != nil {
		s.internal(w, r, "add criterion", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "ok"})
}

func (s *Server) handleRemoveCriterion(w http.ResponseWriter, r *http.Request) {
	var req domain.RemoveCriterionRequest
	if !decode(w, r, &req) {
		return
	}
	if !s.ownedHouse(w, r, req.HID) {
		return
	}
	c, ok, err := s.Repo.GetCriterion(r.Context(), req.HID, req.ID)
	if err != nil {
		s.internal(w, r, "get criterion", err)
		return
	}
	if !ok {
		writeProblem(w, r, http.StatusNotFound, "criterion not found")
		return
	}
	if c.IsDream {
		writeProblem(w, r, http.StatusBadRequest, domain.ErrNotRemovable.Error())
		return
	}
	if _, err := s.Repo.DeleteCriterion(r.Context(), req.HID, req.ID); err != nil {
		s.internal(w, r, "remove criterion", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleDreamHouse(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeProblem(w, r, http.StatusMethodNotAllowed, "use GET")
		return
	}
	items, err := s.Repo.DreamHouse(r.Context(), userID(r.Context()))
	if err != nil {
		s.internal(w, r, "dream house", err)
		return
	}
	writeJSON(w, http.StatusOK, domain.DreamHouseResponse{Criteria: items})
}

// handleScore ranks a house from the service's copy of its criteria.
func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	hid, ok := queryHID(w, r)
	if !ok || !s.ownedHouse(w, r, hid) {
		return
	}
	items, err := s.Repo.ListCriteria(r.Context(), hid)
	if err != nil {
		s.internal(w, r, "list criteria", err)
		return
	}
	writeJSON(w, http.StatusOK, s.Engine.Score(criteriaSnapshot(items)))
}

func (s *Server) internal(w http.ResponseWriter, r *http.Request, op string, err error) {
	s.Logger.Error(op+" failed", "err", err, "request_id", w.Header().Get("X-Request-ID"))
	writeProblem(w, r, http.StatusInternalServerError, op+" failed")
}
