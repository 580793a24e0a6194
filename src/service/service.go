// Package service exposes the HTTP API of a ledgerd node.
package service

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/mosaicnetworks/ledgerd/src/archive"
	"github.com/mosaicnetworks/ledgerd/src/common"
	"github.com/mosaicnetworks/ledgerd/src/ledger"
	"github.com/mosaicnetworks/ledgerd/src/metrics"
	"github.com/mosaicnetworks/ledgerd/src/node"
	"github.com/sirupsen/logrus"
)

const maxValueSize = 4 << 20

// CatchupRequest is the body of POST /catchup.
type CatchupRequest struct {
	To uint32 `json:"to"`
	// Hash is the hex encoded hash ledger To must have. Optional.
	Hash   string `json:"hash,omitempty"`
	Verify string `json:"verify,omitempty"`
}

// Service serves the API of a node. When source is set, the node also
// publishes its ledgers as an archive for other nodes.
type Service struct {
	sync.Mutex

	bindAddress string
	node        *node.Node
	source      *archive.StoreSource
	metrics     *metrics.Metrics
	mux         *http.ServeMux
	logger      *logrus.Entry
}

// NewService creates a Service. source and m may be nil.
func NewService(bindAddress string,
	n *node.Node,
	source *archive.StoreSource,
	m *metrics.Metrics,
	logger *logrus.Entry) *Service {

	service := Service{
		bindAddress: bindAddress,
		node:        n,
		source:      source,
		metrics:     m,
		mux:         http.NewServeMux(),
		logger:      logger.WithField("prefix", "service"),
	}

	service.registerHandlers()

	return &service
}

func (s *Service) registerHandlers() {
	s.logger.Debug("Registering ledgerd API handlers")
	s.mux.HandleFunc("/stats", s.makeHandler(s.GetStats))
	s.mux.HandleFunc("/status", s.makeHandler(s.GetStatus))
	s.mux.HandleFunc("/header/", s.makeHandler(s.GetHeader))
	s.mux.HandleFunc("/results/", s.makeHandler(s.GetResults))
	s.mux.HandleFunc("/value/", s.makeHandler(s.GetValue))
	s.mux.HandleFunc("/buffered/", s.makeHandler(s.GetBuffered))
	s.mux.HandleFunc("/account/", s.makeHandler(s.GetAccount))
	s.mux.HandleFunc("/finalized", s.makeHandler(s.PostFinalized))
	s.mux.HandleFunc("/catchup", s.makeHandler(s.PostCatchup))
	s.mux.HandleFunc("/catchup/abort", s.makeHandler(s.PostAbortCatchup))
	if s.source != nil {
		// Checkpoints can be slow to build and are served concurrently.
		s.mux.HandleFunc(archive.CheckpointPath, s.GetCheckpoint)
	}
	if s.metrics != nil {
		s.mux.Handle("/metrics", s.metrics.Handler())
	}
}

func (s *Service) makeHandler(fn func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Lock()
		defer s.Unlock()

		// enable CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")

		fn(w, r)
	}
}

// Handler returns the handler of every API route.
func (s *Service) Handler() http.Handler {
	return s.mux
}

// Serve calls ListenAndServe. This is a blocking call.
func (s *Service) Serve() {
	s.logger.WithField("bind_address", s.bindAddress).Debug("Serving ledgerd API")

	err := http.ListenAndServe(s.bindAddress, s.mux)
	if err != nil {
		s.logger.Error(err)
	}
}

// GetStats ...
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.node.GetStats())
}

// GetStatus returns the last status published by the node.
func (s *Service) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.node.Status())
}

// GetHeader ...
func (s *Service) GetHeader(w http.ResponseWriter, r *http.Request) {
	seq, ok := s.seqParam(w, r, "/header/")
	if !ok {
		return
	}
	header, err := s.node.GetHeader(seq)
	if err != nil {
		s.storeError(w, err, "Retrieving header %d", seq)
		return
	}
	writeJSON(w, header)
}

// GetResults ...
func (s *Service) GetResults(w http.ResponseWriter, r *http.Request) {
	seq, ok := s.seqParam(w, r, "/results/")
	if !ok {
		return
	}
	results, err := s.node.GetResults(seq)
	if err != nil {
		s.storeError(w, err, "Retrieving results %d", seq)
		return
	}
	writeJSON(w, results)
}

// GetValue ...
func (s *Service) GetValue(w http.ResponseWriter, r *http.Request) {
	seq, ok := s.seqParam(w, r, "/value/")
	if !ok {
		return
	}
	value, err := s.node.GetValue(seq)
	if err != nil {
		s.storeError(w, err, "Retrieving value %d", seq)
		return
	}
	writeJSON(w, value)
}

// GetBuffered returns a value received ahead of the last closed ledger.
func (s *Service) GetBuffered(w http.ResponseWriter, r *http.Request) {
	seq, ok := s.seqParam(w, r, "/buffered/")
	if !ok {
		return
	}
	value, found, err := s.node.GetBufferedValue(seq)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if !found {
		http.Error(w, "value not buffered", http.StatusNotFound)
		return
	}
	writeJSON(w, value)
}

// GetAccount ...
func (s *Service) GetAccount(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Path[len("/account/"):]
	account, found, err := s.node.Account(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if !found {
		http.Error(w, "account not found", http.StatusNotFound)
		return
	}
	writeJSON(w, account)
}

// PostFinalized submits a finalized value, encoded like ledger.Value.Marshal.
func (s *Service) PostFinalized(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxValueSize))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	v := new(ledger.Value)
	if err := v.Unmarshal(body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.node.SubmitFinalized(v); err != nil {
		s.logger.WithError(err).WithField("seq", v.Seq).Error("Submitting value")
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// PostCatchup starts an operator catchup.
func (s *Service) PostCatchup(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	var req CatchupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	verify, err := archive.ParseVerifyMode(req.Verify)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var hash []byte
	if req.Hash != "" {
		if hash, err = common.DecodeFromString(req.Hash); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	if err := s.node.StartCatchup(req.To, hash, verify); err != nil {
		s.logger.WithError(err).WithField("to", req.To).Error("Starting catchup")
		http.Error(w, err.Error(), controlStatus(err))
		return
	}
	writeJSON(w, s.node.Status().Catchup)
}

// PostAbortCatchup aborts a blocked catchup.
func (s *Service) PostAbortCatchup(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}
	if err := s.node.AbortCatchup(); err != nil {
		http.Error(w, err.Error(), controlStatus(err))
		return
	}
	writeJSON(w, s.node.Status().Catchup)
}

// GetCheckpoint serves a signed checkpoint to a catching up node.
func (s *Service) GetCheckpoint(w http.ResponseWriter, r *http.Request) {
	req, err := archive.ParseRequest(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	cp, err := s.source.Checkpoint(r.Context(), req)
	switch {
	case errors.Is(err, archive.ErrBehind):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		s.logger.WithError(err).WithFields(logrus.Fields{
			"from": req.From,
			"to":   req.To,
		}).Error("Building checkpoint")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, cp)
}

func (s *Service) seqParam(w http.ResponseWriter, r *http.Request, prefix string) (uint32, bool) {
	param := strings.TrimPrefix(r.URL.Path, prefix)
	seq, err := strconv.ParseUint(param, 10, 32)
	if err != nil {
		s.logger.WithError(err).Errorf("Parsing ledger parameter %s", param)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return 0, false
	}
	return uint32(seq), true
}

func (s *Service) storeError(w http.ResponseWriter, err error, format string, args ...interface{}) {
	if common.IsStore(err, common.KeyNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	s.logger.WithError(err).Errorf(format, args...)
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func controlStatus(err error) int {
	switch {
	case errors.Is(err, node.ErrCatchupInProgress), errors.Is(err, node.ErrNoCatchup):
		return http.StatusConflict
	case errors.Is(err, node.ErrHalted), errors.Is(err, node.ErrShutdown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

func requirePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")

	json.NewEncoder(w).Encode(v)
}
