// Package facade implements the retrieval façade: an HTTP surface that
// resolves a logical (task, path) pair to a container member, fetches and
// caches the container, and serves the bytes. In the style of
// avogabo-EDRmount's internal/api server, routes are built directly on
// *http.ServeMux rather than a third-party router.
package facade

import (
	"encoding/json"
	"net/http"
	"os"
	"path"
	"regexp"
	"strconv"
	"time"

	"github.com/cafworker/cafworker/internal/blobservice"
	"github.com/cafworker/cafworker/internal/cache"
	"github.com/cafworker/cafworker/internal/caf"
	"github.com/cafworker/cafworker/internal/catalog"
	"github.com/cafworker/cafworker/internal/debug"
)

var taskIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Config configures the façade.
type Config struct {
	WorkerID           string
	AllowedOrigins     []string
	DownloadTimeout    time.Duration // default 300s.
	KeepCAFFiles       bool
}

func (c Config) downloadTimeout() time.Duration {
	if c.DownloadTimeout > 0 {
		return c.DownloadTimeout
	}
	return 300 * time.Second
}

// Server is the HTTP retrieval façade.
type Server struct {
	cfg   Config
	cat   *catalog.Catalog
	blob  blobservice.Service
	cc    *cache.ContainerCache
	proof *cache.ProofCache
	mux   *http.ServeMux
	start time.Time
}

// New wires the façade's routes around its collaborators.
func New(cfg Config, cat *catalog.Catalog, blob blobservice.Service, cc *cache.ContainerCache, proof *cache.ProofCache) *Server {
	s := &Server{
		cfg:   cfg,
		cat:   cat,
		blob:  blob,
		cc:    cc,
		proof: proof,
		mux:   http.NewServeMux(),
		start: time.Now(),
	}

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /file/{taskId}/{filePath...}", s.handleFile)
	s.mux.HandleFunc("GET /file-info/{taskId}/{filePath...}", s.handleFileInfo)
	s.mux.HandleFunc("GET /file-proof/{taskId}/{filePath...}", s.handleFileProof)
	s.mux.HandleFunc("OPTIONS /", s.handlePreflight)

	return s
}

// Handler returns the façade wrapped with CORS handling, suitable for
// http.Server.Handler.
func (s *Server) Handler() http.Handler {
	return s.withCORS(s.mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"workerId":  s.cfg.WorkerID,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handlePreflight(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// validateInputs applies uniform input validation shared by the three data
// endpoints.
func validateInputs(w http.ResponseWriter, r *http.Request) (taskID, filePath string, ok bool) {
	taskID = r.PathValue("taskId")
	filePath = r.PathValue("filePath")

	if taskID == "" || !taskIDPattern.MatchString(taskID) {
		writeErr(w, http.StatusBadRequest, "Invalid taskId format", taskID, filePath)
		return "", "", false
	}
	if filePath == "" || containsTraversal(filePath) {
		writeErr(w, http.StatusBadRequest, "Invalid filePath format", taskID, filePath)
		return "", "", false
	}
	return taskID, filePath, true
}

func containsTraversal(p string) bool {
	if len(p) > 0 && p[0] == '/' {
		return true
	}
	for _, seg := range splitPath(p) {
		if seg == ".." || seg == "~" {
			return true
		}
	}
	return false
}

func splitPath(p string) []string {
	var segs []string
	start := 0
	for i := 0; i <= len(p); i++ {
		if i == len(p) || p[i] == '/' {
			segs = append(segs, p[start:i])
			start = i + 1
		}
	}
	return segs
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	taskID, filePath, ok := validateInputs(w, r)
	if !ok {
		return
	}

	rec, err := s.cat.Lookup(taskID, filePath)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "catalog lookup failed", taskID, filePath)
		return
	}
	if rec == nil {
		writeErr(w, http.StatusNotFound, "no such file", taskID, filePath)
		return
	}

	local, err := s.resolveContainer(r, rec.BundleID)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err.Error(), taskID, filePath)
		return
	}

	reader, err := caf.NewReader(local)
	if err != nil {
		_ = s.cc.Invalidate(rec.BundleID)
		writeErr(w, http.StatusInternalServerError, "failed to open container", taskID, filePath)
		return
	}
	defer reader.Close()

	if err := reader.LoadIndex(); err != nil {
		_ = s.cc.Invalidate(rec.BundleID)
		writeErr(w, http.StatusInternalServerError, "failed to load container index", taskID, filePath)
		return
	}

	memberPath := taskID + "/" + filePath
	data, err := reader.Extract(memberPath)
	if err != nil {
		// The catalog asserted presence; a missing member means the
		// container is corrupt or stale.
		writeErr(w, http.StatusInternalServerError, "member not found in container", taskID, filePath)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="`+path.Base(filePath)+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)

	s.cc.MaybeCleanup(rec.BundleID)
}

// resolveContainer downloads the container on a cache miss, validates its
// index, and caches the local path for subsequent requests.
func (s *Server) resolveContainer(r *http.Request, containerName string) (string, error) {
	return s.cc.Resolve(containerName, func(dest string) error {
		ctx, cancel := contextWithTimeout(r.Context(), s.cfg.downloadTimeout())
		defer cancel()

		if err := s.blob.GetContainer(ctx, containerName, dest); err != nil {
			return err
		}

		reader, err := caf.NewReader(dest)
		if err != nil {
			_ = os.Remove(dest)
			return err
		}
		defer reader.Close()

		if err := reader.LoadIndex(); err != nil {
			_ = os.Remove(dest)
			return err
		}
		members, err := reader.List()
		if err != nil || len(members) == 0 {
			_ = os.Remove(dest)
			return err
		}
		return nil
	})
}

func (s *Server) handleFileInfo(w http.ResponseWriter, r *http.Request) {
	taskID, filePath, ok := validateInputs(w, r)
	if !ok {
		return
	}

	rec, err := s.cat.Lookup(taskID, filePath)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "catalog lookup failed", taskID, filePath)
		return
	}
	if rec == nil {
		writeErr(w, http.StatusNotFound, "no such file", taskID, filePath)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"filePath":   rec.FilePath,
		"taskId":     rec.TaskID,
		"bundleId":   rec.BundleID,
		"jsWorkerId": rec.JSWorkerID,
		"createdAt":  rec.CreatedAt.Format(time.RFC3339),
		"updatedAt":  rec.UpdatedAt.Format(time.RFC3339),
	})
}

func (s *Server) handleFileProof(w http.ResponseWriter, r *http.Request) {
	taskID, filePath, ok := validateInputs(w, r)
	if !ok {
		return
	}

	rec, err := s.cat.Lookup(taskID, filePath)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "catalog lookup failed", taskID, filePath)
		return
	}
	if rec == nil {
		writeErr(w, http.StatusNotFound, "no such file", taskID, filePath)
		return
	}

	key := cache.ProofKey{Container: rec.BundleID, FilePath: filePath, TaskID: taskID}
	if proofs, hit := s.proof.Get(key); hit {
		writeJSON(w, http.StatusOK, map[string]any{"proofs": proofs})
		return
	}

	proofs, err := s.blob.GetProofs(r.Context(), rec.BundleID)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "failed to fetch proofs", taskID, filePath)
		return
	}
	s.proof.Put(key, proofs)
	writeJSON(w, http.StatusOK, map[string]any{"proofs": proofs})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		debug.Log("facade: failed to encode response: %v", err)
	}
}

func writeErr(w http.ResponseWriter, status int, message, taskID, filePath string) {
	writeJSON(w, status, map[string]any{
		"error":    message,
		"taskId":   taskID,
		"filePath": filePath,
	})
}
