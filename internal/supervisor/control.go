package supervisor

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/bft-labs/localnet/internal/domain"
	"github.com/bft-labs/localnet/pkg/log"
)

// Control API paths served on the control socket.
const (
	PathStatus   = "/v1/status"
	PathShutdown = "/v1/shutdown"
	// PathProcessAction takes {name} and {action}: start, stop, restart or terminate.
	PathProcessAction = "/v1/processes/{name}/{action}"
)

// ErrorResponse is the JSON body of a failed control request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ControlServer exposes a Supervisor over HTTP on a unix socket so other
// localnet invocations can query and steer a running cluster.
type ControlServer struct {
	sup    *Supervisor
	path   string
	logger log.Logger
	srv    *http.Server
	ln     net.Listener
}

// NewControlServer creates a server for sup listening on socketPath.
func NewControlServer(sup *Supervisor, socketPath string, logger log.Logger) *ControlServer {
	c := &ControlServer{sup: sup, path: socketPath, logger: logger}
	mux := http.NewServeMux()
	mux.HandleFunc("GET "+PathStatus, c.handleStatus)
	mux.HandleFunc("POST "+PathShutdown, c.handleShutdown)
	mux.HandleFunc("POST "+PathProcessAction, c.handleAction)
	c.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	return c
}

// Start listens on the socket and serves in the background. A socket file
// left behind by a dead supervisor is replaced.
func (c *ControlServer) Start() error {
	if _, err := os.Stat(c.path); err == nil {
		if conn, err := net.Dial("unix", c.path); err == nil {
			conn.Close()
			return &domain.LockError{Path: c.path, HolderPID: -1, Operation: "serve"}
		}
		_ = os.Remove(c.path)
	}
	ln, err := net.Listen("unix", c.path)
	if err != nil {
		return err
	}
	c.ln = ln
	go func() {
		if err := c.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.logger.Error("control server stopped", log.Err(err))
		}
	}()
	c.logger.Debug("control server listening", log.String("socket", c.path))
	return nil
}

// Close stops the server and removes the socket.
func (c *ControlServer) Close() error {
	err := c.srv.Close()
	_ = os.Remove(c.path)
	return err
}

func (c *ControlServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, c.sup.Statuses())
}

func (c *ControlServer) handleShutdown(w http.ResponseWriter, r *http.Request) {
	go c.sup.Shutdown()
	w.WriteHeader(http.StatusAccepted)
}

func (c *ControlServer) handleAction(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var err error
	switch action := r.PathValue("action"); action {
	case "start":
		err = c.sup.StartProcess(name)
	case "stop":
		err = c.sup.Stop(name)
	case "restart":
		err = c.sup.Restart(name)
	case "terminate":
		err = c.sup.Terminate(name)
	default:
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "unknown action " + action})
		return
	}
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, domain.ErrUnknownProcess):
			status = http.StatusNotFound
		case errors.Is(err, domain.ErrNotRunning):
			status = http.StatusConflict
		}
		writeJSON(w, status, ErrorResponse{Error: err.Error()})
		return
	}
	if name == AllProcesses {
		writeJSON(w, http.StatusOK, c.sup.Statuses())
		return
	}
	info, _ := c.sup.Status(name)
	writeJSON(w, http.StatusOK, []domain.ProcessInfo{info})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
