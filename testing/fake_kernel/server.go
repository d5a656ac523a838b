package fake_kernel

import (
	"net/http"
	"net/http/httptest"
	"sync"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	cmap "github.com/orcaman/concurrent-map/v2"
	"nhooyr.io/websocket"

	"github.com/scusemua/notebook-kernel-client/common/jupyter"
	"github.com/scusemua/notebook-kernel-client/common/jupyter/rest"
)

const (
	DefaultKernelName = "python3"
)

// Server is an in-process notebook server that implements the kernel REST endpoints and the kernel
// channels websocket on top of FakeKernel instances.
type Server struct {
	// Token, if set, must be presented as "Authorization: token <Token>" on every request.
	Token string

	// ReplyBeforeIdle controls the order in which kernels created from now on send the shell reply and
	// the final idle status of a request.
	ReplyBeforeIdle bool

	engine     *gin.Engine
	httpServer *httptest.Server
	kernels    cmap.ConcurrentMap[string, *FakeKernel]

	mu  sync.Mutex
	log logger.Logger
}

// NewServer creates a Server. It does not listen until Start is called.
func NewServer(token string) *Server {
	s := &Server{
		Token:   token,
		kernels: cmap.New[*FakeKernel](),
	}
	config.InitLogger(&s.log, s)

	gin.SetMode(gin.TestMode)
	s.engine = gin.New()
	s.engine.Use(gin.Recovery())
	s.engine.Use(s.authenticate)

	api := s.engine.Group("/api/kernels")
	api.GET("", s.handleListKernels)
	api.POST("", s.handleStartKernel)
	api.GET("/:kernel_id", s.handleGetKernel)
	api.DELETE("/:kernel_id", s.handleDeleteKernel)
	api.POST("/:kernel_id/interrupt", s.handleInterruptKernel)
	api.POST("/:kernel_id/restart", s.handleRestartKernel)
	api.GET("/:kernel_id/channels", s.handleChannels)

	return s
}

// Start begins serving on a random local port.
func (s *Server) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.httpServer = httptest.NewServer(s.engine)
	s.log.Debug("Fake notebook server is listening at %s", s.httpServer.URL)
}

// URL returns the http URL of the server.
func (s *Server) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpServer == nil {
		return ""
	}

	return s.httpServer.URL
}

// Close shuts every kernel down and stops the server.
func (s *Server) Close() {
	for _, kernel := range s.kernels.Items() {
		kernel.Close(websocket.StatusGoingAway)
	}
	s.kernels.Clear()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpServer != nil {
		s.httpServer.CloseClientConnections()
		s.httpServer.Close()
		s.httpServer = nil
	}
}

// AddKernel registers a kernel as if it had been started through the REST API.
func (s *Server) AddKernel(name string) *FakeKernel {
	if name == "" {
		name = DefaultKernelName
	}

	s.mu.Lock()
	replyBeforeIdle := s.ReplyBeforeIdle
	s.mu.Unlock()

	kernel := NewFakeKernel(uuid.NewString(), name, replyBeforeIdle)
	s.kernels.Set(kernel.ID, kernel)

	return kernel
}

// Kernel returns the kernel with the given id.
func (s *Server) Kernel(kernelId string) (*FakeKernel, bool) {
	return s.kernels.Get(kernelId)
}

// KillKernel removes a kernel without closing its connections cleanly, as happens when a kernel
// process dies and the server culls it.
func (s *Server) KillKernel(kernelId string) {
	kernel, ok := s.kernels.Pop(kernelId)
	if !ok {
		return
	}

	kernel.DropConnections()
}

func (s *Server) authenticate(c *gin.Context) {
	if s.Token == "" {
		c.Next()
		return
	}

	if c.GetHeader("Authorization") != "token "+s.Token {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"message": "Forbidden"})
		return
	}

	c.Next()
}

func (s *Server) lookup(c *gin.Context) (*FakeKernel, bool) {
	kernelId := c.Param("kernel_id")

	kernel, ok := s.kernels.Get(kernelId)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"message": "Kernel does not exist: " + kernelId})
		return nil, false
	}

	return kernel, true
}

func (s *Server) handleListKernels(c *gin.Context) {
	models := make([]*rest.Kernel, 0, s.kernels.Count())
	for _, kernel := range s.kernels.Items() {
		models = append(models, kernel.Model())
	}

	c.JSON(http.StatusOK, models)
}

func (s *Server) handleStartKernel(c *gin.Context) {
	var body struct {
		Name string `json:"name"`
	}

	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
			return
		}
	}

	kernel := s.AddKernel(body.Name)
	s.log.Debug("Started kernel %s (%s).", kernel.ID, kernel.Name)

	c.JSON(http.StatusCreated, kernel.Model())
}

func (s *Server) handleGetKernel(c *gin.Context) {
	if kernel, ok := s.lookup(c); ok {
		c.JSON(http.StatusOK, kernel.Model())
	}
}

func (s *Server) handleDeleteKernel(c *gin.Context) {
	kernel, ok := s.lookup(c)
	if !ok {
		return
	}

	s.kernels.Remove(kernel.ID)
	kernel.Close(websocket.StatusNormalClosure)

	c.Status(http.StatusNoContent)
}

func (s *Server) handleInterruptKernel(c *gin.Context) {
	if kernel, ok := s.lookup(c); ok {
		kernel.Interrupt()
		c.Status(http.StatusNoContent)
	}
}

func (s *Server) handleRestartKernel(c *gin.Context) {
	if kernel, ok := s.lookup(c); ok {
		kernel.Restart()
		c.JSON(http.StatusOK, kernel.Model())
	}
}

func (s *Server) handleChannels(c *gin.Context) {
	kernel, ok := s.lookup(c)
	if !ok {
		return
	}

	sessionId := c.Query(jupyter.SessionIdQueryParameter)
	if sessionId == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "missing " + jupyter.SessionIdQueryParameter})
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		s.log.Error("Failed to accept websocket connection because: %v", err)
		return
	}

	// Serve returns once the connection is gone; the handler must not write to c afterwards.
	kernel.Serve(c.Request.Context(), conn, sessionId)
}
