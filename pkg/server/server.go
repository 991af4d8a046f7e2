package server

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/denysvitali/deployment-downloader/internal/models"
	"github.com/denysvitali/deployment-downloader/pkg/config"
	"github.com/denysvitali/deployment-downloader/pkg/telemetry"
)

// uidNamespace scopes the name-based uids handed out for local files
var uidNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("deployment-downloader/local"))

// Server exposes a local directory through the deployment file API
type Server struct {
	config  *config.Config
	logger  *logrus.Logger
	rootDir string
	engine  *gin.Engine
	server  *http.Server

	mu    sync.RWMutex
	index map[string]string // uid -> relative path
}

// New creates a new server instance
func New(cfg *config.Config, logger *logrus.Logger) (*Server, error) {
	rootDir, err := filepath.Abs(cfg.Server.RootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root directory: %w", err)
	}
	info, err := os.Stat(rootDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open root directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root directory %s is not a directory", rootDir)
	}

	// Set gin mode based on log level
	if logger.Level == logrus.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(ginLogger(logger))

	if cfg.Telemetry.Enabled {
		engine.Use(otelgin.Middleware(telemetry.ServiceName))
	}

	s := &Server{
		config:  cfg,
		logger:  logger,
		rootDir: rootDir,
		engine:  engine,
		index:   make(map[string]string),
	}

	s.setupRoutes()

	return s, nil
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Server.Port),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Infof("Serving %s as deployment %q on port %d", s.rootDir, s.config.Server.DeploymentID, s.config.Server.Port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Engine returns the gin engine for testing purposes
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// FileUID returns the uid served for a slash-separated path relative to the root
func FileUID(relPath string) string {
	return uuid.NewSHA1(uidNamespace, []byte(relPath)).String()
}

func (s *Server) setupRoutes() {
	s.engine.GET("/alive", s.handleAlive)

	files := s.engine.Group("/:deploymentID/files")
	if s.config.Server.BearerToken != "" {
		files.Use(authMiddleware(s.config.Server.BearerToken))
	}
	files.Use(s.deploymentMiddleware())
	files.GET("", s.handleListFiles)
	files.GET("/:uid", s.handleGetFile)
}

// handleAlive handles health check requests
func (s *Server) handleAlive(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleListFiles returns the tree of the root directory
func (s *Server) handleListFiles(c *gin.Context) {
	tracer := otel.Tracer(telemetry.ServiceName)
	_, span := tracer.Start(c.Request.Context(), "handle_list_files")
	defer span.End()

	index := make(map[string]string)
	nodes, err := s.buildTree(s.rootDir, "", index)
	if err != nil {
		span.RecordError(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("failed to list files: %v", err)})
		return
	}

	s.mu.Lock()
	s.index = index
	s.mu.Unlock()

	span.SetAttributes(attribute.Int("files.count", len(index)))
	c.JSON(http.StatusOK, nodes)
}

// handleGetFile returns one file as base64 in a data envelope
func (s *Server) handleGetFile(c *gin.Context) {
	tracer := otel.Tracer(telemetry.ServiceName)
	_, span := tracer.Start(c.Request.Context(), "handle_get_file")
	defer span.End()

	uid := c.Param("uid")
	span.SetAttributes(attribute.String("file.uid", uid))

	relPath, ok := s.lookup(uid)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		return
	}

	content, err := os.ReadFile(filepath.Join(s.rootDir, filepath.FromSlash(relPath)))
	if err != nil {
		span.RecordError(err)
		if os.IsNotExist(err) {
			c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("failed to read file: %v", err)})
		return
	}

	c.JSON(http.StatusOK, models.FileContent{Data: base64.StdEncoding.EncodeToString(content)})
}

// lookup resolves a uid, rebuilding the index when a client skipped the listing
func (s *Server) lookup(uid string) (string, bool) {
	s.mu.RLock()
	relPath, ok := s.index[uid]
	s.mu.RUnlock()
	if ok {
		return relPath, true
	}

	index := make(map[string]string)
	if _, err := s.buildTree(s.rootDir, "", index); err != nil {
		s.logger.Warnf("Failed to index %s: %v", s.rootDir, err)
		return "", false
	}
	s.mu.Lock()
	s.index = index
	s.mu.Unlock()

	relPath, ok = index[uid]
	return relPath, ok
}

// buildTree lists dir recursively in the API's node shape and records every file uid
func (s *Server) buildTree(dir, rel string, index map[string]string) ([]models.TreeNode, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	nodes := make([]models.TreeNode, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		childRel := name
		if rel != "" {
			childRel = rel + "/" + name
		}

		switch {
		case entry.IsDir():
			children, err := s.buildTree(filepath.Join(dir, name), childRel, index)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, models.TreeNode{Name: name, Type: models.NodeTypeDirectory, Children: children})
		case entry.Type().IsRegular():
			uid := FileUID(childRel)
			index[uid] = childRel
			nodes = append(nodes, models.TreeNode{Name: name, Type: models.NodeTypeFile, UID: uid})
		}
	}
	return nodes, nil
}

// deploymentMiddleware rejects deployment ids other than the one being served
func (s *Server) deploymentMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Param("deploymentID") != s.config.Server.DeploymentID {
			c.JSON(http.StatusNotFound, gin.H{"error": "deployment not found"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// ginLogger creates a gin logger middleware using logrus
func ginLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		statusCode := c.Writer.Status()
		entry := logger.WithFields(logrus.Fields{
			"status":  statusCode,
			"method":  c.Request.Method,
			"path":    path,
			"ip":      c.ClientIP(),
			"latency": time.Since(start),
		})

		if statusCode >= 500 {
			entry.Error("Server error")
		} else if statusCode >= 400 {
			entry.Warn("Client error")
		} else {
			entry.Debug("Request completed")
		}
	}
}

// authMiddleware validates the bearer token
func authMiddleware(expectedToken string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || token != expectedToken {
			c.JSON(http.StatusForbidden, gin.H{"error": "Invalid bearer token"})
			c.Abort()
			return
		}
		c.Next()
	}
}
