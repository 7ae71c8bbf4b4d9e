// Package api is the small read-only HTTP surface over the Key-Value
// Repository (C1) and Execution Selector (C6) used for operational
// visibility — dashboards and manual inspection, never a write path.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/elephant-xyz/workflow-core/pkg/selector"
	"github.com/elephant-xyz/workflow-core/pkg/stateaggregate"
)

// HealthChecker reports the backing store's connectivity; *kvstore.Store
// satisfies it through its Ping method.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Selector is the subset of pkg/selector.Selector the API depends on.
type Selector interface {
	Pick(ctx context.Context, order selector.SortOrder, errorType string) (*selector.ExecutionSummary, error)
}

// AggregateReader is the subset of pkg/stateaggregate.Engine the API
// depends on.
type AggregateReader interface {
	GetAggregate(ctx context.Context, county, dataGroup, phase, step string) (*stateaggregate.AggregateCounts, error)
}

// Server wires the query endpoints onto a gin router.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	selector   Selector
	aggregates AggregateReader
	health     HealthChecker
}

// New builds a Server. The listen address is given to Start.
func New(sel Selector, aggregates AggregateReader, health HealthChecker, ginMode string) *Server {
	gin.SetMode(ginMode)
	router := gin.Default()

	s := &Server{router: router, selector: sel, aggregates: aggregates, health: health}
	router.GET("/health", s.handleHealth)
	router.GET("/executions/most", s.handleExecution(selector.SortMost))
	router.GET("/executions/least", s.handleExecution(selector.SortLeast))
	router.GET("/aggregates", s.handleAggregate)
	return s
}

// Start listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.router}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("query api server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shut down query api server: %w", err)
		}
		return nil
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := s.health.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

type executionResponse struct {
	ExecutionID    string      `json:"executionId"`
	County         string      `json:"county"`
	ErrorType      string      `json:"errorType"`
	Status         string      `json:"status"`
	OpenErrorCount int64       `json:"openErrorCount"`
	PreparedS3URI  string      `json:"preparedS3Uri,omitempty"`
	ErrorsS3URI    string      `json:"errorsS3Uri,omitempty"`
	Links          []linkEntry `json:"links"`
}

type linkEntry struct {
	Code        string `json:"code"`
	Occurrences int64  `json:"occurrences"`
	Status      string `json:"status"`
}

func (s *Server) handleExecution(order selector.SortOrder) gin.HandlerFunc {
	return func(c *gin.Context) {
		errorType := c.Query("errorType")

		exec, err := s.selector.Pick(c.Request.Context(), order, errorType)
		if err != nil {
			if errors.Is(err, selector.ErrNoExecutions) {
				c.JSON(http.StatusNotFound, gin.H{"error": "no matching execution"})
				return
			}
			slog.Error("query executions failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		links := make([]linkEntry, 0, len(exec.Links))
		for _, l := range exec.Links {
			links = append(links, linkEntry{Code: l.Code, Occurrences: l.Occurrences, Status: l.Status})
		}
		c.JSON(http.StatusOK, executionResponse{
			ExecutionID: exec.ExecutionID, County: exec.County, ErrorType: exec.ErrorType,
			Status: exec.Status, OpenErrorCount: exec.OpenErrorCount,
			PreparedS3URI: exec.PreparedS3URI, ErrorsS3URI: exec.ErrorsS3URI, Links: links,
		})
	}
}

type aggregateResponse struct {
	County         string `json:"county"`
	DataGroupLabel string `json:"dataGroupLabel"`
	Phase          string `json:"phase"`
	Step           string `json:"step"`
	InProgress     int64  `json:"inProgressCount"`
	Failed         int64  `json:"failedCount"`
	Succeeded      int64  `json:"succeededCount"`
}

func (s *Server) handleAggregate(c *gin.Context) {
	county := c.Query("county")
	dataGroup := c.Query("dataGroup")
	phase := c.Query("phase")
	step := c.Query("step")
	if county == "" || dataGroup == "" || phase == "" || step == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "county, dataGroup, phase, and step are all required"})
		return
	}

	counts, err := s.aggregates.GetAggregate(c.Request.Context(), county, dataGroup, phase, step)
	if err != nil {
		if errors.Is(err, stateaggregate.ErrAggregateNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "aggregate cell not found"})
			return
		}
		slog.Error("query aggregate failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, aggregateResponse{
		County: counts.County, DataGroupLabel: counts.DataGroupLabel, Phase: counts.Phase, Step: counts.Step,
		InProgress: counts.InProgress, Failed: counts.Failed, Succeeded: counts.Succeeded,
	})
}
