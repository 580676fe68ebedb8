package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	jobdomain "github.com/smallbiznis/capstan/internal/job/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeJobService struct {
	dispatched []jobdomain.Detail
	dispatchFn func(detail jobdomain.Detail) (*jobdomain.Response, error)
}

func (f *fakeJobService) Dispatch(ctx context.Context, detail jobdomain.Detail) (*jobdomain.Response, error) {
	f.dispatched = append(f.dispatched, detail)
	if f.dispatchFn != nil {
		return f.dispatchFn(detail)
	}
	return &jobdomain.Response{
		ID:           "1234",
		Task:         detail.Task,
		TargetType:   detail.TargetType,
		TargetID:     detail.TargetID,
		State:        jobdomain.JobStateCreated,
		ScheduledFor: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}, nil
}

func (f *fakeJobService) Get(ctx context.Context, id string) (*jobdomain.Response, error) {
	return nil, jobdomain.ErrNotFound
}

func (f *fakeJobService) List(ctx context.Context, req jobdomain.ListRequest) ([]jobdomain.Response, error) {
	return nil, nil
}

func (f *fakeJobService) Cancel(ctx context.Context, id string) (*jobdomain.Response, error) {
	return nil, jobdomain.ErrNotFound
}

func newDispatchRouter(jobSvc jobdomain.Service, handler gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())
	engine.POST("/work", AsyncDispatchMiddleware(jobSvc), handler)
	return engine
}

func TestAsyncDispatchSchedulesOwnerWork(t *testing.T) {
	jobSvc := &fakeJobService{}
	router := newDispatchRouter(jobSvc, func(c *gin.Context) {
		SetDeferredWork(c, jobdomain.Detail{
			Task:       "refresh_pools",
			TargetType: jobdomain.TargetOwner,
			TargetID:   "acme",
		}, nil)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/work", nil))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, jobSvc.dispatched, 1)
	assert.Equal(t, "acme", jobSvc.dispatched[0].TargetID)

	var resp jobdomain.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "refresh_pools", resp.Task)
	assert.Equal(t, jobdomain.JobStateCreated, resp.State)
}

func TestAsyncDispatchServesFallbackForOtherTargets(t *testing.T) {
	jobSvc := &fakeJobService{}
	router := newDispatchRouter(jobSvc, func(c *gin.Context) {
		SetDeferredWork(c, jobdomain.Detail{
			Task:       "refresh_pools",
			TargetType: jobdomain.TargetType("CONSUMER"),
			TargetID:   "c-1",
		}, gin.H{"status": "completed inline"})
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/work", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, jobSvc.dispatched)
	assert.Contains(t, rec.Body.String(), "completed inline")
}

func TestAsyncDispatchLeavesHandlerResponseAlone(t *testing.T) {
	jobSvc := &fakeJobService{}
	router := newDispatchRouter(jobSvc, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/work", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, jobSvc.dispatched)
}

func TestAsyncDispatchPropagatesSchedulingFailure(t *testing.T) {
	jobSvc := &fakeJobService{
		dispatchFn: func(detail jobdomain.Detail) (*jobdomain.Response, error) {
			return nil, fmt.Errorf("%w: connection refused", jobdomain.ErrServiceUnavailable)
		},
	}
	router := newDispatchRouter(jobSvc, func(c *gin.Context) {
		SetDeferredWork(c, jobdomain.Detail{
			Task:       "refresh_pools",
			TargetType: jobdomain.TargetOwner,
			TargetID:   "acme",
		}, nil)
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/work", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "service_unavailable")
}

func TestAsyncDispatchSkipsAfterHandlerError(t *testing.T) {
	jobSvc := &fakeJobService{}
	router := newDispatchRouter(jobSvc, func(c *gin.Context) {
		SetDeferredWork(c, jobdomain.Detail{
			Task:       "refresh_pools",
			TargetType: jobdomain.TargetOwner,
			TargetID:   "acme",
		}, nil)
		AbortWithError(c, errors.New("boom"))
	})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/work", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Empty(t, jobSvc.dispatched)
}
