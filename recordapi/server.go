package recordapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tarik02/apiproxy/api"
	"github.com/tarik02/apiproxy/entevents"
	"github.com/tarik02/apiproxy/logging"
	"github.com/tarik02/apiproxy/recordstore"
	"github.com/tarik02/apiproxy/util"
	"github.com/tarik02/apiproxy/validate"
	bearertoken "github.com/vence722/gin-middleware-bearer-token"
	"go.uber.org/zap"
)

type Server struct {
	store   recordstore.Store
	events  *entevents.Manager[api.Record]
	version string

	// ValidateToken guards mutations; nil leaves them open.
	ValidateToken func(string) bool
	// AuthEnabled is consulted per request so a config reload can turn the
	// guard on or off; nil means enabled whenever ValidateToken is set.
	AuthEnabled func() bool
}

func New(store recordstore.Store, events *entevents.Manager[api.Record], version string) *Server {
	return &Server{
		store:   store,
		events:  events,
		version: version,
	}
}

func (s *Server) Register(r gin.IRouter) {
	r.GET("/health", s.health)

	records := r.Group("/api/records")
	records.GET("", s.list)
	records.GET("/:id", s.get)

	mutations := records.Group("", s.requireToken())
	mutations.POST("", s.create)
	mutations.PUT("/:id", s.update)
	mutations.DELETE("/:id", s.delete)

	events := r.Group("/api/events/records")
	events.GET("", s.events.ServeSnapshot)
	events.GET("/live", s.events.ServeSSE)
}

func (s *Server) requireToken() gin.HandlerFunc {
	auth := bearertoken.Middleware(func(token string, c *gin.Context) bool {
		if s.ValidateToken(token) {
			return true
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return false
	})

	return func(c *gin.Context) {
		if s.ValidateToken == nil || (s.AuthEnabled != nil && !s.AuthEnabled()) {
			c.Next()
			return
		}
		auth(c)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, api.Health{Status: "ok", Version: s.version})
}

func (s *Server) list(c *gin.Context) {
	q := recordstore.Query{
		Actividad: strings.TrimSpace(c.Query("actividad")),
		From:      strings.TrimSpace(c.Query("from")),
		To:        strings.TrimSpace(c.Query("to")),
		SortBy:    strings.TrimSpace(c.Query("sort")),
	}
	q.Desc, _ = strconv.ParseBool(c.Query("desc"))
	if l := c.Query("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		q.Limit = n
	}

	records, err := s.store.Search(c.Request.Context(), q)
	if errors.Is(err, recordstore.ErrInvalidSort) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		s.internalError(c, err)
		return
	}

	c.JSON(http.StatusOK, records)
}

func (s *Server) get(c *gin.Context) {
	id, ok := s.recordID(c)
	if !ok {
		return
	}

	rec, err := s.store.Get(c.Request.Context(), id)
	if err != nil {
		s.storeError(c, err)
		return
	}

	c.JSON(http.StatusOK, rec)
}

func (s *Server) create(c *gin.Context) {
	rec, ok := s.readRecord(c)
	if !ok {
		return
	}

	rec, err := s.store.Add(c.Request.Context(), rec)
	if err != nil {
		s.internalError(c, err)
		return
	}

	s.publish(c, entevents.EventTypeAdd, rec)
	c.JSON(http.StatusCreated, api.Created{ID: rec.ID})
}

func (s *Server) update(c *gin.Context) {
	id, ok := s.recordID(c)
	if !ok {
		return
	}
	rec, ok := s.readRecord(c)
	if !ok {
		return
	}
	rec.ID = id

	rec, err := s.store.Update(c.Request.Context(), rec)
	if err != nil {
		s.storeError(c, err)
		return
	}

	s.publish(c, entevents.EventTypeUpdate, rec)
	c.JSON(http.StatusOK, rec)
}

func (s *Server) delete(c *gin.Context) {
	id, ok := s.recordID(c)
	if !ok {
		return
	}

	if err := s.store.Delete(c.Request.Context(), id); err != nil {
		s.storeError(c, err)
		return
	}

	s.publish(c, entevents.EventTypeDel, api.Record{ID: id})
	c.Status(http.StatusNoContent)
}

func (s *Server) readRecord(c *gin.Context) (api.Record, bool) {
	fields, err := util.ReadFields(c)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return api.Record{}, false
	}
	delete(fields, "id")

	if errs := validate.RecordSchema.Validate(fields); len(errs) > 0 {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{
			"error":   strings.Join(errs, "; "),
			"details": errs,
		})
		return api.Record{}, false
	}

	return RecordFromFields(validate.RecordSchema.Normalize(fields)), true
}

func (s *Server) recordID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "id must be a positive integer"})
		return 0, false
	}
	return id, true
}

func (s *Server) publish(c *gin.Context, typ string, rec api.Record) {
	ctx := c.Request.Context()
	id := strconv.Itoa(rec.ID)

	var err error
	switch typ {
	case entevents.EventTypeAdd:
		err = s.events.Add(ctx, id, rec)
	case entevents.EventTypeUpdate:
		err = s.events.Update(ctx, id, rec)
	case entevents.EventTypeDel:
		err = s.events.Del(ctx, id)
	}
	if err != nil {
		logging.FromContext(ctx).Debug("record event not published", zap.String("type", typ), zap.Error(err))
	}
}

func (s *Server) storeError(c *gin.Context, err error) {
	if errors.Is(err, recordstore.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	s.internalError(c, err)
}

func (s *Server) internalError(c *gin.Context, err error) {
	logging.FromContext(c.Request.Context()).Error("record store error", zap.Error(err))
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

// Seed publishes the records already in the store so the event snapshot starts
// complete.
func (s *Server) Seed(ctx context.Context) error {
	records, err := s.store.List(ctx)
	if err != nil {
		return err
	}
	for _, rec := range records {
		if err := s.events.Add(ctx, strconv.Itoa(rec.ID), rec); err != nil {
			return err
		}
	}
	return nil
}
