package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"passlog/ingest"
	"passlog/pager"
	"passlog/store"
)

const maxLogPage = 1000

// LogPage is one slice of a case's log lines.
type LogPage struct {
	More  bool             `json:"more"`
	Lines []*store.LogLine `json:"lines"`
}

// GET /v1/suites?after=<id>&limit=<n>&deleted=true
// GET /v1/suites?watch=true
func (s *Server) listSuites(c *gin.Context) {
	watch, err := queryBool(c, "watch")
	if err != nil {
		fail(c, err)
		return
	}
	if watch {
		s.watchSuites(c)
		return
	}

	opts := pager.Options{}
	if opts.IncludeDeleted, err = queryBool(c, "deleted"); err != nil {
		fail(c, err)
		return
	}
	if opts.Limit, err = queryLimit(c); err != nil {
		fail(c, err)
		return
	}

	var page *pager.Page
	if after := c.Query("after"); after != "" {
		page, err = s.pager.PageAfter(c.Request.Context(), after, opts)
	} else {
		page, err = s.pager.FirstPage(c.Request.Context(), opts)
	}
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (s *Server) getSuite(c *gin.Context) {
	suite, err := s.store.GetSuite(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, suite)
}

func (s *Server) listCases(c *gin.Context) {
	cases, err := s.store.ListCases(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cases)
}

func (s *Server) getSuiteSummary(c *gin.Context) {
	summary, err := s.store.GetSuiteSummary(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

func (s *Server) getCase(c *gin.Context) {
	cs, err := s.store.GetCase(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cs)
}

// GET /v1/cases/:id/logs?after=<idx>&limit=<n>
func (s *Server) listLogLines(c *gin.Context) {
	after := int64(-1)
	if raw := c.Query("after"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			fail(c, fmt.Errorf("%w: after must be a log index", errBadQuery))
			return
		}
		after = v
	}
	limit, err := queryLimit(c)
	if err != nil {
		fail(c, err)
		return
	}
	if limit == 0 || limit > maxLogPage {
		limit = maxLogPage
	}

	lines, err := s.store.ListLogLines(c.Request.Context(), c.Param("id"), after, limit+1)
	if err != nil {
		fail(c, err)
		return
	}
	page := LogPage{Lines: lines}
	if len(lines) > limit {
		page.More = true
		page.Lines = lines[:limit]
	}
	c.JSON(http.StatusOK, page)
}

func (s *Server) getLogLine(c *gin.Context) {
	line, err := s.store.GetLogLine(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, line)
}

// GET /v1/attachments?suite=<id>|case=<id>&deleted=true
func (s *Server) listAttachments(c *gin.Context) {
	filter := store.AttachmentFilter{
		SuiteID: c.Query("suite"),
		CaseID:  c.Query("case"),
	}
	var err error
	if filter.IncludeDeleted, err = queryBool(c, "deleted"); err != nil {
		fail(c, err)
		return
	}
	attachments, err := s.store.ListAttachments(c.Request.Context(), filter)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, attachments)
}

func (s *Server) getAttachment(c *gin.Context) {
	a, err := s.store.GetAttachment(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (s *Server) startSuite(c *gin.Context) {
	var req ingest.StartSuiteRequest
	if !bindOptional(c, &req) {
		return
	}
	suite, err := s.ingest.StartSuite(c.Request.Context(), req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, suite)
}

func (s *Server) updateSuite(c *gin.Context) {
	var req ingest.UpdateSuiteRequest
	if !bind(c, &req) {
		return
	}
	suite, err := s.ingest.UpdateSuite(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, suite)
}

// DELETE /v1/suites/:id?version=<n>
func (s *Server) deleteSuite(c *gin.Context) {
	version, err := queryVersion(c)
	if err != nil {
		fail(c, err)
		return
	}
	suite, err := s.ingest.DeleteSuite(c.Request.Context(), c.Param("id"), version)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, suite)
}

func (s *Server) createCase(c *gin.Context) {
	var req ingest.CreateCaseRequest
	if !bindOptional(c, &req) {
		return
	}
	cs, err := s.ingest.CreateCase(c.Request.Context(), req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, cs)
}

func (s *Server) updateCase(c *gin.Context) {
	var req ingest.UpdateCaseRequest
	if !bind(c, &req) {
		return
	}
	cs, err := s.ingest.UpdateCase(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cs)
}

func (s *Server) appendLog(c *gin.Context) {
	var req ingest.AppendLogRequest
	if !bind(c, &req) {
		return
	}
	line, err := s.ingest.AppendLog(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, line)
}

func (s *Server) createAttachment(c *gin.Context) {
	var req ingest.CreateAttachmentRequest
	if !bind(c, &req) {
		return
	}
	a, err := s.ingest.CreateAttachment(c.Request.Context(), req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, a)
}

func (s *Server) deleteAttachment(c *gin.Context) {
	version, err := queryVersion(c)
	if err != nil {
		fail(c, err)
		return
	}
	a, err := s.ingest.DeleteAttachment(c.Request.Context(), c.Param("id"), version)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.String(http.StatusBadRequest, "invalid request body: %s", err.Error())
		return false
	}
	return true
}

// bindOptional accepts an empty body for requests whose fields are all optional.
func bindOptional(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil && !errors.Is(err, io.EOF) {
		c.String(http.StatusBadRequest, "invalid request body: %s", err.Error())
		return false
	}
	return true
}

func queryBool(c *gin.Context, key string) (bool, error) {
	raw := c.Query(key)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%w: %s must be a boolean", errBadQuery, key)
	}
	return v, nil
}

func queryLimit(c *gin.Context) (int, error) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return 0, fmt.Errorf("%w: limit must be a positive integer", errBadQuery)
	}
	return v, nil
}

// queryVersion reads the expected version of a delete. Missing means 0,
// which deletes unconditionally.
func queryVersion(c *gin.Context) (int64, error) {
	raw := c.Query("version")
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%w: version must be a non-negative integer", errBadQuery)
	}
	return v, nil
}
