package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dgallion1/docingest/internal/pipeline"
	"github.com/dgallion1/docingest/internal/vectorstore"
)

// handleListDocuments lists stored documents with their chunk counts.
func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := s.service.ListDocuments(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if docs == nil {
		docs = []vectorstore.DocumentInfo{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs, "total": len(docs)})
}

// handleDeleteDocument deletes every chunk of a document.
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")
	deleted, err := s.service.DeleteDocument(r.Context(), docID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !deleted {
		s.writeError(w, fmt.Errorf("%w: %s", vectorstore.ErrDocumentNotFound, docID))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"document_id": docID, "deleted": true})
}

type searchRequest struct {
	Query          string   `json:"query"`
	Limit          int      `json:"limit"`
	ScoreThreshold *float32 `json:"score_threshold"`
}

type searchHit struct {
	ID           string    `json:"id"`
	Score        float32   `json:"score"`
	DocumentID   string    `json:"document_id"`
	ChunkIndex   int       `json:"chunk_index"`
	Text         string    `json:"text"`
	SearchText   string    `json:"search_text"`
	Filename     string    `json:"filename"`
	FileType     string    `json:"file_type"`
	UploadedAt   time.Time `json:"uploaded_at"`
	Lvl1         string    `json:"lvl1,omitempty"`
	Lvl2         string    `json:"lvl2,omitempty"`
	Lvl3         string    `json:"lvl3,omitempty"`
	Lvl4         string    `json:"lvl4,omitempty"`
	Locator      string    `json:"locator,omitempty"`
	Sheet        string    `json:"sheet,omitempty"`
	Page         int       `json:"page,omitempty"`
	IsNumeric    bool      `json:"is_numeric"`
	ColumnHeader string    `json:"column_header,omitempty"`
}

func toHit(r vectorstore.SearchResult) searchHit {
	return searchHit{
		ID:           r.ID,
		Score:        r.Score,
		DocumentID:   r.DocumentID,
		ChunkIndex:   r.ChunkIndex,
		Text:         r.ContextText,
		SearchText:   r.SearchText,
		Filename:     r.Filename,
		FileType:     r.FileType,
		UploadedAt:   r.UploadedAt,
		Lvl1:         r.Meta.Lvl1,
		Lvl2:         r.Meta.Lvl2,
		Lvl3:         r.Meta.Lvl3,
		Lvl4:         r.Meta.Lvl4,
		Locator:      r.Meta.Locator,
		Sheet:        r.Meta.Sheet,
		Page:         r.Meta.Page,
		IsNumeric:    r.Meta.IsNumeric,
		ColumnHeader: r.Meta.ColumnHeader,
	}
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		jsonError(w, "invalid json body: "+err.Error(), http.StatusBadRequest)
		return
	}

	results, err := s.service.Search(r.Context(), pipeline.SearchRequest{
		Query:          req.Query,
		Limit:          req.Limit,
		ScoreThreshold: req.ScoreThreshold,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	hits := make([]searchHit, 0, len(results))
	for _, res := range results {
		hits = append(hits, toHit(res))
	}
	writeJSON(w, http.StatusOK, map[string]any{"query": req.Query, "results": hits, "total": len(hits)})
}

type keywordsRequest struct {
	Text string `json:"text"`
	Max  int    `json:"max"`
}

func (s *Server) handleKeywords(w http.ResponseWriter, r *http.Request) {
	var req keywordsRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		jsonError(w, "invalid json body: "+err.Error(), http.StatusBadRequest)
		return
	}
	kw, err := s.service.Keywords(req.Text, req.Max)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"keywords": kw})
}

// handleOutline lists the distinct labels at one outline level, optionally
// restricted to a parent label passed in the parentParam query parameter.
func (s *Server) handleOutline(level vectorstore.OutlineLevel, parentParam string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := vectorstore.OutlineQuery{Level: level}
		if parentParam != "" {
			q.Parent = strings.TrimSpace(r.URL.Query().Get(parentParam))
		}
		labels, err := s.service.Outline(r.Context(), q)
		if err != nil {
			s.writeError(w, err)
			return
		}
		if labels == nil {
			labels = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": labels, "total": len(labels)})
	}
}
