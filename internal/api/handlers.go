package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/fpang/penguin-studio/internal/apperr"
	"github.com/fpang/penguin-studio/internal/generator"
	"github.com/fpang/penguin-studio/internal/ratelimit"
	"github.com/fpang/penguin-studio/internal/social"
	"github.com/fpang/penguin-studio/internal/store"
	"github.com/fpang/penguin-studio/internal/workflow"
)

type workflowResponse struct {
	Step    workflow.Step `json:"step"`
	Success bool          `json:"success"`
	Message string        `json:"message,omitempty"`
	Error   string        `json:"error,omitempty"`
	Result  any           `json:"result,omitempty"`
}

func (s *server) handleWorkflow(w http.ResponseWriter, r *http.Request) {
	req, err := decodeWorkflowRequest(r)
	if err != nil {
		respondError(w, req.Step, err)
		return
	}

	resp, err := s.wf.Handle(r.Context(), req)
	if err != nil {
		respondError(w, req.Step, err)
		return
	}

	out := workflowResponse{
		Step:    resp.Step,
		Success: resp.Success,
		Message: resp.Message,
		Result:  resp.Result,
	}
	if res, ok := resp.Result.(social.Result); ok {
		out.Error = res.Error
	}
	respondJSON(w, http.StatusOK, out)
}

// decodeWorkflowRequest reads url-encoded or multipart form fields. The
// returned request always carries the step so errors can echo it.
func decodeWorkflowRequest(r *http.Request) (workflow.Request, error) {
	if err := r.ParseMultipartForm(maxFormMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return workflow.Request{Step: r.FormValue("step")}, apperr.Validation("invalid form body")
	}
	field := func(names ...string) string {
		for _, name := range names {
			if v := strings.TrimSpace(r.FormValue(name)); v != "" {
				return v
			}
		}
		return ""
	}

	req := workflow.Request{
		Step:           field("step"),
		ClientID:       ratelimit.ClientIP(r),
		Kind:           field("kind"),
		Prompt:         r.FormValue("prompt"),
		EnhancedPrompt: field("enhancedPrompt"),
		OriginalPrompt: field("originalPrompt"),
		RecordID:       field("recordId", "videoId", "imageId"),
		Decision:       field("decision"),
		MediaURL:       field("mediaUrl", "videoUrl", "imageUrl"),
		Caption:        r.FormValue("caption"),
		Platform:       field("platform"),
		Schedule:       field("schedule"),
		Target:         field("target"),
		Constraints: generator.Constraints{
			Size:        field("size"),
			Quality:     field("quality"),
			Style:       field("style"),
			AspectRatio: field("aspectRatio"),
		},
	}
	if req.Kind == "" {
		switch {
		case r.FormValue("imageId") != "" || r.FormValue("imageUrl") != "":
			req.Kind = string(store.KindImage)
		case r.FormValue("videoId") != "" || r.FormValue("videoUrl") != "":
			req.Kind = string(store.KindVideo)
		}
	}
	if d := field("duration"); d != "" {
		secs, err := strconv.Atoi(d)
		if err != nil || secs <= 0 {
			return req, apperr.Validation("invalid duration: %s", d)
		}
		req.Constraints.Duration = secs
	}
	return req, nil
}

func (s *server) listMedia(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("kind")
	if kind == "" {
		kind = string(workflow.DefaultKind)
	}
	key := strings.ToLower(kind) + "s"

	records, err := s.wf.Records(r.Context(), kind)
	if err != nil {
		if apperr.IsKind(err, apperr.KindValidation) {
			respondError(w, "", err)
			return
		}
		log.Error().Err(err).Str("kind", kind).Msg("Failed to load media records")
		records = []store.MediaRecord{}
	}
	respondJSON(w, http.StatusOK, map[string]any{key: records})
}

func (s *server) deleteMedia(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.wf.DeleteRecord(r.Context(), r.URL.Query().Get("kind"), id); err != nil {
		respondError(w, "", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) rateLimit(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.wf.RateLimit(ratelimit.ClientIP(r)))
}

func (s *server) health(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"kinds":     s.wf.Kinds(),
		"platforms": s.wf.Platforms(),
	})
}
