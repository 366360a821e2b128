package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mediafetch/fetchd/internal/captcha"
	"github.com/mediafetch/fetchd/internal/fetch"
	"github.com/mediafetch/fetchd/internal/job"
)

type redeemRequest struct {
	ChallengeID string `json:"challenge_id"`
	Code        string `json:"code"`
}

type probeRequest struct {
	URL string `json:"url"`
}

type downloadRequest struct {
	URL          string `json:"url"`
	Format       string `json:"format"`
	FileExt      string `json:"file_ext"`
	SessionToken string `json:"session_token"`
}

func (s *Server) issueChallenge(w http.ResponseWriter, _ *http.Request) {
	ch, err := s.gate.Issue()
	if err != nil {
		s.logger.Error("issue challenge", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not create challenge")
		return
	}
	payload := map[string]any{
		"challenge_id": ch.ID,
		"expires_at":   ch.ExpiresAt.Format(time.RFC3339),
	}
	if ch.Image != "" {
		payload["image"] = ch.Image
	} else {
		payload["text"] = ch.FallbackText
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) redeemChallenge(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ChallengeID == "" || req.Code == "" {
		writeError(w, http.StatusBadRequest, "challenge_id and code required")
		return
	}
	token, err := s.gate.Redeem(req.ChallengeID, req.Code)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, captcha.ErrChallengeExpired) {
			status = http.StatusNotFound
		}
		writeJSON(w, status, map[string]any{"valid": false, "reason": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": true, "session_token": token})
}

func (s *Server) probeMetadata(w http.ResponseWriter, r *http.Request) {
	var req probeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" {
		writeError(w, http.StatusBadRequest, "URL required")
		return
	}
	if !validMediaURL(req.URL) {
		writeError(w, http.StatusBadRequest, "malformed URL")
		return
	}

	meta, err := s.manager.Probe(r.Context(), req.URL)
	if err != nil {
		if errors.Is(err, fetch.ErrProbeTimeout) {
			writeError(w, http.StatusRequestTimeout, "metadata probe timed out")
			return
		}
		derr := fetch.Classify(err)
		switch derr.Kind {
		case fetch.KindRestricted:
			writeError(w, http.StatusNotFound, derr.Message)
		case fetch.KindBotCheck, fetch.KindAgeRestricted:
			writeError(w, http.StatusForbidden, derr.Message)
		default:
			s.logger.Error("probe failed", zap.String("url", req.URL), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "could not fetch video info")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"title":      meta.Title,
		"duration":   formatDuration(meta.Duration),
		"thumbnail":  meta.ThumbnailURL,
		"channel":    meta.Uploader,
		"view_count": meta.ViewCount,
		"formats":    meta.Formats,
	})
}

func (s *Server) submitDownload(w http.ResponseWriter, r *http.Request) {
	var req downloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.URL == "" || req.Format == "" {
		writeError(w, http.StatusBadRequest, "URL and format required")
		return
	}
	if !s.gate.ConsumeSession(req.SessionToken) {
		writeError(w, http.StatusForbidden, "verification required or session expired")
		return
	}
	if !validMediaURL(req.URL) {
		writeError(w, http.StatusBadRequest, "malformed URL")
		return
	}

	kind := fetch.FileKind(req.FileExt)
	if kind == "" {
		kind = fetch.KindMP4
	}
	jobID, err := s.manager.Submit(req.URL, req.Format, kind)
	if err != nil {
		switch {
		case errors.Is(err, fetch.ErrInvalidFormat):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, fetch.ErrServerBusy):
			writeError(w, http.StatusTooManyRequests, err.Error())
		default:
			s.logger.Error("submit failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "could not start download")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"job_id":           jobID,
		"ffmpeg_available": s.manager.PostProcessorAvailable(),
	})
}

func (s *Server) downloadStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	snap, err := s.manager.Lookup(jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "invalid job ID")
		return
	}
	filename := ""
	if snap.ResultPath != "" {
		filename = filepath.Base(snap.ResultPath)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           string(snap.State),
		"progress":         round2(snap.Percent),
		"downloaded_mb":    bytesToMB(snap.DownloadedBytes),
		"total_mb":         bytesToMB(snap.TotalBytes),
		"speed":            bytesToMB(int64(snap.Speed)),
		"eta":              formatETA(snap.ETASeconds),
		"filename":         filename,
		"checksum":         snap.Checksum,
		"title":            snap.Title,
		"error":            snap.ErrorDetail,
		"ffmpeg_available": snap.FfmpegAvailable,
	})
}

func (s *Server) downloadFile(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	snap, err := s.manager.Lookup(jobID)
	if err != nil {
		writeError(w, http.StatusNotFound, "invalid job ID")
		return
	}
	if snap.State != job.StateCompleted || snap.ResultPath == "" {
		writeError(w, http.StatusBadRequest, "download not ready")
		return
	}
	if _, err := os.Stat(snap.ResultPath); err != nil {
		writeError(w, http.StatusNotFound, "file no longer available")
		return
	}

	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", filepath.Base(snap.ResultPath)))
	http.ServeFile(w, r, snap.ResultPath)

	// The artifact has been delivered; reclaim it after a short grace so
	// interrupted clients can re-request. Racing the sweeper is fine,
	// removal is idempotent.
	s.manager.ScheduleCleanup(jobID, s.cfg.PostDeliveryDelay)
}

func validMediaURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func bytesToMB(b int64) float64 {
	return round2(float64(b) / (1024 * 1024))
}

func round2(f float64) float64 {
	return float64(int64(f*100+0.5)) / 100
}

func formatDuration(d time.Duration) string {
	total := int64(d.Seconds())
	if total <= 0 {
		return "00:00"
	}
	hours := total / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60
	if hours > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}

func formatETA(seconds int64) string {
	if seconds <= 0 {
		return "00:00"
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}
