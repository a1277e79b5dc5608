package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"math"
	"mime"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/ajbt200128/mosaic/internal/config"
	"github.com/ajbt200128/mosaic/internal/geometry"
	"github.com/ajbt200128/mosaic/internal/imageio"
	"github.com/ajbt200128/mosaic/internal/mosaic"
	"github.com/ajbt200128/mosaic/internal/overlay"
)

const maxUploadBytes = 256 << 20

type sideView struct {
	Width  int                `json:"width"`
	Height int                `json:"height"`
	Points []geometry.Point2D `json:"points"`
}

type sessionView struct {
	ID        string   `json:"id"`
	State     string   `json:"state"`
	Reference sideView `json:"reference"`
	Moving    sideView `json:"moving"`
	Merged    bool     `json:"merged"`
}

func viewSession(id string, sess *mosaic.Session) sessionView {
	side := func(sd mosaic.Side) sideView {
		size := sess.Size(sd)
		pts := sess.Points(sd)
		if pts == nil {
			pts = []geometry.Point2D{}
		}
		return sideView{Width: size.X, Height: size.Y, Points: pts}
	}
	return sessionView{
		ID:        id,
		State:     sess.State().String(),
		Reference: side(mosaic.Reference),
		Moving:    side(mosaic.Moving),
		Merged:    sess.Composite() != nil,
	}
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (string, *mosaic.Session, bool) {
	id := mux.Vars(r)["id"]
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		writeError(w, http.StatusNotFound, "no session "+id)
	}
	return id, sess, ok
}

type createSessionRequest struct {
	Reference string `json:"reference"`
	Moving    string `json:"moving"`
}

// handleCreateSession accepts either a multipart upload with "reference" and
// "moving" files or a JSON body naming two paths readable by the server.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var ref, mov image.Image
	var err error

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		ref, mov, err = decodeUploads(w, r)
	} else {
		ref, mov, err = loadPaths(r)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id := uuid.NewString()
	sess := mosaic.NewSession(ref, mov, s.opts.Merge)
	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()

	s.log.Info("session created", "session", id, "reference", ref.Bounds().Size(), "moving", mov.Bounds().Size())
	writeJSON(w, http.StatusCreated, viewSession(id, sess))
}

func decodeUploads(w http.ResponseWriter, r *http.Request) (image.Image, image.Image, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return nil, nil, fmt.Errorf("invalid upload: %w", err)
	}
	var imgs [2]image.Image
	for i, field := range []string{"reference", "moving"} {
		f, _, err := r.FormFile(field)
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", field, err)
		}
		img, _, err := imageio.Decode(f)
		f.Close()
		if err != nil {
			return nil, nil, fmt.Errorf("%s: %w", field, err)
		}
		imgs[i] = img
	}
	return imgs[0], imgs[1], nil
}

func loadPaths(r *http.Request) (image.Image, image.Image, error) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, nil, fmt.Errorf("invalid session request: %w", err)
	}
	if req.Reference == "" || req.Moving == "" {
		return nil, nil, errors.New("reference and moving are required")
	}
	ref, _, err := imageio.Load(req.Reference)
	if err != nil {
		return nil, nil, fmt.Errorf("reference: %w", err)
	}
	mov, _, err := imageio.Load(req.Moving)
	if err != nil {
		return nil, nil, fmt.Errorf("moving: %w", err)
	}
	return ref, mov, nil
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id, sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, viewSession(id, sess))
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id, _, ok := s.lookup(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

type pickRequest struct {
	Side   string  `json:"side"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Origin string  `json:"origin,omitempty"`
}

func (s *Server) handlePick(w http.ResponseWriter, r *http.Request) {
	id, sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	var req pickRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid point: "+err.Error())
		return
	}
	side, err := mosaic.ParseSide(req.Side)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if math.IsNaN(req.X) || math.IsNaN(req.Y) || math.IsInf(req.X, 0) || math.IsInf(req.Y, 0) {
		writeError(w, http.StatusBadRequest, "point coordinates must be finite")
		return
	}

	origin := req.Origin
	if origin == "" {
		origin = s.opts.Origin
	}
	p := geometry.Pt(req.X, req.Y)
	switch origin {
	case config.OriginTopLeft:
	case config.OriginBottomLeft:
		p = geometry.FlipY(p, sess.Size(side).Y)
	default:
		writeError(w, http.StatusBadRequest, "unknown origin "+origin)
		return
	}

	if err := sess.Pick(side, p); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, viewSession(id, sess))
}

func (s *Server) handleResetPoints(w http.ResponseWriter, r *http.Request) {
	id, sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	sess.Reset()
	writeJSON(w, http.StatusOK, viewSession(id, sess))
}

type mergeView struct {
	Merged     bool             `json:"merged"`
	State      string           `json:"state"`
	Homography []float64        `json:"homography,omitempty"`
	Anchor     geometry.Point2D `json:"anchor"`
	Canvas     string           `json:"canvas,omitempty"`
	Timings    mosaic.Timings   `json:"timings_ns"`
}

func (s *Server) handleMerge(w http.ResponseWriter, r *http.Request) {
	id, sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	res, err := sess.Merge(r.Context())
	if err != nil {
		var me *mosaic.MergeError
		if errors.As(err, &me) {
			s.log.Warn("session merge failed", "session", id, "stage", me.Stage, "error", me.Err)
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
				"error": me.UserMessage(),
				"stage": string(me.Stage),
			})
			return
		}
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if !res.Merged {
		writeJSON(w, http.StatusOK, mergeView{State: sess.State().String()})
		return
	}

	view := mergeView{
		Merged:     true,
		State:      sess.State().String(),
		Homography: res.Homography.Slice(),
		Anchor:     res.Anchor,
		Canvas:     fmt.Sprintf("%dx%d", res.Canvas.X, res.Canvas.Y),
		Timings:    res.Timings,
	}
	s.log.Info("session merged", "session", id, "canvas", view.Canvas, "duration", res.Timings.Total())
	if payload, err := json.Marshal(map[string]any{"session": id, "merged": true, "canvas": view.Canvas}); err == nil {
		s.hub.Broadcast(payload)
	}
	writeJSON(w, http.StatusOK, view)
}

var imageContentTypes = map[string]string{
	"png":  "image/png",
	"jpeg": "image/jpeg",
	"jpg":  "image/jpeg",
	"tiff": "image/tiff",
	"bmp":  "image/bmp",
}

// writeImage encodes img in the format named by the "format" query parameter,
// PNG by default.
func writeImage(w http.ResponseWriter, r *http.Request, img image.Image) {
	format := strings.ToLower(r.URL.Query().Get("format"))
	if format == "" {
		format = "png"
	}
	ct, ok := imageContentTypes[format]
	if !ok {
		writeError(w, http.StatusBadRequest, "unsupported format "+format)
		return
	}
	w.Header().Set("Content-Type", ct)
	if err := imageio.Encode(w, img, format); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// handleComposite serves the last published composite. With ?overlay=1 the
// warped outline of the moving photo and the blend anchor are drawn on it.
func (s *Server) handleComposite(w http.ResponseWriter, r *http.Request) {
	_, sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	last := sess.LastResult()
	if last.Composite == nil {
		writeError(w, http.StatusNotFound, "nothing merged yet")
		return
	}
	var img image.Image = last.Composite
	if r.URL.Query().Get("overlay") != "" {
		img = overlay.Render(last.Composite, overlay.Layer{
			Outline: overlay.Outline(last.Homography, sess.Size(mosaic.Moving)),
			Anchor:  &last.Anchor,
		})
	}
	writeImage(w, r, img)
}

// handlePreview draws the landmarks picked so far over one photograph.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	_, sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	side, err := mosaic.ParseSide(mux.Vars(r)["side"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeImage(w, r, overlay.Render(sess.Image(side), overlay.Layer{Points: sess.Points(side)}))
}
