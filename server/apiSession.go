package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/cyclopcam/livedetect/server/config"
	"github.com/cyclopcam/livedetect/server/present"
	"github.com/cyclopcam/livedetect/server/session"
	"github.com/cyclopcam/livedetect/server/video"
	"github.com/cyclopcam/www"
	"github.com/julienschmidt/httprouter"
)

type statusJSON struct {
	session.Status
	Frame *present.FrameInfo `json:"frame,omitempty"`
}

func (s *Server) status() statusJSON {
	st := statusJSON{
		Status: s.Session.Status(),
	}
	if info, ok := s.Snapshot.Info(); ok {
		st.Frame = &info
	}
	return st
}

// Translate controller errors into HTTP errors
func checkSession(err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, session.ErrNotIdle), errors.Is(err, session.ErrNotRunning), errors.Is(err, session.ErrRestartUnavailable):
		www.Panic(http.StatusConflict, err.Error())
	case errors.Is(err, config.ErrConfigurationInvalid):
		www.PanicBadRequestf("%v", err)
	case errors.Is(err, video.ErrSourceUnavailable):
		www.Panic(http.StatusServiceUnavailable, err.Error())
	}
	www.Check(err)
}

func (s *Server) httpStatus(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	www.SendJSON(w, s.status())
}

func (s *Server) httpResolutions(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	www.SendJSON(w, config.Resolutions)
}

func (s *Server) httpSessionStart(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	checkSession(s.Session.Start())
	www.SendJSON(w, s.status())
}

func (s *Server) httpSessionStop(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	ctx, cancel := context.WithTimeout(r.Context(), shutdownTimeout)
	defer cancel()
	checkSession(s.Session.Stop(ctx))
	www.SendJSON(w, s.status())
}

func (s *Server) httpSessionRestart(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	checkSession(s.Session.Restart())
	www.SendJSON(w, s.status())
}

func (s *Server) httpSetSource(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	req := struct {
		Kind        config.SourceKind `json:"kind"`
		Path        string            `json:"path"`
		CameraIndex int               `json:"cameraIndex"`
	}{}
	www.ReadJSON(w, r, &req, 64*1024)
	if req.Kind == config.SourceFile {
		if req.Path == "" {
			www.PanicBadRequestf("path is required")
		}
		s.warnUnusualFile(req.Path)
	}
	if req.CameraIndex < 0 {
		www.PanicBadRequestf("Invalid camera index %v", req.CameraIndex)
	}
	checkSession(s.Session.SwitchSource(config.SourceConfig{
		Kind:        req.Kind,
		Path:        req.Path,
		CameraIndex: req.CameraIndex,
	}))
	www.SendJSON(w, s.status())
}

// Any file may be chosen, because OpenCV can decode more containers than we list.
// The extension list only guides the user.
func (s *Server) warnUnusualFile(path string) {
	if !config.IsVideoFile(path) {
		s.Log.Warnf("'%v' does not have a video file extension (%v). Trying it anyway", path, strings.Join(config.VideoFileExtensions, " "))
	}
}

// pathPicker is a FilePicker that has already been given its answer, by an HTTP client
type pathPicker string

func (p pathPicker) SelectFile() (string, bool) {
	return string(p), p != ""
}

func (s *Server) httpSelectFile(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	path := www.QueryValue(r, "path")
	if path == "" {
		www.PanicBadRequestf("path is required")
	}
	s.warnUnusualFile(path)
	_, err := s.Session.SelectFile(pathPicker(path))
	checkSession(err)
	www.SendJSON(w, s.status())
}

func (s *Server) httpSetResolution(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	res, err := config.ParseResolution(params.ByName("res"))
	if err != nil {
		www.PanicBadRequestf("%v", err)
	}
	checkSession(s.Session.SetResolution(res))
	www.SendJSON(w, s.status())
}

func (s *Server) httpSetConfidence(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	v, err := strconv.ParseFloat(www.QueryValue(r, "value"), 32)
	if err != nil {
		www.PanicBadRequestf("Invalid confidence: %v", err)
	}
	_, err = s.Session.SetConfidence(float32(v))
	checkSession(err)
	www.SendJSON(w, s.status())
}

func (s *Server) httpLatestFrame(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	jpg, err := s.Snapshot.JPEG()
	www.Check(err)
	if jpg == nil {
		www.Panic(http.StatusNotFound, "No frames yet")
	}
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Content-Type", "image/jpeg")
	w.Write(jpg)
}
