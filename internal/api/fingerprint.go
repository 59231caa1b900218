package api

import (
	"net/http"

	"github.com/xkilldash9x/rpa-browser/api/schemas"
)

func (s *Server) handleCreateProfile(w http.ResponseWriter, r *http.Request) {
	var p schemas.Profile
	if !s.decode(w, r, &p) {
		return
	}
	created, err := s.profiles.Create(r.Context(), &p)
	if err != nil {
		s.failErr(w, r, err)
		return
	}
	s.respond(w, created)
}

func (s *Server) handleReadProfile(w http.ResponseWriter, r *http.Request) {
	var req schemas.ProfileTokenRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := requireToken(req.BrowserToken); err != nil {
		s.failErr(w, r, err)
		return
	}
	p, err := s.profiles.Lookup(r.Context(), req.BrowserToken)
	if err != nil {
		s.failErr(w, r, err)
		return
	}
	s.respond(w, p)
}

// handleUpdateProfile patches a profile. The running session, if any, keeps
// its old fingerprint until it is released.
func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req schemas.ProfileUpdateRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := requireToken(req.BrowserToken); err != nil {
		s.failErr(w, r, err)
		return
	}
	if _, err := s.profiles.Update(r.Context(), req.BrowserToken, req.ProfilePatch); err != nil {
		s.failErr(w, r, err)
		return
	}
	s.respond(w, schemas.ProfileUpdateResponse{BrowserToken: req.BrowserToken, IsSuccess: true})
}

func (s *Server) handleDeleteProfile(w http.ResponseWriter, r *http.Request) {
	var req schemas.ProfileTokenRequest
	if !s.decode(w, r, &req) {
		return
	}
	if err := requireToken(req.BrowserToken); err != nil {
		s.failErr(w, r, err)
		return
	}
	if err := s.profiles.Delete(r.Context(), req.BrowserToken); err != nil {
		s.failErr(w, r, err)
		return
	}
	s.respond(w, schemas.ProfileDeleteResponse{BrowserToken: req.BrowserToken, IsSuccess: true})
}
