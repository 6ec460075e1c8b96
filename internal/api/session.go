package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/sealbox/internal/coordinator"
	"github.com/ashureev/sealbox/internal/domain"
)

type sessionResponse struct {
	State     string `json:"state"`
	Address   string `json:"address,omitempty"`
	PushToken string `json:"push_token,omitempty"`
}

type credentialsRequest struct {
	Address      string `json:"address"`
	Name         string `json:"name,omitempty"`
	Organization string `json:"organization,omitempty"`
	MasterKey    string `json:"master_key"`
}

func (req *credentialsRequest) parse(w http.ResponseWriter) (domain.Registration, bool) {
	address := strings.TrimSpace(req.Address)
	if address == "" {
		Error(w, http.StatusBadRequest, "address is required")
		return domain.Registration{}, false
	}
	key, err := domain.ParseMasterKey(req.MasterKey)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return domain.Registration{}, false
	}
	return domain.Registration{
		Address:      address,
		Name:         strings.TrimSpace(req.Name),
		Organization: strings.TrimSpace(req.Organization),
		MasterKey:    key,
	}, true
}

// GetSession returns the session state.
func (s *Server) GetSession(w http.ResponseWriter, r *http.Request) {
	var resp sessionResponse
	err := s.do(r.Context(), func() {
		resp = sessionResponse{
			State:     s.coord.State().String(),
			Address:   s.coord.Address(),
			PushToken: s.coord.PushToken(),
		}
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, resp)
}

// Login checks the credentials and signs in.
func (s *Server) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	reg, ok := req.parse(w)
	if !ok {
		return
	}

	err := s.await(r.Context(), func(done func(error)) {
		s.coord.Login(reg.Credentials(), done)
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("[API] Signed in", "address", reg.Address)
	s.GetSession(w, r)
}

// Register creates an account and signs in.
func (s *Server) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	reg, ok := req.parse(w)
	if !ok {
		return
	}

	err := s.await(r.Context(), func(done func(error)) {
		s.coord.RegisterAccount(reg, done)
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info("[API] Account registered", "address", reg.Address)
	s.GetSession(w, r)
}

// Logout signs out and forgets the stored credentials.
func (s *Server) Logout(w http.ResponseWriter, r *http.Request) {
	err := s.await(r.Context(), func(done func(error)) {
		s.coord.Logout(done)
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GenerateKeys creates a new master key. Concurrent requests share one
// generation.
func (s *Server) GenerateKeys(w http.ResponseWriter, r *http.Request) {
	result := make(chan coordinator.KeyGenerationEvent, 1)
	obs := coordinator.KeyGenerationObserverFunc(func(ev coordinator.KeyGenerationEvent) {
		select {
		case result <- ev:
		default:
		}
	})

	var reg interface{ Remove() }
	err := s.do(r.Context(), func() {
		reg = s.coord.AddKeyGenerationObserver(obs)
		s.coord.GenerateKeys()
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer s.loop.Post(reg.Remove)

	select {
	case ev := <-result:
		switch ev := ev.(type) {
		case coordinator.KeysGenerated:
			JSON(w, http.StatusOK, map[string]interface{}{
				"master_key": ev.MasterKey.String(),
				"blocks":     ev.MasterKey[:],
			})
		case coordinator.KeyGenerationFailed:
			s.fail(w, r, ev.Err)
		}
	case <-r.Context().Done():
		s.fail(w, r, r.Context().Err())
	}
}

// AddressExists reports whether an account uses the address.
func (s *Server) AddressExists(w http.ResponseWriter, r *http.Request) {
	address := chi.URLParam(r, "address")

	var exists bool
	err := s.await(r.Context(), func(done func(error)) {
		s.coord.CheckAddressExists(address, func(ok bool, err error) {
			exists = ok
			done(err)
		})
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"address": address, "exists": exists})
}

// RegisterPushToken remembers the device push token and registers it with
// the current and every later session.
func (s *Server) RegisterPushToken(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Token) == "" {
		Error(w, http.StatusBadRequest, "token is required")
		return
	}
	if err := s.do(r.Context(), func() { s.coord.RegisterPushToken(req.Token) }); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
