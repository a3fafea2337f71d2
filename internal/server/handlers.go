package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/snapetech/iptvmerge/internal/aggregate"
	"github.com/snapetech/iptvmerge/internal/catalog"
	"github.com/snapetech/iptvmerge/internal/logging"
	"github.com/snapetech/iptvmerge/internal/provider"
)

type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// buildFailure keeps the catalog shape so clients can render an empty list.
type buildFailure struct {
	Error    string                  `json:"error"`
	Details  string                  `json:"details"`
	Channels struct{}                `json:"channels"`
	Errors   []catalog.ProviderError `json:"errors"`
}

// providerBody is the provider object browser clients send back, usually a
// SourceRef's provider as emitted in the catalog.
type providerBody struct {
	Server   string `json:"server"`
	Username string `json:"username"`
	Password string `json:"password"`
}

func (b *providerBody) resolve() (provider.Provider, error) {
	if b == nil {
		return provider.Provider{}, errors.New("missing provider")
	}
	return provider.New(b.Server, b.Username, b.Password)
}

// flexID accepts a JSON string or number.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexID(strings.TrimSpace(s))
		return nil
	}
	if string(data) == "null" {
		*f = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number")
	}
	if i, err := n.Int64(); err == nil {
		*f = flexID(strconv.FormatInt(i, 10))
		return nil
	}
	*f = flexID(n.String())
	return nil
}

func (s *Server) handleGetChannels(w http.ResponseWriter, r *http.Request) {
	var req aggregate.Request
	if err := decodeBody(w, r, &req, true); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body", Details: err.Error()})
		return
	}
	cat, err := s.Aggregator.Build(r.Context(), req)
	if err != nil {
		logging.OrDiscard(s.Log).WithError(err).Error("channel build failed")
		writeJSON(w, http.StatusInternalServerError, buildFailure{
			Error:   "Failed to fetch channel data.",
			Details: err.Error(),
			Errors:  []catalog.ProviderError{},
		})
		return
	}
	writeJSON(w, http.StatusOK, cat)
}

type infoRequest struct {
	Provider *providerBody `json:"provider"`
}

type infoResponse struct {
	Profile    json.RawMessage `json:"profile"`
	ServerInfo json.RawMessage `json:"serverInfo"`
}

func (s *Server) handleGetInfo(w http.ResponseWriter, r *http.Request) {
	var req infoRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body", Details: err.Error()})
		return
	}
	p, err := req.Provider.resolve()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Missing provider info", Details: err.Error()})
		return
	}
	info, err := s.panel(p).AccountInfo(r.Context())
	if err != nil {
		logging.OrDiscard(s.Log).WithError(err).WithField("provider", p.Server).Warn("info fetch failed")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "Failed to fetch info data.", Details: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, infoResponse{Profile: info.UserInfo, ServerInfo: info.ServerInfo})
}

type epgRequest struct {
	ChannelID flexID        `json:"channelId"`
	Provider  *providerBody `json:"provider"`
	Limit     int           `json:"limit"`
}

// handleGetEpg returns the full listing table, or the short EPG when limit > 0.
func (s *Server) handleGetEpg(w http.ResponseWriter, r *http.Request) {
	var req epgRequest
	if err := decodeBody(w, r, &req, false); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body", Details: err.Error()})
		return
	}
	if req.ChannelID == "" || req.Provider == nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Missing channelId or provider info"})
		return
	}
	p, err := req.Provider.resolve()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "Missing channelId or provider info", Details: err.Error()})
		return
	}
	client := s.panel(p)
	id := string(req.ChannelID)
	var listings any
	if req.Limit > 0 {
		listings, err = client.ShortEPG(r.Context(), id, req.Limit)
	} else {
		listings, err = client.FullEPG(r.Context(), id)
	}
	if err != nil {
		logging.OrDiscard(s.Log).WithError(err).WithFields(logrus.Fields{
			"provider": p.Server,
			"channel":  id,
		}).Warn("epg fetch failed")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "Failed to fetch EPG data.", Details: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"epg_listings": listings})
}

// decodeBody reads a JSON object. An empty body is accepted when allowEmpty.
func decodeBody(w http.ResponseWriter, r *http.Request, v any, allowEmpty bool) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		if allowEmpty {
			return nil
		}
		return errors.New("empty body")
	}
	return json.Unmarshal(body, v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
