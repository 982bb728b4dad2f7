package api

import "net/http"

func (s *Server) handleListConnectors(w http.ResponseWriter, r *http.Request) {
	records, err := s.connector.List(requestContext(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleConnectorStatus(w http.ResponseWriter, r *http.Request) {
	rows, err := s.connector.Status()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// connectorConnectRequest is the body of POST /api/connectors/connect.
type connectorConnectRequest struct {
	Name    string         `json:"name" validate:"required"`
	Payload map[string]any `json:"payload"`
}

func (s *Server) handleConnectorConnect(w http.ResponseWriter, r *http.Request) {
	var req connectorConnectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "malformed request body"})
		return
	}
	if err := validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	rec, err := s.connector.Connect(requestContext(r), req.Name, req.Payload)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
