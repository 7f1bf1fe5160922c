package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/cuemby/poolbroker/pkg/apierr"
	"github.com/cuemby/poolbroker/pkg/operations"
)

type itemsListResponse struct {
	Items []json.RawMessage `json:"items"`
	Count int               `json:"count"`
}

func (s *Server) handleAdminItems(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		items, err := s.store.ListItems(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, itemsListResponse{Items: items, Count: len(items)})
	case http.MethodDelete:
		var req struct {
			Item json.RawMessage `json:"item"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, apierr.Wrap(apierr.Validation, "malformed request body", err))
			return
		}
		deleted, err := s.store.DeleteItem(r.Context(), req.Item)
		if err != nil {
			writeError(w, err)
			return
		}
		if !deleted {
			writeError(w, apierr.New(apierr.NotFound, "item not found in freelist"))
			return
		}
		writeJSON(w, http.StatusOK, successResponse{Success: true, Message: "item deleted successfully"})
	default:
		writeError(w, apierr.New(apierr.Validation, "method not allowed"))
	}
}

type borrowedItem struct {
	Item        json.RawMessage `json:"item"`
	BorrowToken string          `json:"borrow_token"`
}

type borrowedListResponse struct {
	Borrowed []borrowedItem `json:"borrowed"`
	Count    int            `json:"count"`
}

type successResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (s *Server) handleAdminBorrowed(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		ledger, err := s.store.ListBorrowed(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		borrowed := make([]borrowedItem, 0, len(ledger))
		for canon, token := range ledger {
			borrowed = append(borrowed, borrowedItem{Item: json.RawMessage(canon), BorrowToken: token})
		}
		writeJSON(w, http.StatusOK, borrowedListResponse{Borrowed: borrowed, Count: len(borrowed)})
	case http.MethodDelete:
		var req struct {
			Item json.RawMessage `json:"item"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, apierr.Wrap(apierr.Validation, "malformed request body", err))
			return
		}
		deleted, err := s.store.DeleteBorrowed(r.Context(), req.Item)
		if err != nil {
			writeError(w, err)
			return
		}
		if !deleted {
			writeError(w, apierr.New(apierr.NotFound, "item not found in borrowed items"))
			return
		}
		writeJSON(w, http.StatusOK, successResponse{Success: true, Message: "borrowed item deleted successfully"})
	default:
		writeError(w, apierr.New(apierr.Validation, "method not allowed"))
	}
}

func (s *Server) handleAdminForceReturn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, apierr.New(apierr.Validation, "method not allowed"))
		return
	}
	var req struct {
		Item json.RawMessage `json:"item"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.Wrap(apierr.Validation, "malformed request body", err))
		return
	}
	if err := s.store.ForceReturn(r.Context(), req.Item); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true, Message: "item force-returned to freelist"})
}

type operationDetail struct {
	ID      string          `json:"id"`
	Item    json.RawMessage `json:"item"`
	Status  string          `json:"status"`
	Message string          `json:"message,omitempty"`
}

type operationsListResponse struct {
	Operations []operationDetail `json:"operations"`
	Count      int               `json:"count"`
}

func (s *Server) handleAdminOperationsList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, apierr.New(apierr.Validation, "method not allowed"))
		return
	}
	ops := s.ops.List()
	out := make([]operationDetail, 0, len(ops))
	for _, op := range ops {
		out = append(out, toOperationDetail(op))
	}
	writeJSON(w, http.StatusOK, operationsListResponse{Operations: out, Count: len(out)})
}

func toOperationDetail(op *operations.Operation) operationDetail {
	return operationDetail{ID: op.ID, Item: op.Item, Status: strings.ToLower(string(op.Status)), Message: op.Message}
}

func (s *Server) handleAdminOperationByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/admin/operations/")
	if id == "" {
		writeError(w, apierr.New(apierr.NotFound, "operation id required"))
		return
	}
	if r.Method != http.MethodDelete {
		writeError(w, apierr.New(apierr.Validation, "method not allowed"))
		return
	}
	if !s.ops.Delete(id) {
		writeError(w, apierr.New(apierr.NotFound, "operation not found"))
		return
	}
	s.bus.Drop(id)
	writeJSON(w, http.StatusOK, successResponse{Success: true, Message: "operation deleted"})
}

type statsResponse struct {
	FreeCount         int `json:"free_count"`
	BorrowedCount     int `json:"borrowed_count"`
	PendingOperations int `json:"pending_operations"`
	FailedOperations  int `json:"failed_operations"`
}

func (s *Server) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, apierr.New(apierr.Validation, "method not allowed"))
		return
	}
	items, err := s.store.ListItems(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	borrowed, err := s.store.ListBorrowed(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	pending, failed := s.ops.Counts()
	writeJSON(w, http.StatusOK, statsResponse{
		FreeCount:         len(items),
		BorrowedCount:     len(borrowed),
		PendingOperations: pending,
		FailedOperations:  failed,
	})
}
