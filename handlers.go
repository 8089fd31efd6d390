package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/justinas/alice"
	"github.com/rs/zerolog/log"
)

type server struct {
	router      *mux.Router
	coordinator *Coordinator
	store       *MessageStore
	contacts    *ContactStore
	transport   Transport
	uploader    *ExportUploader
}

func newServer(coordinator *Coordinator, store *MessageStore, contacts *ContactStore, transport Transport, uploader *ExportUploader) *server {
	s := &server{
		router:      mux.NewRouter(),
		coordinator: coordinator,
		store:       store,
		contacts:    contacts,
		transport:   transport,
		uploader:    uploader,
	}
	s.routes()
	return s
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *server) routes() {
	chain := alice.New(s.logRequest)

	api := s.router.PathPrefix("/api").Subrouter()
	api.Handle("/events", chain.Then(s.IngestEvent())).Methods("POST")
	api.Handle("/events/ack", chain.Then(s.AckEvent())).Methods("POST")
	api.Handle("/messages/send", chain.Then(s.SendMessage())).Methods("POST")
	api.Handle("/messages/search", chain.Then(s.SearchMessages())).Methods("GET")
	api.Handle("/messages/statistics", chain.Then(s.MessageStatistics())).Methods("GET")
	api.Handle("/messages/recent", chain.Then(s.RecentMessages())).Methods("GET")
	api.Handle("/messages/export", chain.Then(s.ExportMessages())).Methods("GET")
	api.Handle("/messages/{messageId}", chain.Then(s.GetMessage())).Methods("GET")
	api.Handle("/messages", chain.Then(s.DeleteMessages())).Methods("DELETE")
	api.Handle("/contacts", chain.Then(s.ListContacts())).Methods("GET")
	api.Handle("/contacts", chain.Then(s.UpsertContact())).Methods("POST", "PUT")
	api.Handle("/contacts/{phone}", chain.Then(s.GetContact())).Methods("GET")
	api.Handle("/contacts/{phone}", chain.Then(s.DeleteContact())).Methods("DELETE")
	api.Handle("/health", chain.Then(s.Health())).Methods("GET")
}

func (s *server) logRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("Request handled")
	})
}

// writeStoreError maps store sentinel errors onto HTTP statuses.
func (s *server) writeStoreError(w http.ResponseWriter, err error) {
	var vErr *ValidationError
	switch {
	case errors.Is(err, ErrNotFound):
		s.respondWithError(w, http.StatusNotFound, "not found")
	case errors.Is(err, ErrUnsafeBulkOperation):
		s.respondWithError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &vErr):
		s.respondWithError(w, http.StatusBadRequest, vErr.Error())
	default:
		log.Error().Err(err).Msg("Request failed")
		s.respondWithError(w, http.StatusInternalServerError, "internal error")
	}
}

// IngestEvent accepts a raw transport event. The transport retries on
// non-2xx, so the event is processed synchronously and only acknowledged
// after it has been persisted.
func (s *server) IngestEvent() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var event RawEvent
		if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
			s.respondWithError(w, http.StatusBadRequest, "invalid JSON payload")
			return
		}

		record, err := s.coordinator.Ingest(r.Context(), event)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}

		s.respondWithJSON(w, http.StatusCreated, map[string]interface{}{
			"success": true,
			"message": record,
		})
	}
}

// AckEvent applies a delivery acknowledgment from the transport.
func (s *server) AckEvent() http.HandlerFunc {
	type ackRequest struct {
		MessageID string `json:"messageId"`
		Status    string `json:"status"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req ackRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondWithError(w, http.StatusBadRequest, "invalid JSON payload")
			return
		}

		if err := s.coordinator.HandleAck(r.Context(), req.MessageID, req.Status); err != nil {
			s.writeStoreError(w, err)
			return
		}

		s.respondWithJSON(w, http.StatusOK, map[string]interface{}{"success": true})
	}
}

// SendMessage performs a user-initiated send through the transport and
// records the result.
func (s *server) SendMessage() http.HandlerFunc {
	type sendRequest struct {
		ConversationID string `json:"conversationId"`
		Body           string `json:"body"`
		IsGroup        bool   `json:"isGroup"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req sendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondWithError(w, http.StatusBadRequest, "invalid JSON payload")
			return
		}
		if req.ConversationID == "" {
			s.respondWithError(w, http.StatusBadRequest, "conversationId is required")
			return
		}
		if req.Body == "" {
			s.respondWithError(w, http.StatusBadRequest, "body is required")
			return
		}
		if s.transport == nil {
			s.respondWithError(w, http.StatusServiceUnavailable, "transport not configured")
			return
		}

		result, err := s.transport.Send(r.Context(), req.ConversationID, req.Body)
		if err != nil {
			log.Error().Err(err).Str("conversationId", req.ConversationID).Msg("Transport send failed")
			s.respondWithError(w, http.StatusBadGateway, "transport send failed")
			return
		}

		record, err := s.store.StoreOutbound(r.Context(), req.ConversationID, req.Body, req.IsGroup, result)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}

		s.respondWithJSON(w, http.StatusCreated, map[string]interface{}{
			"success": true,
			"message": record,
		})
	}
}

// filtersFromQuery parses the shared filter query parameters.
func filtersFromQuery(r *http.Request) (SearchFilters, error) {
	q := r.URL.Query()
	filters := SearchFilters{
		Direction:   q.Get("direction"),
		From:        q.Get("from"),
		To:          q.Get("to"),
		ContentType: q.Get("contentType"),
		Status:      q.Get("status"),
		SearchText:  q.Get("searchText"),
	}

	if v := q.Get("startDate"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filters, newValidationError("startDate", "must be RFC3339")
		}
		filters.StartDate = t
	}
	if v := q.Get("endDate"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filters, newValidationError("endDate", "must be RFC3339")
		}
		filters.EndDate = t
	}
	return filters, nil
}

func optionsFromQuery(r *http.Request) SearchOptions {
	q := r.URL.Query()
	opts := SearchOptions{SortOrder: q.Get("sortOrder")}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			opts.Limit = n
		}
	}
	if v := q.Get("skip"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			opts.Skip = n
		}
	}
	return opts
}

// SearchMessages runs a filtered, paginated query.
func (s *server) SearchMessages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filters, err := filtersFromQuery(r)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		opts := optionsFromQuery(r)

		records, total, err := s.store.Search(r.Context(), filters, opts)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}

		s.respondWithJSON(w, http.StatusOK, map[string]interface{}{
			"success":    true,
			"totalCount": total,
			"count":      len(records),
			"messages":   records,
		})
	}
}

// MessageStatistics aggregates over the filtered set.
func (s *server) MessageStatistics() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filters, err := filtersFromQuery(r)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}

		stats, err := s.store.Statistics(r.Context(), filters)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}

		s.respondWithJSON(w, http.StatusOK, map[string]interface{}{
			"success":    true,
			"statistics": stats,
		})
	}
}

// RecentMessages returns the newest messages without filtering.
func (s *server) RecentMessages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 20
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				limit = n
			}
		}

		records, err := s.store.Recent(r.Context(), limit)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}

		s.respondWithJSON(w, http.StatusOK, map[string]interface{}{
			"success":  true,
			"count":    len(records),
			"messages": records,
		})
	}
}

// ExportMessages builds an export snapshot. With ?upload=s3 the snapshot is
// pushed to the configured bucket and only its URL is returned.
func (s *server) ExportMessages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filters, err := filtersFromQuery(r)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}

		snapshot, err := s.store.Export(r.Context(), filters)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}

		if r.URL.Query().Get("upload") == "s3" {
			if s.uploader == nil {
				s.respondWithError(w, http.StatusServiceUnavailable, "S3 upload not configured")
				return
			}
			url, err := s.uploader.UploadSnapshot(r.Context(), snapshot)
			if err != nil {
				log.Error().Err(err).Msg("Export upload failed")
				s.respondWithError(w, http.StatusBadGateway, "export upload failed")
				return
			}
			s.respondWithJSON(w, http.StatusOK, map[string]interface{}{
				"success":    true,
				"url":        url,
				"totalCount": snapshot.TotalCount,
				"count":      len(snapshot.Records),
			})
			return
		}

		s.respondWithJSON(w, http.StatusOK, snapshot)
	}
}

// GetMessage fetches one message by id.
func (s *server) GetMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		messageID := mux.Vars(r)["messageId"]
		record, err := s.store.GetByID(r.Context(), messageID)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		s.respondWithJSON(w, http.StatusOK, record)
	}
}

// DeleteMessages purges the filtered set. Filters come from query parameters;
// an empty filter set is rejected by the store.
func (s *server) DeleteMessages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filters, err := filtersFromQuery(r)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}

		deleted, err := s.store.Delete(r.Context(), filters)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}

		s.respondWithJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"deleted": deleted,
		})
	}
}

func (s *server) ListContacts() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		contacts, err := s.contacts.List(r.Context())
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		s.respondWithJSON(w, http.StatusOK, map[string]interface{}{
			"success":  true,
			"count":    len(contacts),
			"contacts": contacts,
		})
	}
}

func (s *server) GetContact() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		phone := mux.Vars(r)["phone"]
		contact, err := s.contacts.Get(r.Context(), phone)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		s.respondWithJSON(w, http.StatusOK, contact)
	}
}

func (s *server) UpsertContact() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var contact Contact
		if err := json.NewDecoder(r.Body).Decode(&contact); err != nil {
			s.respondWithError(w, http.StatusBadRequest, "invalid JSON payload")
			return
		}

		stored, err := s.contacts.Upsert(r.Context(), contact)
		if err != nil {
			s.writeStoreError(w, err)
			return
		}
		s.respondWithJSON(w, http.StatusOK, map[string]interface{}{
			"success": true,
			"contact": stored,
		})
	}
}

func (s *server) DeleteContact() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		phone := mux.Vars(r)["phone"]
		if err := s.contacts.Delete(r.Context(), phone); err != nil {
			s.writeStoreError(w, err)
			return
		}
		s.respondWithJSON(w, http.StatusOK, map[string]interface{}{"success": true})
	}
}

// Health reports DB reachability and basic counts.
func (s *server) Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := s.store.Ping(ctx); err != nil {
			s.respondWithJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}

		stats, err := s.store.Statistics(ctx, SearchFilters{})
		if err != nil {
			s.respondWithJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}

		payload := map[string]interface{}{
			"status":   "healthy",
			"messages": stats.Total,
		}
		if s.transport != nil {
			payload["transport"] = s.transport.Status()
		}
		s.respondWithJSON(w, http.StatusOK, payload)
	}
}
