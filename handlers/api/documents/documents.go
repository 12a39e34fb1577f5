package documents

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"

	"github.com/ved-shetye/SyncScript/access"
	"github.com/ved-shetye/SyncScript/core"
	"github.com/ved-shetye/SyncScript/handlers/auth"
	"github.com/ved-shetye/SyncScript/stores"
)

const defaultTitle = "Untitled Document"

// emptyContent is the serialized editor state of a blank document.
var emptyContent = json.RawMessage(`""`)

type createRequest struct {
	Title        string `json:"title"`
	TemplateType string `json:"templateType"`
}

type updateRequest struct {
	Title   *string         `json:"title"`
	Content json.RawMessage `json:"content"`
}

type addCollaboratorRequest struct {
	Email string `json:"email"`
}

// notFound is the shared reply for both missing and inaccessible documents,
// so the response does not reveal which of the two it was.
func notFound(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusNotFound)
	render.JSON(w, r, map[string]string{"error": "Document not found"})
}

func serverError(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusInternalServerError)
	render.JSON(w, r, map[string]string{"error": "Server error"})
}

// HandleCreate creates a new document owned by the caller.
func HandleCreate(store core.DocumentStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := auth.ClaimsFromContext(r.Context())
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "User claims not found"})
			return
		}

		var req createRequest
		if r.ContentLength > 0 {
			if err := render.DecodeJSON(r.Body, &req); err != nil {
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, map[string]string{"error": "Invalid request body"})
				return
			}
		}
		if req.Title == "" {
			req.Title = defaultTitle
		}
		if !core.ValidTemplateType(req.TemplateType) {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Unknown template type"})
			return
		}

		doc := &core.Document{
			Title:        req.Title,
			Content:      emptyContent,
			Owner:        claims.Subject,
			TemplateType: req.TemplateType,
		}
		id, err := store.Create(r.Context(), doc)
		if err != nil {
			logrus.WithError(err).Error("Failed to create document")
			serverError(w, r)
			return
		}
		doc.ID = id

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, doc)
	}
}

// HandleList returns all documents the caller owns or collaborates on.
func HandleList(store core.DocumentStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := auth.ClaimsFromContext(r.Context())
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "User claims not found"})
			return
		}

		docs, err := store.ListByUser(r.Context(), claims.Subject)
		if err != nil {
			logrus.WithField("subject", claims.Subject).WithError(err).Error("Failed to list documents")
			serverError(w, r)
			return
		}
		if docs == nil {
			docs = []*core.Document{}
		}
		render.JSON(w, r, docs)
	}
}

// HandleGet fetches a single document after the access check.
func HandleGet(store core.DocumentStore, guard *access.Guard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := auth.ClaimsFromContext(r.Context())
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "User claims not found"})
			return
		}

		id := chi.URLParam(r, "id")
		allowed, err := guard.CanAccess(r.Context(), claims.Subject, id)
		if err != nil {
			logrus.WithField("document_id", id).WithError(err).Error("Access check failed")
			serverError(w, r)
			return
		}
		if !allowed {
			notFound(w, r)
			return
		}

		doc, err := store.FindID(r.Context(), id)
		if err != nil {
			notFound(w, r)
			return
		}
		render.JSON(w, r, doc)
	}
}

// HandleUpdate updates title and/or content after the access check.
func HandleUpdate(store core.DocumentStore, guard *access.Guard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := auth.ClaimsFromContext(r.Context())
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "User claims not found"})
			return
		}

		id := chi.URLParam(r, "id")
		allowed, err := guard.CanAccess(r.Context(), claims.Subject, id)
		if err != nil {
			logrus.WithField("document_id", id).WithError(err).Error("Access check failed")
			serverError(w, r)
			return
		}
		if !allowed {
			notFound(w, r)
			return
		}

		var req updateRequest
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Invalid request body"})
			return
		}

		doc, err := store.Update(r.Context(), id, core.DocumentUpdate{
			Title:   req.Title,
			Content: req.Content,
		})
		if err != nil {
			logrus.WithField("document_id", id).WithError(err).Error("Failed to update document")
			serverError(w, r)
			return
		}
		render.JSON(w, r, doc)
	}
}

// HandleAddCollaborator grants another account access to the document. Only
// the owner can share.
func HandleAddCollaborator(store stores.Store, guard *access.Guard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := auth.ClaimsFromContext(r.Context())
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "User claims not found"})
			return
		}

		id := chi.URLParam(r, "id")
		owner, err := guard.IsOwner(r.Context(), claims.Subject, id)
		if err != nil {
			logrus.WithField("document_id", id).WithError(err).Error("Access check failed")
			serverError(w, r)
			return
		}
		if !owner {
			notFound(w, r)
			return
		}

		var req addCollaboratorRequest
		if err := render.DecodeJSON(r.Body, &req); err != nil || req.Email == "" {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Collaborator email is required"})
			return
		}

		collaborator, err := store.FindUserByEmail(r.Context(), req.Email)
		if err != nil {
			render.Status(r, http.StatusNotFound)
			render.JSON(w, r, map[string]string{"error": "No account with that email"})
			return
		}

		doc, err := store.AddCollaborator(r.Context(), id, collaborator.Subject)
		if err != nil {
			logrus.WithField("document_id", id).WithError(err).Error("Failed to add collaborator")
			serverError(w, r)
			return
		}

		logrus.WithFields(logrus.Fields{
			"document_id":  id,
			"collaborator": collaborator.Subject,
		}).Info("Collaborator added")
		render.JSON(w, r, doc)
	}
}
