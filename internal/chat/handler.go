package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"ephemeral-chat/internal/attachment"
	"ephemeral-chat/internal/message"
	myMiddleware "ephemeral-chat/internal/middleware"
	"ephemeral-chat/internal/session"
	appErrors "ephemeral-chat/pkg/errors"
	"ephemeral-chat/pkg/respond"
)

const (
	openTimeout     = 10 * time.Second
	multipartMemory = 32 << 20
	maxUploadBytes  = attachment.MaxTotalBytes + 1<<20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type Handler struct {
	hub     *Hub
	service *Service
	deps    session.Deps
	logger  *slog.Logger
}

func NewHandler(hub *Hub, service *Service, deps session.Deps, logger *slog.Logger) *Handler {
	return &Handler{hub: hub, service: service, deps: deps, logger: logger}
}

// ServeWs opens a conversation session with the peer named by the peer query
// parameter and drives it from the websocket until the connection drops.
func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	userID, peerID, err := h.parties(r, r.URL.Query().Get("peer"))
	if err != nil {
		respond.Error(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "err", err)
		return
	}

	client := newClient(h.hub, conn, userID, peerID, h.logger)
	ctx, cancel := context.WithTimeout(r.Context(), openTimeout)
	sess, err := session.Open(ctx, h.deps, userID, peerID, client.observer())
	cancel()
	if err != nil {
		h.logger.Error("session open failed", "user_id", userID, "peer_id", peerID, "err", err)
		payload := errorEvent(err)
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		conn.WriteJSON(payload)
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "session unavailable"))
		conn.Close()
		return
	}
	client.session = sess

	if !h.hub.join(client) {
		sess.Close()
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}

// GetHistory returns the conversation with peerID, oldest first.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	userID, peerID, err := h.parties(r, chi.URLParam(r, "peerID"))
	if err != nil {
		respond.Error(w, err)
		return
	}
	msgs, err := h.service.QueryMessages(r.Context(), userID, peerID)
	if err != nil {
		respond.Error(w, err)
		return
	}
	if msgs == nil {
		msgs = []message.Message{}
	}
	respond.JSON(w, http.StatusOK, msgs)
}

// MarkRead marks everything peerID sent to the caller as read.
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, peerID, err := h.parties(r, chi.URLParam(r, "peerID"))
	if err != nil {
		respond.Error(w, err)
		return
	}
	updated, err := h.service.MarkRead(r.Context(), userID, peerID)
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusOK, map[string]int{"updated": len(updated)})
}

// UploadAttachments stages multipart files on the draft of the caller's open
// conversation with peerID. Progress is reported over the websocket.
func (h *Handler) UploadAttachments(w http.ResponseWriter, r *http.Request) {
	userID, peerID, err := h.parties(r, chi.URLParam(r, "peerID"))
	if err != nil {
		respond.Error(w, err)
		return
	}
	client := h.hub.Lookup(r.Context(), userID, peerID)
	if client == nil {
		respond.Error(w, appErrors.NotFound("no open conversation with this peer"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respond.Error(w, appErrors.ErrAttachmentsTooLarge)
			return
		}
		respond.Error(w, appErrors.Validation("malformed multipart body"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		respond.Error(w, appErrors.Validation("no files attached"))
		return
	}
	if len(files) > attachment.MaxAttachments {
		respond.Error(w, appErrors.ErrTooManyAttachments)
		return
	}

	sources := make([]attachment.Source, 0, len(files))
	for _, fh := range files {
		src, err := readPart(fh)
		if err != nil {
			respond.Error(w, appErrors.Validation("unreadable file "+fh.Filename))
			return
		}
		sources = append(sources, src)
	}

	added, err := client.session.Composer().AddFiles(sources...)
	if err != nil {
		respond.Error(w, err)
		return
	}
	respond.JSON(w, http.StatusAccepted, added)
}

// readPart copies an uploaded file into memory; the multipart temp files are
// gone once the request ends, before the upload finishes.
func readPart(fh *multipart.FileHeader) (attachment.Source, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	ct := fh.Header.Get("Content-Type")
	if ct == "application/octet-stream" {
		ct = ""
	}
	return attachment.NewMemorySource(fh.Filename, ct, data), nil
}

func (h *Handler) parties(r *http.Request, peerID string) (string, string, error) {
	userID, ok := myMiddleware.UserID(r.Context())
	if !ok {
		return "", "", appErrors.Unauthorized("unauthorized")
	}
	if _, err := uuid.Parse(peerID); err != nil {
		return "", "", appErrors.Validation("peer must be a user id")
	}
	if peerID == userID {
		return "", "", appErrors.Validation("cannot open a conversation with yourself")
	}
	return userID, peerID, nil
}
