package socket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"papervault/pkg/logger"
)

const (
	OCRStartedType     = "OCR_STARTED"     // Worker picked up a document
	OCRSucceededType   = "OCR_SUCCEEDED"   // Text extracted and indexed
	OCRFailedType      = "OCR_FAILED"      // Attempt failed
	NodeCreatedType    = "NODE_CREATED"    // Folder created or document uploaded
	NodeDeletedType    = "NODE_DELETED"    // Nodes removed
	NodeMovedType      = "NODE_MOVED"      // Nodes got a new parent
	PresenceUpdateType = "PRESENCE_UPDATE" // A session of the user connected or left
)

// WSMessage is delivered to every session of UserID.
type WSMessage struct {
	Type    string          `json:"type"`
	UserID  string          `json:"user_id"`
	DocID   string          `json:"document_id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewMessage marshals payload into a message addressed to userID.
func NewMessage(msgType, userID, docID string, payload interface{}) WSMessage {
	msg := WSMessage{Type: msgType, UserID: userID, DocID: docID}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			logger.Sugar.Errorf("Error marshalling %s payload: %v", msgType, err)
		} else {
			msg.Payload = raw
		}
	}
	return msg
}

// Publisher delivers notifications to users, either directly through a Hub
// or across processes.
type Publisher interface {
	Publish(ctx context.Context, msg WSMessage) error
}

// NopPublisher drops every message.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, WSMessage) error { return nil }

type SessionStatus struct {
	SessionID   string    `json:"session_id"`
	ConnectedAt time.Time `json:"connected_at"`
}

type Hub struct {
	Rooms      map[string]map[*Client]bool // userID -> sessions
	Broadcast  chan WSMessage
	Register   chan *Client
	Unregister chan *Client
	done       chan struct{}
	mu         sync.Mutex
}

func NewHub() *Hub {
	return &Hub{
		Rooms:      make(map[string]map[*Client]bool),
		Broadcast:  make(chan WSMessage, 64),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

var (
	ErrHubStopped = errors.New("socket: hub stopped")
	ErrHubBusy    = errors.New("socket: hub busy")
)

// publishWait bounds how long Publish waits for room in Broadcast.
var publishWait = time.Second

// Publish hands msg to the hub loop. It fails fast once Run has returned
// and gives up after publishWait when the loop is not draining.
func (h *Hub) Publish(ctx context.Context, msg WSMessage) error {
	select {
	case <-h.done:
		return ErrHubStopped
	default:
	}
	timer := time.NewTimer(publishWait)
	defer timer.Stop()
	select {
	case h.Broadcast <- msg:
		return nil
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("%w: dropped %s for %s", ErrHubBusy, msg.Type, msg.UserID)
	}
}

// Run serves register, unregister and broadcast requests until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.Register:
			h.mu.Lock()
			if h.Rooms[client.UserID] == nil {
				h.Rooms[client.UserID] = make(map[*Client]bool)
			}
			h.Rooms[client.UserID][client] = true
			h.mu.Unlock()
			h.broadcastPresenceUpdate(client.UserID)

		case client := <-h.Unregister:
			if h.removeClient(client) {
				h.broadcastPresenceUpdate(client.UserID)
			}

		case msg := <-h.Broadcast:
			payload, err := json.Marshal(msg)
			if err != nil {
				logger.Sugar.Errorf("Error marshalling broadcast message: %v", err)
				continue
			}

			h.mu.Lock()
			clientsToSend := make([]*Client, 0, len(h.Rooms[msg.UserID]))
			for client := range h.Rooms[msg.UserID] {
				clientsToSend = append(clientsToSend, client)
			}
			h.mu.Unlock()

			for _, client := range clientsToSend {
				select {
				case client.Send <- payload:
				default:
					logger.Sugar.Warnf("Client %s's send buffer is full. Unregistering.", client.UserID)
					h.removeClient(client)
					client.Conn.Close()
				}
			}
		}
	}
}

// Sessions reports how many connections userID currently holds.
func (h *Hub) Sessions(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.Rooms[userID])
}

func (h *Hub) removeClient(client *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.Rooms[client.UserID][client]; !ok {
		return false
	}
	delete(h.Rooms[client.UserID], client)
	close(client.Send)
	if len(h.Rooms[client.UserID]) == 0 {
		delete(h.Rooms, client.UserID)
	}
	return true
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for userID, clients := range h.Rooms {
		for client := range clients {
			close(client.Send)
			client.Conn.Close()
		}
		delete(h.Rooms, userID)
	}
}

func (h *Hub) broadcastPresenceUpdate(userID string) {
	h.mu.Lock()
	statuses := make([]SessionStatus, 0, len(h.Rooms[userID]))
	clientsToSend := make([]*Client, 0, len(h.Rooms[userID]))
	for client := range h.Rooms[userID] {
		statuses = append(statuses, SessionStatus{SessionID: client.SessionID, ConnectedAt: client.ConnectedAt})
		clientsToSend = append(clientsToSend, client)
	}
	h.mu.Unlock()

	if len(clientsToSend) == 0 {
		return
	}
	payload, err := json.Marshal(NewMessage(PresenceUpdateType, userID, "", statuses))
	if err != nil {
		logger.Sugar.Errorf("Error marshalling presence broadcast: %v", err)
		return
	}
	for _, client := range clientsToSend {
		select {
		case client.Send <- payload:
		default:
			logger.Sugar.Warnf("Client %s's send buffer was full during presence update.", client.UserID)
		}
	}
}
