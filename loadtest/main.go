package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"ephemeral-chat/internal/chat"
	"ephemeral-chat/internal/user"
	"ephemeral-chat/pkg/logger"
)

var (
	baseURL  = flag.String("base", "http://localhost:8080", "server base URL")
	pairs    = flag.Int("pairs", 50, "conversations to open (two users each)")
	msgCount = flag.Int("messages", 20, "messages sent by each user")
	ttl      = flag.Int("self-destruct", 0, "self-destruct seconds, 0 to keep messages")
)

var (
	sent     atomic.Int64
	received atomic.Int64
)

func main() {
	flag.Parse()
	log := logger.New("info", "text")
	log.Info("starting load test", "users", *pairs*2, "messages_each", *msgCount)

	start := time.Now()
	var g errgroup.Group
	for i := 0; i < *pairs; i++ {
		pairID := i
		g.Go(func() error {
			if err := runPair(log, pairID); err != nil {
				log.Warn("pair failed", "pair", pairID, "err", err)
			}
			return nil
		})
	}
	g.Wait()

	log.Info("load test complete",
		"elapsed", time.Since(start).Round(time.Millisecond),
		"sent", sent.Load(),
		"received", received.Load())
}

func runPair(log *slog.Logger, pairID int) error {
	pass := "password123"
	a, err := authenticate(fmt.Sprintf("u_%d_a", pairID), pass)
	if err != nil {
		return err
	}
	b, err := authenticate(fmt.Sprintf("u_%d_b", pairID), pass)
	if err != nil {
		return err
	}

	var g errgroup.Group
	g.Go(func() error { return chatAs(log, a, b.ID) })
	g.Go(func() error { return chatAs(log, b, a.ID) })
	return g.Wait()
}

// authenticate registers the user, ignoring "already exists", and logs in.
func authenticate(username, password string) (*user.LoginResponse, error) {
	creds := user.RegisterRequest{Username: username, Password: password}
	if resp, err := postJSON("/register", creds); err == nil {
		resp.Body.Close()
	}

	resp, err := postJSON("/login", creds)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("login %s: status %d", username, resp.StatusCode)
	}
	var out user.LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}

func chatAs(log *slog.Logger, self *user.LoginResponse, peerID string) error {
	q := url.Values{"token": {self.AccessToken}, "peer": {peerID}}
	wsURL := "ws" + strings.TrimPrefix(*baseURL, "http") + "/ws?" + q.Encode()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial as %s: %w", self.Username, err)
	}
	defer conn.Close()

	go func() {
		for {
			var evt chat.Event
			if err := conn.ReadJSON(&evt); err != nil {
				return
			}
			switch evt.Type {
			case chat.EvtSent:
				received.Add(int64(len(evt.Sent)))
			case chat.EvtError:
				log.Warn("server error", "user", self.Username, "code", evt.Error.Code, "message", evt.Error.Message)
			}
		}
	}()

	for i := 0; i < *msgCount; i++ {
		// The draft falls back to no self-destruct after every send.
		if *ttl > 0 {
			if err := conn.WriteJSON(chat.Command{Type: chat.CmdSelfDestruct, Enabled: true, Seconds: *ttl}); err != nil {
				return err
			}
		}
		text := fmt.Sprintf("load test message %d from %s", i, self.Username)
		if err := conn.WriteJSON(chat.Command{Type: chat.CmdDraft, Text: text}); err != nil {
			return err
		}
		if err := conn.WriteJSON(chat.Command{Type: chat.CmdSend}); err != nil {
			return err
		}
		sent.Add(1)
		// Simulate a typing user instead of a tight loop.
		time.Sleep(10 * time.Millisecond)
	}
	// Let the last confirmations arrive.
	time.Sleep(time.Second)
	log.Info("user finished", "user", self.Username, "messages", *msgCount)
	return nil
}

func postJSON(endpoint string, data any) (*http.Response, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return http.Post(*baseURL+endpoint, "application/json", bytes.NewReader(body))
}
