// Package webhook is the HTTP intake boundary. It verifies GitHub
// delivery signatures, translates webhook payloads into lifecycle trigger
// events, and exposes the read-only status API.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/issuepilot/issuepilot/internal/eventbus"
	"github.com/issuepilot/issuepilot/internal/storage"
	"github.com/issuepilot/issuepilot/internal/types"
)

// StatusReader is the read path into issue state. Reads bypass the
// per-issue serializer.
type StatusReader interface {
	GetStatus(ctx context.Context, key types.IssueKey) (*types.IssueState, error)
	List(ctx context.Context, repository string) ([]*types.IssueState, error)
}

// Server handles webhook deliveries and status queries.
type Server struct {
	bus    *eventbus.Bus
	reader StatusReader
	secret []byte
	mux    *http.ServeMux

	httpServer *http.Server
	baseCtx    context.Context
	inflight   sync.WaitGroup
	admit      *semaphore.Weighted
}

// maxInflight bounds concurrent background dispatches. Beyond it the
// server answers 503 and lets GitHub redeliver; the per-issue serializer
// coalesces duplicates, so redelivery is cheap.
const maxInflight = 64

// ServerConfig holds configuration for the webhook server.
type ServerConfig struct {
	Bus    *eventbus.Bus
	Reader StatusReader
	Secret []byte // HMAC secret for X-Hub-Signature-256 verification
}

// NewServer creates a webhook server.
func NewServer(cfg ServerConfig) *Server {
	s := &Server{
		bus:     cfg.Bus,
		reader:  cfg.Reader,
		secret:  cfg.Secret,
		mux:     http.NewServeMux(),
		baseCtx: context.Background(),
		admit:   semaphore.NewWeighted(maxInflight),
	}

	s.mux.HandleFunc("/webhook/github", s.handleDelivery)
	s.mux.HandleFunc("/status/", s.handleStatus)
	s.mux.HandleFunc("/health", s.handleHealth)

	return s
}

// Start starts the HTTP server on the given address. ctx bounds the
// lifetime of background event processing.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.baseCtx = ctx
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting deliveries and waits for in-flight event
// processing to finish.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

// Handler returns the HTTP handler for use with custom servers and tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Webhook payload shapes, reduced to the fields the pipeline consumes.

type deliveryIssue struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	Labels []struct {
		Name string `json:"name"`
	} `json:"labels"`
	User struct {
		Login string `json:"login"`
	} `json:"user"`
}

type deliveryRepo struct {
	FullName string `json:"full_name"`
}

type issuesDelivery struct {
	Action     string        `json:"action"`
	Issue      deliveryIssue `json:"issue"`
	Repository deliveryRepo  `json:"repository"`
	Sender     struct {
		Login string `json:"login"`
	} `json:"sender"`
}

type pullRequestDelivery struct {
	Action      string `json:"action"`
	PullRequest struct {
		Number int  `json:"number"`
		Merged bool `json:"merged"`
		Head   struct {
			Ref string `json:"ref"`
		} `json:"head"`
	} `json:"pull_request"`
	Repository deliveryRepo `json:"repository"`
	Sender     struct {
		Login string `json:"login"`
	} `json:"sender"`
}

// handleDelivery handles POST /webhook/github. Deliveries are verified,
// translated, and acknowledged immediately; orchestration runs in the
// background so GitHub's delivery timeout never races a long pipeline.
func (s *Server) handleDelivery(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed: use POST")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1MB limit
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	defer func() { _ = r.Body.Close() }()

	if !VerifySignature(s.secret, body, r.Header.Get("X-Hub-Signature-256")) {
		s.writeError(w, http.StatusUnauthorized, "signature verification failed")
		return
	}

	event, err := s.parseDelivery(r.Header.Get("X-GitHub-Event"), body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if event == nil {
		// Valid delivery with no lifecycle meaning (unhandled action).
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ignored"})
		return
	}

	if !s.admit.TryAcquire(1) {
		s.writeError(w, http.StatusServiceUnavailable, "too many deliveries in flight, retry later")
		return
	}
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer s.admit.Release(1)
		if err := s.bus.Dispatch(s.baseCtx, event); err != nil {
			log.Printf("webhook: processing %s for %s failed: %v", event.Kind, event.Key, err)
		}
	}()

	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status": "accepted",
		"event":  string(event.Kind),
		"issue":  event.Key.String(),
	})
}

// branchIssuePattern extracts the issue number from a remediation branch
// name.
var branchIssuePattern = regexp.MustCompile(`^pilot/issue-(\d+)$`)

// parseDelivery maps a GitHub event payload onto a lifecycle trigger.
// Returns (nil, nil) for deliveries that carry no lifecycle meaning.
func (s *Server) parseDelivery(eventType string, body []byte) (*eventbus.Event, error) {
	received := time.Now().UTC()

	switch eventType {
	case "issues":
		var d issuesDelivery
		if err := json.Unmarshal(body, &d); err != nil {
			return nil, fmt.Errorf("invalid issues payload: %v", err)
		}
		key := types.IssueKey{Repository: d.Repository.FullName, IssueNumber: d.Issue.Number}
		if err := key.Validate(); err != nil {
			return nil, fmt.Errorf("invalid issues payload: %v", err)
		}

		var kind eventbus.EventKind
		switch d.Action {
		case "opened", "reopened":
			kind = eventbus.EventIssueOpened
		case "closed":
			kind = eventbus.EventIssueClosed
		default:
			return nil, nil
		}

		labels := make([]string, len(d.Issue.Labels))
		for i, l := range d.Issue.Labels {
			labels[i] = l.Name
		}
		return &eventbus.Event{
			Kind: kind,
			Key:  key,
			Payload: types.IssuePayload{
				Title:  d.Issue.Title,
				Body:   d.Issue.Body,
				Labels: labels,
				Author: d.Issue.User.Login,
			},
			Actor:      d.Sender.Login,
			ReceivedAt: received,
		}, nil

	case "pull_request":
		var d pullRequestDelivery
		if err := json.Unmarshal(body, &d); err != nil {
			return nil, fmt.Errorf("invalid pull_request payload: %v", err)
		}
		if d.Action != "closed" || !d.PullRequest.Merged {
			return nil, nil
		}
		m := branchIssuePattern.FindStringSubmatch(d.PullRequest.Head.Ref)
		if m == nil {
			return nil, nil // Not a remediation branch
		}
		number, _ := strconv.Atoi(m[1])
		key := types.IssueKey{Repository: d.Repository.FullName, IssueNumber: number}
		if err := key.Validate(); err != nil {
			return nil, fmt.Errorf("invalid pull_request payload: %v", err)
		}
		return &eventbus.Event{
			Kind:       eventbus.EventPRMerged,
			Key:        key,
			PRNumber:   d.PullRequest.Number,
			Actor:      d.Sender.Login,
			ReceivedAt: received,
		}, nil

	case "ping":
		return nil, nil

	default:
		return nil, nil
	}
}

// handleStatus handles GET /status/{owner}/{repo}/{number} and
// GET /status/{owner}/{repo} (list).
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed: use GET")
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/status/")
	parts := strings.Split(strings.Trim(path, "/"), "/")

	switch len(parts) {
	case 2:
		repository := parts[0] + "/" + parts[1]
		states, err := s.reader.List(r.Context(), repository)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(states)

	case 3:
		number, err := strconv.Atoi(parts[2])
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "issue number must be an integer")
			return
		}
		key := types.IssueKey{Repository: parts[0] + "/" + parts[1], IssueNumber: number}
		state, err := s.reader.GetStatus(r.Context(), key)
		if errors.Is(err, storage.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, fmt.Sprintf("no lifecycle record for %s", key))
			return
		}
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(state)

	default:
		s.writeError(w, http.StatusNotFound, "expected /status/{owner}/{repo}[/{number}]")
	}
}

// handleHealth handles GET /health for load balancer checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   message,
	})
}
