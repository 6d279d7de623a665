package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// RemoteSession executes fragments on a micro-VM execution service over
// JSON/HTTP. Strongest isolation of the four kinds, at round-trip cost.
//
//	POST   {base}/v1/sessions            -> {"session_id": "..."}
//	POST   {base}/v1/sessions/{id}/exec  -> {"stdout","return_value","error","limit"}
//	DELETE {base}/v1/sessions/{id}
type RemoteSession struct {
	baseURL   string
	sessionID string
	client    *http.Client
	limits    Limits

	teardownOnce sync.Once
	teardownErr  error
}

type remoteCreateRequest struct {
	WallClockMS int64 `json:"wall_clock_ms"`
	MemoryBytes int64 `json:"memory_bytes,omitempty"`
}

type remoteCreateResponse struct {
	SessionID string `json:"session_id"`
}

type remoteExecRequest struct {
	Fragment string `json:"fragment"`
}

type remoteExecResponse struct {
	Stdout      string `json:"stdout"`
	ReturnValue string `json:"return_value"`
	Error       string `json:"error,omitempty"`
	// Limit names the resource that was exceeded, if any: "wall_clock",
	// "op_count" or "memory".
	Limit string `json:"limit,omitempty"`
}

// NewRemoteSession negotiates a session with the execution service.
func NewRemoteSession(ctx context.Context, baseURL string, limits Limits) (*RemoteSession, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("remote sandbox requires a base URL")
	}
	l := limits.withDefaults()
	s := &RemoteSession{
		baseURL: baseURL,
		client:  &http.Client{Timeout: l.WallClock + 10*time.Second},
		limits:  l,
	}

	var resp remoteCreateResponse
	err := s.post(ctx, "/v1/sessions", remoteCreateRequest{
		WallClockMS: l.WallClock.Milliseconds(),
		MemoryBytes: l.MemoryBytes,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("failed to create remote session: %w", err)
	}
	if resp.SessionID == "" {
		return nil, fmt.Errorf("remote service returned an empty session id")
	}
	s.sessionID = resp.SessionID
	return s, nil
}

// Capabilities implements Session.
func (s *RemoteSession) Capabilities() Capabilities {
	return Capabilities{
		Isolate:            true,
		LimitCPU:           true,
		LimitMemory:        true,
		LimitNetwork:       true,
		PersistAcrossCalls: true,
	}
}

// Execute implements Session.
func (s *RemoteSession) Execute(ctx context.Context, fragment string, _ map[string]HostFunc) (Output, error) {
	var resp remoteExecResponse
	err := s.post(ctx, "/v1/sessions/"+s.sessionID+"/exec", remoteExecRequest{Fragment: fragment}, &resp)
	if err != nil {
		return Output{}, fmt.Errorf("remote execution failed: %w", err)
	}

	out := Output{Stdout: resp.Stdout, ReturnValue: resp.ReturnValue}
	if resp.Limit != "" {
		return out, &LimitError{Resource: resp.Limit}
	}
	if resp.Error != "" {
		return out, fmt.Errorf("fragment fault: %s", resp.Error)
	}
	return out, nil
}

// Teardown implements Session. Releases the remote session; safe to call
// more than once.
func (s *RemoteSession) Teardown() error {
	s.teardownOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, s.baseURL+"/v1/sessions/"+s.sessionID, nil)
		if err != nil {
			s.teardownErr = err
			return
		}
		resp, err := s.client.Do(req)
		if err != nil {
			s.teardownErr = err
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
			s.teardownErr = fmt.Errorf("remote teardown returned %s", resp.Status)
		}
	})
	return s.teardownErr
}

func (s *RemoteSession) post(ctx context.Context, path string, body, into any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("remote service returned %s: %s", resp.Status, string(data))
	}
	return json.Unmarshal(data, into)
}
