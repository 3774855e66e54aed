// Package llm implements a streaming client for OpenAI-compatible chat
// completion APIs (OpenRouter in production).
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/DARPAI/portal-backend/internal/apperr"
	"github.com/DARPAI/portal-backend/internal/log"
)

// Config configures the client.
type Config struct {
	APIKey  string
	BaseURL string
	// Proxy is an optional forward proxy URL for provider requests.
	Proxy string
}

// Client talks to a chat-completions endpoint.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
	logger  log.Logger
}

// NewClient creates a chat-completions client.
func NewClient(cfg Config, logger log.Logger) (*Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("parse proxy URL: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}
	// No overall client timeout: it would cut long streams. The header
	// timeout bounds time-to-first-byte instead.
	transport.ResponseHeaderTimeout = 20 * time.Second

	return &Client{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Transport: transport},
		logger:  logger,
	}, nil
}

// Stream sends a streaming completion request and yields chunks as they
// arrive. Text deltas come as Chunk{Text}; when the model finishes with tool
// calls, the accumulated batch is yielded once as Chunk{ToolCalls}.
//
// Iteration stops at the first error. Breaking out of the range cancels the
// underlying response body read.
func (c *Client) Stream(ctx context.Context, req Request) iter.Seq2[Chunk, error] {
	return func(yield func(Chunk, error) bool) {
		body, err := c.open(ctx, req)
		if err != nil {
			yield(Chunk{}, err)
			return
		}
		defer body.Close()

		acc := newToolCallAccumulator()
		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "" || data == "[DONE]" {
				continue
			}

			var chunk streamChunk
			if err := json.Unmarshal([]byte(data), &chunk); err != nil {
				c.logger.Warn("skipping malformed stream chunk", "error", err)
				continue
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]

			if choice.FinishReason == "tool_calls" {
				if !yield(Chunk{ToolCalls: acc.batch()}, nil) {
					return
				}
				continue
			}
			if choice.Delta.Content != "" {
				if !yield(Chunk{Text: choice.Delta.Content}, nil) {
					return
				}
			}
			for _, piece := range choice.Delta.ToolCalls {
				acc.add(piece)
			}
		}
		if err := scanner.Err(); err != nil {
			yield(Chunk{}, apperr.RemoteServer("LLM request failed", err))
		}
	}
}

// open sends the request and returns the response body on a 200.
func (c *Client) open(ctx context.Context, req Request) (io.ReadCloser, error) {
	payload, err := req.marshalWire()
	if err != nil {
		return nil, fmt.Errorf("encode completion request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build completion request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, apperr.RemoteServer("LLM request failed", err)
	}
	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		c.logger.Error("LLM provider returned error",
			"status", resp.StatusCode,
			"detail", string(detail))
		return nil, apperr.RemoteServer("LLM request failed", nil)
	}
	return resp.Body, nil
}

// toolCallAccumulator assembles tool calls from streamed fragments. The
// provider sends each call in pieces keyed by index: the id and name arrive
// first, then the arguments string in increments.
type toolCallAccumulator struct {
	calls map[int]*ToolCall
	order []int
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{calls: make(map[int]*ToolCall)}
}

func (a *toolCallAccumulator) add(piece deltaToolCall) {
	tc, ok := a.calls[piece.Index]
	if !ok {
		tc = &ToolCall{}
		a.calls[piece.Index] = tc
		a.order = append(a.order, piece.Index)
	}
	if piece.ID != "" {
		tc.ID = piece.ID
	}
	if piece.Function.Name != "" {
		tc.Name = piece.Function.Name
	}
	tc.Arguments += piece.Function.Arguments
}

func (a *toolCallAccumulator) batch() []ToolCall {
	sort.Ints(a.order)
	batch := make([]ToolCall, 0, len(a.order))
	for _, idx := range a.order {
		batch = append(batch, *a.calls[idx])
	}
	return batch
}
