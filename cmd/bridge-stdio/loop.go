package main

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/chatgpt-bridge/bridge/internal/bridgeerr"
	"github.com/chatgpt-bridge/bridge/internal/core"
	"github.com/chatgpt-bridge/bridge/internal/prompt"
)

// runLoop reads one JSON request per line from stdin and writes one JSON
// response per line to stdout, with no streaming and no auth: this
// transport trusts its local caller rather than an HTTP boundary.
func runLoop(stdin io.Reader, stdout, stderr io.Writer, engine *core.Engine) int {
	scanner := bufio.NewScanner(stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	encoder := json.NewEncoder(stdout)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var req stdioRequest
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			_ = encoder.Encode(stdioResponse{Error: &stdioError{Message: "invalid JSON: " + err.Error(), Type: "invalid_request"}})
			continue
		}

		resp := handleRequest(engine, req)
		if err := encoder.Encode(resp); err != nil {
			safeFprintln(stderr, "failed to encode response: "+err.Error())
			return 1
		}
	}
	if err := scanner.Err(); err != nil {
		safeFprintln(stderr, "error reading stdin: "+err.Error())
		return 1
	}
	return 0
}

func handleRequest(engine *core.Engine, req stdioRequest) stdioResponse {
	if req.RequestID == "" {
		req.RequestID = core.NewRequestID()
	}

	messages := make([]prompt.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, prompt.Message{Role: m.Role, Content: m.Content})
	}

	result, err := engine.Complete(context.Background(), core.CompletionRequest{
		RequestID:      req.RequestID,
		Messages:       messages,
		SessionSlot:    req.SessionKey,
		ConversationID: req.ConversationID,
		StrictOpen:     req.StrictOpen,
	})
	if err != nil {
		berr := bridgeerr.As(err)
		return stdioResponse{
			RequestID: req.RequestID,
			Error:     &stdioError{Message: berr.Message, Type: string(berr.Kind)},
		}
	}

	return stdioResponse{
		RequestID:      result.RequestID,
		Text:           result.Text,
		ContextReset:   result.ContextReset,
		SessionSlot:    result.SessionSlot,
		ConversationID: result.ConversationID,
		ExtractionMode: result.ExtractionMode,
	}
}
