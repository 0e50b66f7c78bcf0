package rpcdriver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/grpc"

	"github.com/chatgpt-bridge/bridge/internal/bridgeerr"
	"github.com/chatgpt-bridge/bridge/internal/uidriver"
)

// Server exposes a uidriver.Backend over the single-method UIDriver
// service. It is a reference implementation for local development: point
// UI_DRIVER_ADDR at an instance of this server wrapping
// uidriver.NewStubBackend to exercise the full gRPC path without real OS
// automation.
type Server struct {
	backend   uidriver.Backend
	leases    map[string]func()
	leaseNext int
}

// NewServer wraps backend for serving.
func NewServer(backend uidriver.Backend) *Server {
	return &Server{backend: backend, leases: make(map[string]func())}
}

// Register attaches the service to a grpc.Server.
func (s *Server) Register(gs *grpc.Server) {
	gs.RegisterService(&serviceDesc, s)
}

func (s *Server) handle(ctx context.Context, env *Envelope) (*Reply, error) {
	result, err := s.dispatch(ctx, env.Method, env.Payload)
	if err != nil {
		be := bridgeerr.As(err)
		return &Reply{Error: &ErrorPayload{Kind: string(be.Kind), Message: be.Message, RetryAfterS: be.RetryAfterS}}, nil
	}
	if result == nil {
		return &Reply{}, nil
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return &Reply{Payload: raw}, nil
}

func (s *Server) dispatch(ctx context.Context, method string, payload json.RawMessage) (any, error) {
	switch method {
	case "Health":
		h, err := s.backend.Health(ctx)
		if err != nil {
			return nil, err
		}
		return HealthResult{OK: h.OK, Accessibility: string(h.Accessibility), AppRunning: h.AppRunning, Code: h.Code, Message: h.Message}, nil

	case "EnsureRunning":
		return nil, s.backend.EnsureRunning(ctx)

	case "EnsureWindowAvailable":
		return nil, s.backend.EnsureWindowAvailable(ctx)

	case "ResetChat":
		var p ResetChatPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, err
		}
		performed, err := s.backend.ResetChat(ctx, p.Strict)
		if err != nil {
			return nil, err
		}
		return ResetChatResult{Performed: performed}, nil

	case "OpenConversation":
		var p OpenConversationPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, err
		}
		opened, err := s.backend.OpenConversation(ctx, p.Title)
		if err != nil {
			return nil, err
		}
		return OpenConversationResult{Opened: opened}, nil

	case "AcquireClipboard":
		release, err := s.backend.AcquireClipboard(ctx)
		if err != nil {
			return nil, err
		}
		s.leaseNext++
		id := fmt.Sprintf("lease-%d", s.leaseNext)
		s.leases[id] = release
		return AcquireClipboardResult{LeaseID: id}, nil

	case "ReleaseClipboard":
		var p ReleaseClipboardPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, err
		}
		if release, ok := s.leases[p.LeaseID]; ok {
			release()
			delete(s.leases, p.LeaseID)
		}
		return nil, nil

	case "Paste":
		var p PastePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, err
		}
		return nil, s.backend.Paste(ctx, p.Text)

	case "Submit":
		return nil, s.backend.Submit(ctx)

	case "Scrape":
		var p ScrapePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, err
		}
		text, err := s.backend.Scrape(ctx, time.Duration(p.TimeoutMS)*time.Millisecond)
		if err != nil {
			return nil, err
		}
		return ScrapeResult{Text: text}, nil

	case "GetConversations":
		var p GetConversationsPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, err
		}
		titles, err := s.backend.GetConversations(ctx, p.RequestID)
		if err != nil {
			return nil, err
		}
		return GetConversationsResult{Titles: titles}, nil

	default:
		return nil, bridgeerr.New(bridgeerr.Unknown, "unknown ui driver rpc method: "+method)
	}
}

func invokeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(Envelope)
	if err := dec(in); err != nil {
		return nil, err
	}
	s := srv.(*Server)
	if interceptor == nil {
		return s.handle(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return s.handle(ctx, req.(*Envelope))
	}
	return interceptor(ctx, in, info, handler)
}

// serverAPI exists only to give the ServiceDesc a HandlerType, matching
// the shape protoc would generate.
type serverAPI interface {
	handle(ctx context.Context, env *Envelope) (*Reply, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: "bridge.uidriver.v1.UIDriver",
	HandlerType: (*serverAPI)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Invoke", Handler: invokeHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "rpcdriver/uidriver.proto",
}
