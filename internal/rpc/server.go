// Package rpc serves the plan and task API as newline-delimited
// JSON-RPC 2.0 over a reader/writer pair, normally the process stdio.
// Each request line carries one call; each response is written back as
// one line. Typed service errors map to stable JSON-RPC error codes so
// callers can branch without parsing messages.
package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/basket/planvault/internal/lifecycle"
	"github.com/basket/planvault/internal/otel"
	"github.com/basket/planvault/internal/planstore"
	"github.com/basket/planvault/internal/service"
	"github.com/basket/planvault/internal/shared"
)

// JSON-RPC 2.0 standard codes plus the application range.
const (
	codeParse          = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternal       = -32603

	codeNotFound          = -32000
	codeSessionMismatch   = -32001
	codeActiveConflict    = -32002
	codeInvalidTransition = -32003
)

// maxLineBytes bounds a single request line. Metadata payloads are
// small; anything larger is a protocol error, not a legitimate call.
const maxLineBytes = 1 << 20

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type handlerFunc func(ctx context.Context, params json.RawMessage) (any, error)

// Server dispatches JSON-RPC calls to the service layer.
type Server struct {
	svc      *service.Service
	logger   *slog.Logger
	tracer   trace.Tracer
	schemas  map[string]*jsonschema.Schema
	handlers map[string]handlerFunc

	writeMu sync.Mutex
	out     io.Writer
}

// NewServer wires the dispatch table and compiles the method schemas.
func NewServer(svc *service.Service, logger *slog.Logger, tracer trace.Tracer) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if tracer == nil {
		tracer = tracenoop.NewTracerProvider().Tracer(otel.TracerName)
	}
	schemas, err := compileSchemas()
	if err != nil {
		return nil, err
	}
	s := &Server{
		svc:     svc,
		logger:  logger,
		tracer:  tracer,
		schemas: schemas,
	}
	s.handlers = map[string]handlerFunc{
		"create_plan":      typed(svc.CreatePlan),
		"get_plan":         typed(svc.GetPlan),
		"get_plan_by_name": typed(svc.GetPlanByName),
		"list_plans":       typed(svc.ListPlans),
		"update_plan":      typed(svc.UpdatePlan),
		"activate_plan":    typed(svc.ActivatePlan),
		"complete_plan":    typed(svc.CompletePlan),
		"archive_plan":     typed(svc.ArchivePlan),
		"create_task":      typed(svc.CreateTask),
		"get_task":         typed(svc.GetTask),
		"list_tasks":       typed(svc.ListTasks),
		"update_task":      typed(svc.UpdateTask),
		"start_task":       typed(svc.StartTask),
		"complete_task":    typed(svc.CompleteTask),
		"fail_task":        typed(svc.FailTask),
		"get_plan_history": typed(svc.PlanHistory),
		"get_task_history": typed(svc.TaskHistory),
	}
	return s, nil
}

// typed decodes params into the handler's request struct. Schema
// validation has already run by the time the decoder sees the bytes.
func typed[Req any, Res any](call func(context.Context, Req) (Res, error)) handlerFunc {
	return func(ctx context.Context, params json.RawMessage) (any, error) {
		var req Req
		if len(params) > 0 {
			if err := json.Unmarshal(params, &req); err != nil {
				return nil, &planstore.ValidationError{Field: "params", Reason: err.Error()}
			}
		}
		return call(ctx, req)
	}
}

// Serve reads request lines from r until EOF or ctx cancellation.
// Responses go to w, one line each.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	s.out = w
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		s.handleLine(ctx, line)
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			s.write(response{JSONRPC: "2.0", Error: &rpcError{Code: codeParse, Message: "request line too long"}})
		}
		return err
	}
	return nil
}

func (s *Server) handleLine(ctx context.Context, line []byte) {
	var req request
	if err := json.Unmarshal(line, &req); err != nil {
		s.write(response{JSONRPC: "2.0", Error: &rpcError{Code: codeParse, Message: "parse error"}})
		return
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		s.write(response{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: codeInvalidRequest, Message: "invalid request"}})
		return
	}

	ctx = shared.WithTraceID(ctx, shared.NewTraceID())
	ctx, span := otel.StartServerSpan(ctx, s.tracer, "rpc."+req.Method,
		otel.AttrOperation.String(req.Method))
	defer span.End()

	handler, ok := s.handlers[req.Method]
	if !ok {
		s.logger.Warn("unknown method", "method", req.Method)
		s.write(response{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{
			Code: codeMethodNotFound, Message: fmt.Sprintf("method %q not found", req.Method),
		}})
		return
	}

	if err := s.validateParams(req.Method, req.Params); err != nil {
		s.write(response{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{
			Code: codeInvalidParams, Message: "invalid params", Data: err.Error(),
		}})
		return
	}

	result, err := handler(ctx, req.Params)
	if err != nil {
		span.RecordError(err)
		s.write(response{JSONRPC: "2.0", ID: req.ID, Error: toRPCError(err)})
		return
	}
	s.write(response{JSONRPC: "2.0", ID: req.ID, Result: result})
}

func (s *Server) validateParams(method string, params json.RawMessage) error {
	schema := s.schemas[method]
	if schema == nil {
		return nil
	}
	if len(params) == 0 {
		params = json.RawMessage("{}")
	}
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(params)))
	if err != nil {
		return fmt.Errorf("params are not valid JSON: %w", err)
	}
	return schema.Validate(doc)
}

// toRPCError maps the typed error taxonomy to wire codes.
func toRPCError(err error) *rpcError {
	var (
		planNF     *planstore.PlanNotFoundError
		planNameNF *planstore.PlanNameNotFoundError
		taskNF     *planstore.TaskNotFoundError
		mismatch   *planstore.SessionMismatchError
		conflict   *planstore.ActivePlanConflictError
		validation *planstore.ValidationError
		transition *lifecycle.InvalidTransitionError
	)
	switch {
	case errors.As(err, &planNF), errors.As(err, &planNameNF), errors.As(err, &taskNF):
		return &rpcError{Code: codeNotFound, Message: err.Error()}
	case errors.As(err, &mismatch):
		return &rpcError{Code: codeSessionMismatch, Message: err.Error()}
	case errors.As(err, &conflict):
		return &rpcError{Code: codeActiveConflict, Message: err.Error(),
			Data: map[string]int64{"active_plan_id": conflict.ActivePlanID}}
	case errors.As(err, &validation):
		return &rpcError{Code: codeInvalidParams, Message: err.Error()}
	case errors.As(err, &transition):
		return &rpcError{Code: codeInvalidTransition, Message: err.Error()}
	default:
		return &rpcError{Code: codeInternal, Message: "internal error"}
	}
}

func (s *Server) write(resp response) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("marshal response", "error", err)
		return
	}
	data = append(data, '\n')
	if _, err := s.out.Write(data); err != nil {
		s.logger.Error("write response", "error", err)
	}
}
