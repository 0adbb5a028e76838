package graph

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/99designs/gqlgen/graphql"
	"github.com/raphaelgruber/patrolsync/internal/models"
	"github.com/raphaelgruber/patrolsync/internal/service"
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
)

//go:embed schema.graphqls
var sourceSchema string

var parsedSchema = gqlparser.MustLoadSchema(&ast.Source{Name: "schema.graphqls", Input: sourceSchema})

// ResolverRoot gives access to the root resolvers.
type ResolverRoot interface {
	Query() QueryResolver
	Mutation() MutationResolver
	Subscription() SubscriptionResolver
}

type QueryResolver interface {
	Templates(ctx context.Context) ([]TemplateStatus, error)
	ActiveRound(ctx context.Context) (*Round, error)
	Status(ctx context.Context) (*Status, error)
	Stats(ctx context.Context) (*ServerStats, error)
}

type MutationResolver interface {
	StartRound(ctx context.Context, templateID string) (*StartResult, error)
	ResumeRound(ctx context.Context) (*ResumeResult, error)
	ScanCheckpoint(ctx context.Context, input ScanInput) (*ScanResult, error)
	SubmitAnswers(ctx context.Context, input AnswersInput) (*ScanResult, error)
	CloseScanner(ctx context.Context) (bool, error)
	TerminateRound(ctx context.Context) (*Summary, error)
	SubmitRecord(ctx context.Context, kind string, data map[string]any, photo, signature *AttachmentInput) (*Receipt, error)
	RegisterManualRound(ctx context.Context, code string, notes *string, photo *AttachmentInput) (*Receipt, error)
	RefreshCodes(ctx context.Context) (int, error)
	Sync(ctx context.Context) (*PassResult, error)
}

type SubscriptionResolver interface {
	Status(ctx context.Context) (<-chan *Status, error)
}

// Config configures the executable schema.
type Config struct {
	Resolvers ResolverRoot
}

// NewExecutableSchema creates an ExecutableSchema from the resolvers. Root
// fields are resolved serially; results are shaped by the selection set.
func NewExecutableSchema(cfg Config) graphql.ExecutableSchema {
	return &executableSchema{
		resolvers: cfg.Resolvers,
		schema:    parsedSchema,
	}
}

type executableSchema struct {
	resolvers ResolverRoot
	schema    *ast.Schema
}

func (e *executableSchema) Schema() *ast.Schema {
	return e.schema
}

func (e *executableSchema) Complexity(ctx context.Context, typeName, field string, childComplexity int, rawArgs map[string]any) (int, bool) {
	return 0, false
}

// resolveFunc resolves one root field.
type resolveFunc func(ctx context.Context, name string, args map[string]any) (any, error)

func (e *executableSchema) Exec(ctx context.Context) graphql.ResponseHandler {
	opCtx := graphql.GetOperationContext(ctx)

	switch opCtx.Operation.Operation {
	case ast.Query, ast.Mutation:
		def, resolve := e.schema.Query, resolveFunc(e.resolveQuery)
		if opCtx.Operation.Operation == ast.Mutation {
			def, resolve = e.schema.Mutation, e.resolveMutation
		}
		first := true
		return func(ctx context.Context) *graphql.Response {
			if !first {
				return nil
			}
			first = false
			ec := &executionContext{OperationContext: opCtx, schema: e.schema}
			data := ec.root(ctx, def, opCtx.Operation.SelectionSet, resolve)
			var buf bytes.Buffer
			data.MarshalGQL(&buf)
			return &graphql.Response{Data: buf.Bytes(), Errors: ec.errors}
		}

	case ast.Subscription:
		def := e.schema.Subscription
		fields := graphql.CollectFields(opCtx, opCtx.Operation.SelectionSet, []string{def.Name})
		if len(fields) != 1 {
			return graphql.OneShot(graphql.ErrorResponse(ctx, "a subscription must select exactly one field"))
		}
		field := fields[0]
		ec := &executionContext{OperationContext: opCtx, schema: e.schema}
		next, err := e.subscribe(ctx, field.Name, field.ArgumentMap(opCtx.Variables))
		if err != nil {
			ec.fieldError(field, err)
			return graphql.OneShot(&graphql.Response{Errors: ec.errors})
		}
		return func(ctx context.Context) *graphql.Response {
			v, ok := next(ctx)
			if !ok {
				return nil
			}
			ec := &executionContext{OperationContext: opCtx, schema: e.schema}
			data := ec.root(ctx, def, opCtx.Operation.SelectionSet, func(context.Context, string, map[string]any) (any, error) {
				return v, nil
			})
			var buf bytes.Buffer
			data.MarshalGQL(&buf)
			return &graphql.Response{Data: buf.Bytes(), Errors: ec.errors}
		}

	default:
		return graphql.OneShot(graphql.ErrorResponse(ctx, "unsupported GraphQL operation"))
	}
}

func (e *executableSchema) resolveQuery(ctx context.Context, name string, args map[string]any) (any, error) {
	q := e.resolvers.Query()
	switch name {
	case "templates":
		return q.Templates(ctx)
	case "activeRound":
		return q.ActiveRound(ctx)
	case "status":
		return q.Status(ctx)
	case "stats":
		return q.Stats(ctx)
	}
	return nil, fmt.Errorf("unknown query field %q", name)
}

func (e *executableSchema) resolveMutation(ctx context.Context, name string, args map[string]any) (any, error) {
	m := e.resolvers.Mutation()
	switch name {
	case "startRound":
		var a struct {
			TemplateID string `json:"templateId"`
		}
		if err := decodeArgs(args, &a); err != nil {
			return nil, err
		}
		return m.StartRound(ctx, a.TemplateID)
	case "resumeRound":
		return m.ResumeRound(ctx)
	case "scanCheckpoint":
		var a struct {
			Input ScanInput `json:"input"`
		}
		if err := decodeArgs(args, &a); err != nil {
			return nil, err
		}
		return m.ScanCheckpoint(ctx, a.Input)
	case "submitAnswers":
		var a struct {
			Input AnswersInput `json:"input"`
		}
		if err := decodeArgs(args, &a); err != nil {
			return nil, err
		}
		return m.SubmitAnswers(ctx, a.Input)
	case "closeScanner":
		return m.CloseScanner(ctx)
	case "terminateRound":
		return m.TerminateRound(ctx)
	case "submitRecord":
		var a struct {
			Kind      string           `json:"kind"`
			Data      map[string]any   `json:"data"`
			Photo     *AttachmentInput `json:"photo"`
			Signature *AttachmentInput `json:"signature"`
		}
		if err := decodeArgs(args, &a); err != nil {
			return nil, err
		}
		return m.SubmitRecord(ctx, a.Kind, a.Data, a.Photo, a.Signature)
	case "registerManualRound":
		var a struct {
			Code  string           `json:"code"`
			Notes *string          `json:"notes"`
			Photo *AttachmentInput `json:"photo"`
		}
		if err := decodeArgs(args, &a); err != nil {
			return nil, err
		}
		return m.RegisterManualRound(ctx, a.Code, a.Notes, a.Photo)
	case "refreshCodes":
		return m.RefreshCodes(ctx)
	case "sync":
		return m.Sync(ctx)
	}
	return nil, fmt.Errorf("unknown mutation field %q", name)
}

func (e *executableSchema) subscribe(ctx context.Context, name string, args map[string]any) (func(context.Context) (any, bool), error) {
	switch name {
	case "status":
		ch, err := e.resolvers.Subscription().Status(ctx)
		if err != nil {
			return nil, err
		}
		return receive(ch), nil
	}
	return nil, fmt.Errorf("unknown subscription field %q", name)
}

// receive adapts a resolver channel to the subscription loop.
func receive[T any](ch <-chan T) func(context.Context) (any, bool) {
	return func(ctx context.Context) (any, bool) {
		select {
		case v, ok := <-ch:
			return v, ok
		case <-ctx.Done():
			return nil, false
		}
	}
}

// decodeArgs binds coerced field arguments to a struct through their JSON form.
func decodeArgs(args map[string]any, dst any) error {
	b, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode arguments: %w", err)
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

// executionContext carries one response's state.
type executionContext struct {
	*graphql.OperationContext
	schema *ast.Schema
	errors gqlerror.List
}

// root resolves the fields of a root type. A failed non-null field nulls
// the whole data object.
func (ec *executionContext) root(ctx context.Context, def *ast.Definition, sel ast.SelectionSet, resolve resolveFunc) graphql.Marshaler {
	fields := graphql.CollectFields(ec.OperationContext, sel, []string{def.Name})
	out := graphql.NewFieldSet(fields)
	invalid := false
	for i, field := range fields {
		if field.Name == "__typename" {
			out.Values[i] = graphql.MarshalString(def.Name)
			continue
		}
		fd := def.Fields.ForName(field.Name)
		if fd == nil || strings.HasPrefix(field.Name, "__") {
			ec.fieldError(field, errors.New("introspection is not available"))
			out.Values[i] = graphql.Null
			continue
		}

		v, err := ec.call(ctx, field, resolve)
		if err != nil {
			ec.fieldError(field, err)
			v = nil
		}
		m, ok := ec.value(v, fd.Type, field.Selections)
		if !ok {
			invalid = true
			continue
		}
		out.Values[i] = m
	}
	if invalid {
		return graphql.Null
	}
	return out
}

func (ec *executionContext) call(ctx context.Context, field graphql.CollectedField, resolve resolveFunc) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("internal system error: %v", r)
		}
	}()
	res, err := resolve(ctx, field.Name, field.ArgumentMap(ec.Variables))
	if err != nil {
		return nil, err
	}
	return toJSONValue(res)
}

// value shapes a JSON value by the field's type and selection set. It
// reports false when a non-null position ends up null.
func (ec *executionContext) value(v any, typ *ast.Type, sel ast.SelectionSet) (graphql.Marshaler, bool) {
	if v == nil {
		if typ.NonNull {
			return nil, false
		}
		return graphql.Null, true
	}

	if typ.Elem != nil {
		list, _ := v.([]any)
		arr := make(graphql.Array, len(list))
		for i, item := range list {
			m, ok := ec.value(item, typ.Elem, sel)
			if !ok {
				return ec.nullFor(typ)
			}
			arr[i] = m
		}
		return arr, true
	}

	def := ec.schema.Types[typ.Name()]
	if def == nil || def.Kind != ast.Object {
		return graphql.MarshalAny(v), true
	}

	obj, _ := v.(map[string]any)
	fields := graphql.CollectFields(ec.OperationContext, sel, []string{def.Name})
	out := graphql.NewFieldSet(fields)
	for i, field := range fields {
		if field.Name == "__typename" {
			out.Values[i] = graphql.MarshalString(def.Name)
			continue
		}
		fd := def.Fields.ForName(field.Name)
		if fd == nil {
			out.Values[i] = graphql.Null
			continue
		}
		m, ok := ec.value(obj[field.Name], fd.Type, field.Selections)
		if !ok {
			return ec.nullFor(typ)
		}
		out.Values[i] = m
	}
	return out, true
}

func (ec *executionContext) nullFor(typ *ast.Type) (graphql.Marshaler, bool) {
	if typ.NonNull {
		return nil, false
	}
	return graphql.Null, true
}

func (ec *executionContext) fieldError(field graphql.CollectedField, err error) {
	ec.errors = append(ec.errors, &gqlerror.Error{
		Message:    err.Error(),
		Path:       ast.Path{ast.PathName(field.Alias)},
		Extensions: map[string]any{"code": errorCode(err)},
	})
}

// toJSONValue converts a resolver result to its generic JSON form.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return out, nil
}

// errorCode maps the engine's error taxonomy onto error extension codes.
func errorCode(err error) string {
	switch {
	case errors.Is(err, service.ErrInvalidCode):
		return "INVALID_CODE"
	case errors.Is(err, service.ErrConfiguration):
		return "CONFIGURATION"
	case errors.Is(err, models.ErrUnknownKind):
		return "UNKNOWN_KIND"
	case errors.Is(err, service.ErrConflictAlreadyActive):
		return "CONFLICT_ALREADY_ACTIVE"
	case errors.Is(err, service.ErrNotEligible):
		return "NOT_ELIGIBLE"
	case errors.Is(err, service.ErrRoundClosed):
		return "ROUND_CLOSED"
	case errors.Is(err, service.ErrAlreadyScanned):
		return "ALREADY_SCANNED"
	case errors.Is(err, service.ErrScannerBusy):
		return "SCANNER_BUSY"
	case errors.Is(err, service.ErrNoActiveRound):
		return "NO_ACTIVE_ROUND"
	case errors.Is(err, service.ErrNoPendingScan):
		return "NO_PENDING_SCAN"
	case errors.Is(err, service.ErrNetworkUnavailable):
		return "NETWORK_UNAVAILABLE"
	case errors.Is(err, service.ErrTimeout):
		return "TIMEOUT"
	}
	return "INTERNAL"
}
