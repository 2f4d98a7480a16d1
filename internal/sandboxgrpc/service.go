// Package sandboxgrpc exposes the execution sandbox, the messaging endpoint
// and the embed store over a single gRPC service.
//
// The service is declared by hand: every message is a
// google.protobuf.Struct carrying the JSON form of the wire types below.
package sandboxgrpc

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"pkt.systems/webbox/schema"
)

const serviceName = "webbox.sandbox.v1.Sandbox"

const (
	methodPing        = "Ping"
	methodMkdir       = "Mkdir"
	methodWriteFile   = "WriteFile"
	methodRm          = "Rm"
	methodSignal      = "Signal"
	methodEmitAction  = "EmitAction"
	methodEmitEvent   = "EmitEvent"
	methodSaveEmbed   = "SaveEmbed"
	methodUpdateEmbed = "UpdateEmbed"
	methodDeleteEmbed = "DeleteEmbed"
	methodGetEmbed    = "GetEmbed"
	streamExec        = "Exec"
	streamSubscribe   = "Subscribe"
)

// sandboxService is implemented by *Server; grpc checks it on registration.
type sandboxService interface {
	call(ctx context.Context, method string, in *structpb.Struct) (*structpb.Struct, error)
	exec(stream grpc.ServerStream) error
	subscribe(stream grpc.ServerStream) error
}

var execStreamDesc = grpc.StreamDesc{
	StreamName:    streamExec,
	ServerStreams: true,
	ClientStreams: true,
}

var subscribeStreamDesc = grpc.StreamDesc{
	StreamName:    streamSubscribe,
	ServerStreams: true,
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*sandboxService)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod(methodPing),
		unaryMethod(methodMkdir),
		unaryMethod(methodWriteFile),
		unaryMethod(methodRm),
		unaryMethod(methodSignal),
		unaryMethod(methodEmitAction),
		unaryMethod(methodEmitEvent),
		unaryMethod(methodSaveEmbed),
		unaryMethod(methodUpdateEmbed),
		unaryMethod(methodDeleteEmbed),
		unaryMethod(methodGetEmbed),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    streamExec,
			ServerStreams: true,
			ClientStreams: true,
			Handler: func(srv any, stream grpc.ServerStream) error {
				return srv.(sandboxService).exec(stream)
			},
		},
		{
			StreamName:    streamSubscribe,
			ServerStreams: true,
			Handler: func(srv any, stream grpc.ServerStream) error {
				return srv.(sandboxService).subscribe(stream)
			},
		},
	},
	Metadata: "webbox/sandbox/v1/sandbox.proto",
}

func unaryMethod(name string) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			svc := srv.(sandboxService)
			if interceptor == nil {
				return svc.call(ctx, name, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return svc.call(ctx, name, req.(*structpb.Struct))
			})
		},
	}
}

func fullMethod(name string) string {
	return "/" + serviceName + "/" + name
}

// encode converts a wire value to a Struct through its JSON form.
func encode(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return out, nil
}

// decode fills v from a Struct.
func decode(in *structpb.Struct, v any) error {
	if in == nil {
		in = new(structpb.Struct)
	}
	data, err := protojson.Marshal(in)
	if err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %T: %w", v, err)
	}
	return nil
}

type okResponse struct {
	OK bool `json:"ok"`
}

type pathsRequest struct {
	Paths   []string `json:"paths"`
	Parents bool     `json:"parents,omitempty"`
}

type writeFileRequest struct {
	Path string `json:"path"`
	Data []byte `json:"data"`
}

type signalRequest struct {
	RunID  string `json:"runId"`
	Signal string `json:"signal"`
}

type signalResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

// execRequest is the first frame of an Exec stream.
type execRequest struct {
	RunID   string   `json:"runId"`
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
	Cwd     string   `json:"cwd,omitempty"`
	Env     []string `json:"env,omitempty"`
	Term    bool     `json:"term,omitempty"`
	Streams int      `json:"streams,omitempty"`
}

// execInput is every client frame of an Exec stream.
type execInput struct {
	Request    *execRequest `json:"request,omitempty"`
	Stdin      []byte       `json:"stdin,omitempty"`
	CloseStdin bool         `json:"closeStdin,omitempty"`
}

type execEventKind string

const (
	execStarted execEventKind = "started"
	execStdout  execEventKind = "stdout"
	execStderr  execEventKind = "stderr"
	execResult  execEventKind = "result"
	execExit    execEventKind = "exit"
)

// execEvent is every server frame of an Exec stream.
type execEvent struct {
	Kind   execEventKind   `json:"kind"`
	Data   []byte          `json:"data,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Code   int             `json:"code,omitempty"`
	Signal string          `json:"signal,omitempty"`
}

type subscribeRequest struct {
	EmbedID schema.EmbedID `json:"embedId,omitempty"`
}

type embedRequest struct {
	ID    schema.EmbedID    `json:"id"`
	Code  map[string]string `json:"code,omitempty"`
	Embed *schema.Embed     `json:"embed,omitempty"`
}
