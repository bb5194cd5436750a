package grpc

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"

	// well-known типы должны быть зарегистрированы до сборки файла
	_ "google.golang.org/protobuf/types/known/emptypb"
	_ "google.golang.org/protobuf/types/known/structpb"
	_ "google.golang.org/protobuf/types/known/wrapperspb"
)

// Описание dashboard/v1/dashboard.proto регистрируется в protoregistry.GlobalFiles,
// чтобы server reflection мог отдать схему сервиса (grpcurl describe/list).
func init() {
	fd, err := protodesc.NewFile(dashboardFile(), protoregistry.GlobalFiles)
	if err != nil {
		panic(fmt.Sprintf("invalid dashboard descriptor: %v", err))
	}
	if err := protoregistry.GlobalFiles.RegisterFile(fd); err != nil {
		panic(fmt.Sprintf("failed to register dashboard descriptor: %v", err))
	}
}

func dashboardFile() *descriptorpb.FileDescriptorProto {
	method := func(name, in, out string, serverStreaming bool) *descriptorpb.MethodDescriptorProto {
		m := &descriptorpb.MethodDescriptorProto{
			Name:       proto.String(name),
			InputType:  proto.String(in),
			OutputType: proto.String(out),
		}
		if serverStreaming {
			m.ServerStreaming = proto.Bool(true)
		}
		return m
	}

	const (
		empty     = ".google.protobuf.Empty"
		str       = ".google.protobuf.StringValue"
		object    = ".google.protobuf.Struct"
		listValue = ".google.protobuf.ListValue"
	)

	return &descriptorpb.FileDescriptorProto{
		Name:    proto.String(serviceDesc.Metadata.(string)),
		Package: proto.String("dashboard.v1"),
		Syntax:  proto.String("proto3"),
		Dependency: []string{
			"google/protobuf/empty.proto",
			"google/protobuf/struct.proto",
			"google/protobuf/wrappers.proto",
		},
		Service: []*descriptorpb.ServiceDescriptorProto{{
			Name: proto.String("DashboardService"),
			Method: []*descriptorpb.MethodDescriptorProto{
				method("GetView", str, object, false),
				method("ListTopics", empty, listValue, false),
				method("GetStatus", empty, str, false),
				method("WatchView", str, object, true),
			},
		}},
	}
}
