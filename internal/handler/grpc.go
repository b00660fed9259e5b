package handler

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/SyedDaiam9101/fundus-service/internal/classifier"
)

// ClassifierServiceName is the fully qualified gRPC service name.
const ClassifierServiceName = "fundus.v1.Classifier"

// PredictMethod is the full method path of Classifier.Predict.
const PredictMethod = "/" + ClassifierServiceName + "/Predict"

// ClassifierServer is the gRPC surface of the classifier. Requests carry
// raw image bytes; responses mirror the HTTP JSON body.
type ClassifierServer interface {
	Predict(context.Context, *wrapperspb.BytesValue) (*structpb.Struct, error)
}

// ClassifierServiceDesc describes fundus.v1.Classifier using protobuf
// well-known types for both messages.
var ClassifierServiceDesc = grpc.ServiceDesc{
	ServiceName: ClassifierServiceName,
	HandlerType: (*ClassifierServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Predict",
			Handler:    predictHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "fundus/v1/classifier.proto",
}

func predictHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ClassifierServer).Predict(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: PredictMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ClassifierServer).Predict(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

// RegisterClassifierServer registers srv on s.
func RegisterClassifierServer(s grpc.ServiceRegistrar, srv ClassifierServer) {
	s.RegisterService(&ClassifierServiceDesc, srv)
}

// GRPCServer implements ClassifierServer.
type GRPCServer struct {
	classifier *classifier.Classifier
}

// NewGRPCServer creates a gRPC classifier backed by c.
func NewGRPCServer(c *classifier.Classifier) *GRPCServer {
	return &GRPCServer{classifier: c}
}

// Predict classifies the image bytes in req.
func (s *GRPCServer) Predict(ctx context.Context, req *wrapperspb.BytesValue) (*structpb.Struct, error) {
	if req == nil || len(req.GetValue()) == 0 {
		return nil, invalidArgumentError("image bytes cannot be empty")
	}

	pred, err := s.classifier.Predict(ctx, req.GetValue())
	if err != nil {
		return nil, grpcError(err)
	}

	return structpb.NewStruct(map[string]interface{}{
		"predicted_class": pred.Class,
		"confidence":      pred.Confidence,
	})
}

var _ ClassifierServer = (*GRPCServer)(nil)
