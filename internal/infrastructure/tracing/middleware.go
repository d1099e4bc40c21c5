package tracing

import (
	"context"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// HTTPMiddleware creates Gin middleware for HTTP tracing
func HTTPMiddleware(tracer *Tracer) gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID, parentID := ExtractTraceContext(map[string]string{
			TraceHeader: c.GetHeader(TraceHeader),
			SpanHeader:  c.GetHeader(SpanHeader),
		})
		ctx := WithTraceContext(c.Request.Context(), traceID, parentID)

		span, ctx := tracer.StartSpan(ctx, c.FullPath())
		span.SetTag("http.method", c.Request.Method)
		span.SetTag("http.url", c.Request.URL.String())

		c.Request = c.Request.WithContext(ctx)
		c.Header(TraceHeader, string(span.TraceID))
		c.Header(SpanHeader, string(span.SpanID))

		c.Next()

		span.SetTag("http.status", strconv.Itoa(c.Writer.Status()))
		if len(c.Errors) > 0 {
			span.SetError(c.Errors.Last())
		}

		span.Finish()
		tracer.Submit(span)
	}
}

// GRPCClientInterceptor creates a gRPC client interceptor for tracing
func GRPCClientInterceptor(tracer *Tracer) grpc.UnaryClientInterceptor {
	return func(
		ctx context.Context,
		method string,
		req, reply interface{},
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {
		span, ctx := tracer.StartSpan(ctx, method)
		span.SetTag("rpc.system", "grpc")
		span.SetTag("span.kind", "client")

		headers := make(map[string]string)
		InjectTraceContext(ctx, headers)
		md := metadata.MD{}
		for k, v := range headers {
			md.Set(strings.ToLower(k), v)
		}
		ctx = metadata.NewOutgoingContext(ctx, md)

		err := invoker(ctx, method, req, reply, cc, opts...)

		span.SetTag("rpc.code", status.Code(err).String())
		if err != nil {
			span.SetError(err)
		}

		span.Finish()
		tracer.Submit(span)

		return err
	}
}
