/*
Package tracing provides lightweight span tracing logged through zap.

Spans are created around negotiate calls to the capability service (gRPC
client interceptor) and around requests to the status HTTP surface (gin
middleware). Trace context travels in the X-Trace-ID / X-Span-ID headers,
lower-cased in gRPC metadata.

# Usage

	tracer := tracing.New("capshim", logger)
	defer tracer.Close()

	conn, err := grpc.NewClient(addr,
		grpc.WithUnaryInterceptor(tracing.GRPCClientInterceptor(tracer)),
	)

	span, ctx := tracer.StartSpan(ctx, "operation")
	defer func() {
		span.Finish()
		tracer.Submit(span)
	}()
*/
package tracing
