package lessonplan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/tutorlive/internal/domain"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/structpb"
)

// Service and method names of the lesson-plan gRPC service. Requests and
// responses are google.protobuf.Struct messages.
const (
	ServiceName        = "tutor.lessonplan.v1.LessonPlanService"
	generatePlanMethod = "/" + ServiceName + "/GeneratePlan"
)

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
)

// GrpcClientConfig holds configuration for the gRPC planner client.
type GrpcClientConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultGrpcClientConfig returns default configuration.
func DefaultGrpcClientConfig() GrpcClientConfig {
	return GrpcClientConfig{
		Address:          "localhost:50051",
		ConnectTimeout:   5 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// GrpcPlanner requests lesson plans from a remote planning service.
type GrpcPlanner struct {
	conn   *grpc.ClientConn
	health healthpb.HealthClient
	addr   string
	logger *slog.Logger
}

// NewGrpcPlanner connects to the planning service at addr and waits until it
// is reachable.
func NewGrpcPlanner(addr string, logger *slog.Logger) (*GrpcPlanner, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cfg := DefaultGrpcClientConfig()
	if addr != "" {
		cfg.Address = addr
	}

	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}

	// Build client connection (no network I/O yet).
	conn, err := grpc.NewClient(cfg.Address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to lesson planner at %s: %w", cfg.Address, err)
	}

	// Force a connection attempt during startup so we fail fast on bad endpoints.
	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("failed to close gRPC connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("lesson planner at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("Connected to lesson planner", "address", cfg.Address)

	return &GrpcPlanner{
		conn:   conn,
		health: healthpb.NewHealthClient(conn),
		addr:   cfg.Address,
		logger: logger,
	}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Close closes the gRPC connection.
func (c *GrpcPlanner) Close() {
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Warn("failed to close gRPC connection", "error", err)
		}
	}
}

// Health checks that the planning service reports SERVING.
func (c *GrpcPlanner) Health(ctx context.Context) error {
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("lesson planner status %s", resp.GetStatus())
	}
	return nil
}

// GeneratePlan requests a plan for req. A response without a plan yields nil, nil.
func (c *GrpcPlanner) GeneratePlan(ctx context.Context, req domain.LessonPlanRequest) (*domain.LessonPlan, error) {
	in, err := requestStruct(req)
	if err != nil {
		return nil, err
	}
	out := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, generatePlanMethod, in, out); err != nil {
		c.logger.Warn("GeneratePlan failed", "error", err, "learner_id", req.LearnerID, "topic", req.Topic)
		return nil, fmt.Errorf("generate plan request failed: %w", err)
	}
	return planFromStruct(out)
}

func requestStruct(req domain.LessonPlanRequest) (*structpb.Struct, error) {
	fields := map[string]any{
		"learner_id":      req.LearnerID,
		"topic":           req.Topic,
		"prior_knowledge": req.PriorKnowledge,
	}
	if p := req.Profile; p != nil {
		fields["grade_level"] = p.GradeLevel
		interests := make([]any, 0, len(p.Interests))
		for _, s := range p.Interests {
			interests = append(interests, s)
		}
		fields["interests"] = interests
	}
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("encode plan request: %w", err)
	}
	return s, nil
}

// planFromStruct reads the "plan" field of a response.
func planFromStruct(s *structpb.Struct) (*domain.LessonPlan, error) {
	v, ok := s.GetFields()["plan"]
	if !ok || v.GetStructValue() == nil {
		return nil, nil
	}
	body, err := json.Marshal(v.GetStructValue().AsMap())
	if err != nil {
		return nil, fmt.Errorf("encode plan: %w", err)
	}
	return parsePlan(string(body))
}

// PlanServer is implemented by hosts of the lesson-plan gRPC service.
type PlanServer interface {
	GeneratePlan(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

func generatePlanHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PlanServer).GeneratePlan(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: generatePlanMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PlanServer).GeneratePlan(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var planServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PlanServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GeneratePlan", Handler: generatePlanHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "lessonplan.proto",
}

// RegisterPlanServer registers srv on s.
func RegisterPlanServer(s grpc.ServiceRegistrar, srv PlanServer) {
	s.RegisterService(&planServiceDesc, srv)
}
