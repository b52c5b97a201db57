package lessonplan

import (
	"context"
	"net"
	"sync"
	"testing"

	"github.com/ashureev/tutorlive/internal/domain"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"
)

type stubPlanServer struct {
	mu   sync.Mutex
	last map[string]any
	resp map[string]any
}

func (s *stubPlanServer) GeneratePlan(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	s.mu.Lock()
	s.last = req.AsMap()
	resp := s.resp
	s.mu.Unlock()
	return structpb.NewStruct(resp)
}

func (s *stubPlanServer) request() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func startPlanServer(t *testing.T, stub *stubPlanServer) string {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := grpc.NewServer()
	RegisterPlanServer(srv, stub)
	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)

	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)
	return lis.Addr().String()
}

func TestGrpcPlanner(t *testing.T) {
	t.Parallel()

	stub := &stubPlanServer{resp: map[string]any{
		"plan": map[string]any{
			"title":         "Leaves",
			"key_questions": []any{"Why green?", "Where does it go?"},
		},
	}}
	addr := startPlanServer(t, stub)

	p, err := NewGrpcPlanner(addr, nil)
	if err != nil {
		t.Fatalf("NewGrpcPlanner() error = %v", err)
	}
	t.Cleanup(p.Close)

	if err := p.Health(context.Background()); err != nil {
		t.Fatalf("Health() error = %v", err)
	}

	plan, err := p.GeneratePlan(context.Background(), domain.LessonPlanRequest{
		LearnerID:      "learner-1",
		Topic:          "Leaves",
		PriorKnowledge: "they fall",
		Profile:        &domain.LearnerProfile{GradeLevel: "4", Interests: []string{"trees"}},
	})
	if err != nil {
		t.Fatalf("GeneratePlan() error = %v", err)
	}
	if plan == nil || plan.Title != "Leaves" || len(plan.KeyQuestions) != 2 {
		t.Fatalf("unexpected plan %+v", plan)
	}

	req := stub.request()
	if req["topic"] != "Leaves" || req["grade_level"] != "4" || req["prior_knowledge"] != "they fall" {
		t.Fatalf("unexpected request %v", req)
	}
	if interests, ok := req["interests"].([]any); !ok || len(interests) != 1 || interests[0] != "trees" {
		t.Fatalf("interests = %v", req["interests"])
	}
}

func TestGrpcPlannerNoPlan(t *testing.T) {
	t.Parallel()

	addr := startPlanServer(t, &stubPlanServer{resp: map[string]any{}})
	p, err := NewGrpcPlanner(addr, nil)
	if err != nil {
		t.Fatalf("NewGrpcPlanner() error = %v", err)
	}
	t.Cleanup(p.Close)

	plan, err := p.GeneratePlan(context.Background(), domain.LessonPlanRequest{Topic: "x"})
	if plan != nil || err != nil {
		t.Fatalf("GeneratePlan() = %v, %v; want nil, nil", plan, err)
	}
}
