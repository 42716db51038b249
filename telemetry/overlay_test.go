package telemetry

import "testing"

func TestOverlaySink_ObserveNoOpWithoutRegistration(t *testing.T) {
	s := NewOverlaySink()
	s.Observe(Frame{FrameID: 1, Latency: 20_000_000, FrameTime: 16_667_000})
}

func TestOverlaySink_ForwardsToRegisteredFunc(t *testing.T) {
	s := NewOverlaySink()
	var gotNames []string
	var gotValues []float32
	s.Register(func(names []string, values []float32) {
		gotNames = names
		gotValues = values
	})

	s.Observe(Frame{FrameID: 1, Latency: 20_000_000, FrameTime: 16_667_000, HasFrameTime: true})

	if len(gotNames) != 2 || len(gotValues) != 2 {
		t.Fatalf("Observe() reported %d metrics, want 2: names=%v values=%v", len(gotNames), gotNames, gotValues)
	}
	if gotNames[0] != "latency_ms" || gotValues[0] != 20 {
		t.Errorf("metric 0 = %s=%v, want latency_ms=20", gotNames[0], gotValues[0])
	}
	if gotNames[1] != "frame_time_ms" || gotValues[1] <= 16.6 || gotValues[1] >= 16.7 {
		t.Errorf("metric 1 = %s=%v, want frame_time_ms~=16.667", gotNames[1], gotValues[1])
	}
}

func TestOverlaySink_OmitsFrameTimeWhenAbsent(t *testing.T) {
	s := NewOverlaySink()
	var gotNames []string
	s.Register(func(names []string, values []float32) {
		gotNames = names
	})

	s.Observe(Frame{FrameID: 1, Latency: 20_000_000, HasFrameTime: false})

	if len(gotNames) != 1 || gotNames[0] != "latency_ms" {
		t.Errorf("Observe() names = %v, want just [latency_ms] when HasFrameTime is false", gotNames)
	}
}

func TestOverlaySink_ResolveUnknownSymbol(t *testing.T) {
	s := NewOverlaySink()
	s.Register(func([]string, []float32) {})
	if s.Resolve("something_else") != nil {
		t.Errorf("Resolve(unknown symbol) should return nil")
	}
	if s.Resolve("overlay_SetMetrics") == nil {
		t.Errorf("Resolve(overlay_SetMetrics) should return the registered func")
	}
}
