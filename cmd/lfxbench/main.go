// Command lfxbench drives a full pacer/idle/waiter/orchestrator stack
// against a synthetic GPU, printing the average observed per-frame
// latency and frame time. It exists to reproduce the scenarios used to
// validate the pacing algorithm without needing a real GPU-hooked
// application.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math/rand"
	"os"
	"time"

	"github.com/ishitatsuyuki/LatencyFleX/config"
	"github.com/ishitatsuyuki/LatencyFleX/gpuapi"
	"github.com/ishitatsuyuki/LatencyFleX/internal/idle"
	"github.com/ishitatsuyuki/LatencyFleX/internal/lifecycle"
	"github.com/ishitatsuyuki/LatencyFleX/internal/pacer"
	"github.com/ishitatsuyuki/LatencyFleX/internal/waiter"
	"github.com/ishitatsuyuki/LatencyFleX/telemetry"
)

var (
	configFile   = flag.String("config", "", "optional YAML config file (overrides env vars)")
	frames       = flag.Int("frames", 600, "number of simulated frames to run")
	gpuLatencyMs = flag.Float64("gpu-latency-ms", 20, "mean simulated GPU submit-to-completion time")
	gpuJitterMs  = flag.Float64("gpu-jitter-ms", 2, "uniform jitter added to gpu-latency-ms")
	placebo      = flag.Bool("placebo", false, "disable pacing (overrides config)")
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *placebo {
		cfg.Placebo = true
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	p := pacer.NewGuarded()
	p.SetTrace(cfg.Trace)
	p.SetTargetFrameTime(pacer.Clock(cfg.TargetFrameTimeNanos()))

	it := idle.New()
	sink := &collectingSink{}
	w := waiter.New(p, it, telemetry.Adapt(sink), logger)
	defer w.Close()

	dev := &syntheticDevice{
		meanLatency: time.Duration(*gpuLatencyMs * float64(time.Millisecond)),
		jitter:      time.Duration(*gpuJitterMs * float64(time.Millisecond)),
		rng:         rand.New(rand.NewSource(1)),
	}
	orch := lifecycle.New(p, it, nil, logger)
	orch.Placebo = cfg.Placebo

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	run(ctx, orch, dev, w, *frames)

	time.Sleep(100 * time.Millisecond) // let the last few completions drain
	sink.Report()
}

func loadConfig() (config.Config, error) {
	if *configFile != "" {
		return config.LoadFile(*configFile)
	}
	return config.FromEnv()
}

func run(ctx context.Context, orch *lifecycle.Orchestrator, dev gpuapi.Device, w *waiter.Waiter, n int) {
	for i := 0; i < n; i++ {
		select {
		case <-ctx.Done():
			return
		default:
		}
		orch.WaitAndBeginFrame()
		orch.QueuePresentIntercept(dev, w)
	}
}

// syntheticDevice simulates a GPU whose sentinels signal after a
// jittered fixed latency, standing in for a real gpuapi.Device.
type syntheticDevice struct {
	meanLatency time.Duration
	jitter      time.Duration
	rng         *rand.Rand
}

func (d *syntheticDevice) CreateSentinel() (gpuapi.Sentinel, error) {
	offset := time.Duration((d.rng.Float64()*2 - 1) * float64(d.jitter))
	return &syntheticSentinel{delay: d.meanLatency + offset}, nil
}

func (d *syntheticDevice) SubmitPresentSync(gpuapi.Sentinel) error {
	return nil
}

type syntheticSentinel struct{ delay time.Duration }

func (s *syntheticSentinel) Wait(ctx context.Context) error {
	timer := time.NewTimer(s.delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *syntheticSentinel) Destroy() {}

// collectingSink accumulates telemetry.Frame values so the run can
// print a summary at the end instead of a line per frame.
type collectingSink struct {
	count        int
	latencySum   float64
	frameTimeSum float64
	frameTimeN   int
}

func (s *collectingSink) Observe(f telemetry.Frame) {
	s.count++
	s.latencySum += float64(f.Latency) / 1e6
	if f.HasFrameTime {
		s.frameTimeSum += float64(f.FrameTime) / 1e6
		s.frameTimeN++
	}
}

func (s *collectingSink) Report() {
	if s.count == 0 {
		fmt.Println("no frames completed")
		return
	}
	avgLatency := s.latencySum / float64(s.count)
	var avgFrameTime float64
	if s.frameTimeN > 0 {
		avgFrameTime = s.frameTimeSum / float64(s.frameTimeN)
	}
	fmt.Printf("frames completed: %d\n", s.count)
	fmt.Printf("avg latency:      %.3f ms\n", avgLatency)
	fmt.Printf("avg frame time:   %.3f ms (%.1f fps)\n", avgFrameTime, 1000/avgFrameTime)
}
