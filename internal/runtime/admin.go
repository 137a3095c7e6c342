package runtime

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

type hostStatus struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	MemoryUsedMB  uint64  `json:"memory_used_mb"`
}

type statusReport struct {
	Runtime     string     `json:"runtime"`
	Environment string     `json:"environment"`
	Ready       bool       `json:"ready"`
	UptimeSec   float64    `json:"uptime_seconds"`
	STTMode     string     `json:"stt_mode"`
	LLMMode     string     `json:"llm_mode"`
	TTSMode     string     `json:"tts_mode"`
	EventStore  bool       `json:"event_store"`
	Bus         string     `json:"bus"`
	Host        hostStatus `json:"host"`
}

func (r *Runtime) adminHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	mux.HandleFunc("/statusz", r.handleStatus)
	if r.telemetry != nil && r.telemetry.metrics != nil {
		mux.Handle("/metrics", r.telemetry.metrics)
	}
	return mux
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) handleStatus(w http.ResponseWriter, _ *http.Request) {
	report := statusReport{
		Runtime:     r.cfg.RuntimeName,
		Environment: r.cfg.Environment,
		Ready:       r.ready.Load(),
		STTMode:     r.cfg.STT.Mode,
		LLMMode:     r.cfg.LLM.Mode,
		TTSMode:     r.cfg.TTS.Mode,
		EventStore:  r.store != nil && r.store.Enabled(),
		Bus:         r.busState(),
		Host:        r.hostStatus(),
	}
	if !r.started.IsZero() {
		report.UptimeSec = time.Since(r.started).Seconds()
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(report); err != nil {
		r.logger.Warn("failed to write status", slog.String("error", err.Error()))
	}
}

func (r *Runtime) busState() string {
	switch {
	case !r.cfg.Bus.Enabled:
		return "disabled"
	case r.bus.Healthy():
		return "connected"
	default:
		return "disconnected"
	}
}

// hostStatus samples CPU and memory; a failed probe leaves its fields zero.
func (r *Runtime) hostStatus() hostStatus {
	var st hostStatus
	if percentages, err := cpu.Percent(0, false); err == nil && len(percentages) > 0 {
		st.CPUPercent = percentages[0]
	} else if err != nil {
		r.logger.Debug("cpu probe failed", slog.String("error", err.Error()))
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		st.MemoryPercent = vm.UsedPercent
		st.MemoryUsedMB = vm.Used / (1 << 20)
	} else {
		r.logger.Debug("memory probe failed", slog.String("error", err.Error()))
	}
	return st
}
